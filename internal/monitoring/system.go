package monitoring

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMonitor samples host CPU and memory on a fixed interval and
// exports the readings as Prometheus gauges. It exists so operators can
// correlate connection churn with resource pressure without a separate
// node exporter on small deployments.
type SystemMonitor struct {
	interval time.Duration
	logger   zerolog.Logger
}

func NewSystemMonitor(interval time.Duration, logger zerolog.Logger) *SystemMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMonitor{
		interval: interval,
		logger:   logger.With().Str("component", "system_monitor").Logger(),
	}
}

// Run blocks until ctx is cancelled. Call it in its own goroutine.
func (m *SystemMonitor) Run(ctx context.Context) {
	defer RecoverPanic(m.logger, "systemMonitor", nil)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *SystemMonitor) sample() {
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))

	// cpu.Percent with zero interval reports usage since the last call
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		SystemCPUPercent.Set(percents[0])
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("CPU sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		SystemMemoryUsedBytes.Set(float64(vm.Used))
	} else {
		m.logger.Debug().Err(err).Msg("Memory sample failed")
	}
}
