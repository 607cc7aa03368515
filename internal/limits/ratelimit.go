package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AdmissionLimiter rate limits connection attempts before the WebSocket
// upgrade is attempted.
//
// Two levels: a per-IP token bucket stops one peer from flooding the
// gateway, a global bucket caps system-wide connection churn. Both use
// golang.org/x/time/rate.
type AdmissionLimiter struct {
	ipLimiters map[string]*ipEntry
	ipMu       sync.Mutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// AdmissionLimiterConfig configures an AdmissionLimiter. Zero values
// fall back to defaults suited for a single gateway process.
type AdmissionLimiterConfig struct {
	IPBurst int     // max burst connections per IP (default 10)
	IPRate  float64 // sustained connections/sec per IP (default 1.0)
	IPTTL   time.Duration

	GlobalBurst int     // max burst connections process-wide (default 300)
	GlobalRate  float64 // sustained connections/sec process-wide (default 50.0)

	Logger zerolog.Logger
}

func NewAdmissionLimiter(config AdmissionLimiterConfig) *AdmissionLimiter {
	if config.IPBurst == 0 {
		config.IPBurst = 10
	}
	if config.IPRate == 0 {
		config.IPRate = 1.0
	}
	if config.IPTTL == 0 {
		config.IPTTL = 5 * time.Minute
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 300
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 50.0
	}

	l := &AdmissionLimiter{
		ipLimiters:    make(map[string]*ipEntry),
		ipBurst:       config.IPBurst,
		ipRate:        config.IPRate,
		ipTTL:         config.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		logger:        config.Logger.With().Str("component", "admission_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(1 * time.Minute)
	go l.cleanupLoop()

	return l
}

// Allow reports whether a connection attempt from ip may proceed.
// The global bucket is checked first so a distributed flood is rejected
// without touching the per-IP map.
func (l *AdmissionLimiter) Allow(ip string) bool {
	if !l.globalLimiter.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: global rate limit")
		return false
	}

	if !l.ipLimiter(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: per-IP rate limit")
		return false
	}

	return true
}

func (l *AdmissionLimiter) ipLimiter(ip string) *rate.Limiter {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if entry, ok := l.ipLimiters[ip]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)
	l.ipLimiters[ip] = &ipEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (l *AdmissionLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

// cleanup drops per-IP limiters not seen within the TTL so the map does
// not grow without bound.
func (l *AdmissionLimiter) cleanup() {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	now := time.Now()
	for ip, entry := range l.ipLimiters {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ipLimiters, ip)
		}
	}
}

// Stop terminates the cleanup goroutine. Call during shutdown.
func (l *AdmissionLimiter) Stop() {
	close(l.stopCleanup)
}
