package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/tessera-games/shardgate/internal/aggregator"
	"github.com/tessera-games/shardgate/internal/config"
	"github.com/tessera-games/shardgate/internal/gateway"
	"github.com/tessera-games/shardgate/internal/limits"
	"github.com/tessera-games/shardgate/internal/monitoring"
	"github.com/tessera-games/shardgate/internal/placement"
	"github.com/tessera-games/shardgate/internal/population"
	"github.com/tessera-games/shardgate/internal/shard"
	"github.com/tessera-games/shardgate/internal/status"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Aggregator is optional: without it, placement falls back to
	// sequential local fill and the synchronizer works purely on local
	// counts.
	var agg aggregator.Aggregator
	var natsAgg *aggregator.NATSAggregator
	if cfg.AggregatorEnabled {
		natsAgg, err = aggregator.ConnectNATS(aggregator.NATSConfig{
			URL:    cfg.NATSURL,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to aggregator")
		}
		agg = natsAgg
	}

	shards := make([]*shard.Shard, cfg.ShardCount)
	for i := range shards {
		shards[i] = shard.New(fmt.Sprintf("world-%d", i), cfg.ShardCapacity, logger)
	}

	coordinator := placement.NewCoordinator(shards, agg, logger)

	synchronizer := population.NewSynchronizer(population.Config{
		Shards:       shards,
		Aggregator:   agg,
		Interval:     cfg.SyncInterval,
		TimerEnabled: cfg.SyncTimerEnabled,
		QueryTimeout: cfg.AggregatorTimeout,
		Logger:       logger,
	})
	go synchronizer.Run(ctx)

	reporter := status.NewReporter(logger)

	var limiter *limits.AdmissionLimiter
	if cfg.ConnRateLimitEnabled {
		limiter = limits.NewAdmissionLimiter(limits.AdmissionLimiterConfig{
			IPBurst:     cfg.ConnRateIPBurst,
			IPRate:      cfg.ConnRateIPRate,
			GlobalBurst: cfg.ConnRateGlobalBurst,
			GlobalRate:  cfg.ConnRateGlobalRate,
			Logger:      logger,
		})
	}

	gw := gateway.New(gateway.Config{
		MaxConnections: cfg.MaxConnections,
		Limiter:        limiter,
		Reporter:       reporter,
		Logger:         logger,
	})
	gw.OnStatusRequest(synchronizer.Snapshot)
	gw.OnError(func(err error) {
		logger.Error().Err(err).Msg("Gateway transport error")
	})

	// Default onboarding: greet the peer with its shard assignment and
	// count it out again when the channel closes.
	for _, sh := range shards {
		sh := sh
		sh.SetOnboarder(func(p shard.Peer) {
			p.OnClose(func(string) { sh.Release() })
			p.Send(map[string]any{
				"type":  "assigned",
				"shard": sh.Name(),
			})
		})
	}

	gw.OnConnect(func(ch *gateway.Channel) {
		pctx, pcancel := context.WithTimeout(ctx, cfg.AggregatorTimeout)
		defer pcancel()

		if _, err := coordinator.Place(pctx, ch); err != nil {
			if errors.Is(err, placement.ErrExhausted) {
				ch.Send(map[string]any{
					"type":    "error",
					"code":    "WORLD_FULL",
					"message": "All worlds are at capacity, try again later",
				})
				ch.Close("All worlds are full")
				return
			}
			logger.Error().Err(err).Str("channel_id", ch.ID()).Msg("Placement failed")
			ch.Close("Placement failed")
			return
		}

		ch.OnMessage(func(msg json.RawMessage) {
			// Application traffic is consumed by the shard simulation;
			// the gateway only answers heartbeats itself.
			var req struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &req); err == nil && req.Type == "heartbeat" {
				ch.Send(map[string]any{"type": "pong", "ts": time.Now().UnixMilli()})
			}
		})
	})

	systemMonitor := monitoring.NewSystemMonitor(cfg.MetricsInterval, logger)
	go systemMonitor.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleUpgrade)
	mux.Handle("/status", reporter)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("Gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")

	// Stop accepting upgrades and tell every peer why, then cancel the
	// root context so pending aggregator calls abort instead of
	// outliving the process.
	gw.Shutdown("Server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown error")
	}

	if limiter != nil {
		limiter.Stop()
	}
	if natsAgg != nil {
		natsAgg.Close()
	}

	logger.Info().Msg("Shutdown complete")
}
