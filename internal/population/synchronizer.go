// Package population keeps local shard occupancy and the external
// aggregator in agreement, and owns the distribution snapshot the
// status endpoint serves.
package population

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tessera-games/shardgate/internal/aggregator"
	"github.com/tessera-games/shardgate/internal/monitoring"
	"github.com/tessera-games/shardgate/internal/shard"
)

// Synchronizer reconciles per-shard populations with the aggregator.
//
// Two paths, deliberately decoupled:
//
//   - event-driven: every shard population change recomputes the
//     distribution snapshot immediately and pushes it to the aggregator.
//   - timer-driven: on a fixed interval the global player total is
//     polled and, only when it changed, fanned out to every shard's
//     display hook. The timer path smooths update frequency toward the
//     shards and can be disabled in config.
//
// All aggregator round-trips happen on the synchronizer's single run
// goroutine; shard events only nudge it through a channel.
type Synchronizer struct {
	shards       []*shard.Shard
	agg          aggregator.Aggregator // nil disables both aggregator paths
	interval     time.Duration
	timerEnabled bool
	queryTimeout time.Duration

	lastTotal int

	events   chan struct{}
	snapshot atomic.Value // []int

	logger zerolog.Logger
}

type Config struct {
	Shards       []*shard.Shard
	Aggregator   aggregator.Aggregator
	Interval     time.Duration // default 1s
	TimerEnabled bool
	QueryTimeout time.Duration // per aggregator round-trip, default 2s
	Logger       zerolog.Logger
}

func NewSynchronizer(cfg Config) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Second
	}

	s := &Synchronizer{
		shards:       cfg.Shards,
		agg:          cfg.Aggregator,
		interval:     cfg.Interval,
		timerEnabled: cfg.TimerEnabled,
		queryTimeout: cfg.QueryTimeout,
		// Buffered so a burst of population changes collapses into one
		// pending recompute instead of blocking the shard.
		events: make(chan struct{}, 1),
		logger: cfg.Logger.With().Str("component", "population_sync").Logger(),
	}
	s.snapshot.Store(s.computeDistribution())

	for _, sh := range cfg.Shards {
		sh.OnPopulationChange(func(int) { s.notify() })
	}

	return s
}

// Snapshot returns the latest distribution: one count per shard, in
// shard creation order. The returned slice is immutable.
func (s *Synchronizer) Snapshot() []int {
	return s.snapshot.Load().([]int)
}

// notify nudges the run loop. Non-blocking: a pending nudge already
// covers this change.
func (s *Synchronizer) notify() {
	select {
	case s.events <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Call it in its own goroutine.
func (s *Synchronizer) Run(ctx context.Context) {
	defer monitoring.RecoverPanic(s.logger, "populationSync", nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.events:
			s.republish(ctx)
		case <-ticker.C:
			if s.timerEnabled {
				s.pollTotal(ctx)
			}
		}
	}
}

// republish recomputes the snapshot and pushes it to the aggregator.
func (s *Synchronizer) republish(ctx context.Context) {
	counts := s.computeDistribution()
	s.snapshot.Store(counts)

	if s.agg == nil {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if err := s.agg.PublishDistribution(qctx, counts); err != nil {
		s.logger.Warn().Err(err).Msg("Distribution push skipped")
	}
}

// pollTotal queries the global total and fans it out to the shards'
// display hooks only when it changed since the last observation.
func (s *Synchronizer) pollTotal(ctx context.Context) {
	if s.agg == nil {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	total, err := s.agg.TotalPlayers(qctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Total players poll skipped")
		return
	}

	if total == s.lastTotal {
		return
	}
	s.lastTotal = total

	for _, sh := range s.shards {
		sh.ShowTotal(total)
	}

	s.logger.Debug().Int("total_players", total).Msg("Global total updated")
}

func (s *Synchronizer) computeDistribution() []int {
	counts := make([]int, len(s.shards))
	for i, sh := range s.shards {
		counts[i] = sh.Population()
	}
	return counts
}
