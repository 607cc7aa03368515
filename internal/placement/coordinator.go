// Package placement decides which shard receives each newly connected
// peer.
package placement

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tessera-games/shardgate/internal/aggregator"
	"github.com/tessera-games/shardgate/internal/monitoring"
	"github.com/tessera-games/shardgate/internal/shard"
)

// ErrExhausted is returned by local-fill placement when every shard is
// at capacity. Callers surface it to the peer instead of overfilling a
// shard.
var ErrExhausted = errors.New("placement exhausted: no shard has spare capacity")

// Policy names, used for logging and metrics labels.
const (
	policyMetrics   = "metrics"
	policyLocalFill = "local_fill"
)

// Coordinator assigns peers to shards using one of two policies,
// selected by whether an aggregator is configured:
//
//   - metrics-driven: ask the aggregator how many shards are open, then
//     pick the least populated among the first k in creation order,
//     ties to the earliest.
//   - sequential local fill: first shard in creation order with a free
//     slot; none free is an explicit ErrExhausted, never a crash.
type Coordinator struct {
	shards []*shard.Shard
	agg    aggregator.Aggregator // nil selects local fill
	logger zerolog.Logger
}

func NewCoordinator(shards []*shard.Shard, agg aggregator.Aggregator, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		shards: shards,
		agg:    agg,
		logger: logger.With().Str("component", "placement").Logger(),
	}
}

// Place selects a shard for p and hands it off to the shard's
// onboarding entry point. The returned shard has already counted the
// peer; the caller must arrange a matching Release when the channel
// closes.
//
// With the metrics policy the aggregator round-trip happens before the
// commit step, so concurrently pending placements complete in no
// particular order.
func (c *Coordinator) Place(ctx context.Context, p shard.Peer) (*shard.Shard, error) {
	if c.agg != nil {
		return c.placeByMetrics(ctx, p)
	}
	return c.placeLocalFill(p)
}

func (c *Coordinator) placeByMetrics(ctx context.Context, p shard.Peer) (*shard.Shard, error) {
	k, err := c.agg.OpenShardCount(ctx)
	if err != nil {
		// Degrade: treat every locally open shard as eligible.
		c.logger.Warn().Err(err).Msg("Open shard count unavailable, using local view")
		k = len(c.shards)
	}
	if k > len(c.shards) {
		k = len(c.shards)
	}

	var selected *shard.Shard
	for _, s := range c.shards[:k] {
		if !s.Open() {
			continue
		}
		// Strict less keeps ties on the earliest-created shard.
		if selected == nil || s.Population() < selected.Population() {
			selected = s
		}
	}
	if selected == nil {
		monitoring.Placements.WithLabelValues(policyMetrics, "exhausted").Inc()
		return nil, ErrExhausted
	}

	selected.Admit(p)
	monitoring.Placements.WithLabelValues(policyMetrics, "placed").Inc()
	c.logger.Debug().
		Str("channel_id", p.ID()).
		Str("shard", selected.Name()).
		Int("open_shards", k).
		Msg("Peer placed by metrics")
	return selected, nil
}

func (c *Coordinator) placeLocalFill(p shard.Peer) (*shard.Shard, error) {
	for _, s := range c.shards {
		if s.TryAdmit(p) {
			monitoring.Placements.WithLabelValues(policyLocalFill, "placed").Inc()
			c.logger.Debug().
				Str("channel_id", p.ID()).
				Str("shard", s.Name()).
				Msg("Peer placed by local fill")
			return s, nil
		}
	}

	monitoring.Placements.WithLabelValues(policyLocalFill, "exhausted").Inc()
	c.logger.Warn().Str("channel_id", p.ID()).Msg("All shards at capacity")
	return nil, ErrExhausted
}
