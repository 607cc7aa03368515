// Package aggregator talks to the external counter service that tracks
// global player totals and shard openness across gateway processes.
package aggregator

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every transport-level aggregator failure.
// Callers treat it as "no change" and skip the affected step; it never
// fails a connection.
var ErrUnavailable = errors.New("aggregator unavailable")

// Aggregator is the gateway's view of the counter service.
//
// When multiple gateway processes share one aggregator, the aggregator
// is the single serialization point for global counts; it must provide
// atomic updates and consistent reads on its side.
type Aggregator interface {
	// OpenShardCount returns how many shards are currently accepting
	// placements, in creation order from the first.
	OpenShardCount(ctx context.Context) (int, error)

	// TotalPlayers returns the global player total across all processes.
	TotalPlayers(ctx context.Context) (int, error)

	// PublishDistribution pushes this process's per-shard population
	// counts, in shard creation order.
	PublishDistribution(ctx context.Context, counts []int) error
}
