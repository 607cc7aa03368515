package population

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-games/shardgate/internal/shard"
)

type stubPeer struct {
	id string
}

func (p *stubPeer) ID() string                  { return p.id }
func (p *stubPeer) Send(any)                    {}
func (p *stubPeer) OnClose(func(reason string)) {}

type fakeAggregator struct {
	mu        sync.Mutex
	total     int
	totalErr  error
	published [][]int
}

func (f *fakeAggregator) OpenShardCount(context.Context) (int, error) {
	return 0, nil
}

func (f *fakeAggregator) TotalPlayers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.totalErr
}

func (f *fakeAggregator) PublishDistribution(_ context.Context, counts []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, counts)
	return nil
}

func (f *fakeAggregator) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeAggregator) setTotal(total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total = total
}

func makeShards(n, capacity int) []*shard.Shard {
	shards := make([]*shard.Shard, n)
	for i := range shards {
		shards[i] = shard.New(fmt.Sprintf("world-%d", i), capacity, zerolog.Nop())
	}
	return shards
}

func TestSynchronizer_SnapshotOrder(t *testing.T) {
	shards := makeShards(3, 10)
	s := NewSynchronizer(Config{Shards: shards, Logger: zerolog.Nop()})

	shards[0].Admit(&stubPeer{id: "a"})
	shards[0].Admit(&stubPeer{id: "b"})
	shards[2].Admit(&stubPeer{id: "c"})

	s.republish(context.Background())

	assert.Equal(t, []int{2, 0, 1}, s.Snapshot())
}

func TestSynchronizer_RepublishPushesDistribution(t *testing.T) {
	shards := makeShards(2, 10)
	agg := &fakeAggregator{}
	s := NewSynchronizer(Config{Shards: shards, Aggregator: agg, Logger: zerolog.Nop()})

	shards[1].Admit(&stubPeer{id: "a"})
	s.republish(context.Background())

	require.Equal(t, 1, agg.publishedCount())
	assert.Equal(t, []int{0, 1}, agg.published[0])
}

func TestSynchronizer_PollTotalIdempotent(t *testing.T) {
	shards := makeShards(2, 10)

	var mu sync.Mutex
	displayCalls := 0
	for _, sh := range shards {
		sh.SetTotalDisplay(func(int) {
			mu.Lock()
			displayCalls++
			mu.Unlock()
		})
	}

	agg := &fakeAggregator{total: 7}
	s := NewSynchronizer(Config{Shards: shards, Aggregator: agg, Logger: zerolog.Nop()})

	// First observation of a changed total: one update per shard.
	s.pollTotal(context.Background())
	assert.Equal(t, 2, displayCalls)

	// Unchanged total: no further updates.
	s.pollTotal(context.Background())
	s.pollTotal(context.Background())
	assert.Equal(t, 2, displayCalls)

	// Changed total: exactly one more update per shard.
	agg.setTotal(9)
	s.pollTotal(context.Background())
	assert.Equal(t, 4, displayCalls)
}

func TestSynchronizer_PollTotalSkipsOnError(t *testing.T) {
	shards := makeShards(1, 10)

	displayCalls := 0
	shards[0].SetTotalDisplay(func(int) { displayCalls++ })

	agg := &fakeAggregator{totalErr: fmt.Errorf("aggregator down")}
	s := NewSynchronizer(Config{Shards: shards, Aggregator: agg, Logger: zerolog.Nop()})

	s.pollTotal(context.Background())
	assert.Zero(t, displayCalls)

	// Recovery after the outage still produces the update.
	agg.mu.Lock()
	agg.totalErr = nil
	agg.total = 3
	agg.mu.Unlock()

	s.pollTotal(context.Background())
	assert.Equal(t, 1, displayCalls)
}

func TestSynchronizer_NoAggregatorOperatesLocally(t *testing.T) {
	shards := makeShards(2, 10)
	s := NewSynchronizer(Config{Shards: shards, Logger: zerolog.Nop()})

	shards[0].Admit(&stubPeer{id: "a"})
	s.republish(context.Background())
	s.pollTotal(context.Background())

	assert.Equal(t, []int{1, 0}, s.Snapshot())
}

func TestSynchronizer_EventDrivenPush(t *testing.T) {
	shards := makeShards(2, 10)
	agg := &fakeAggregator{}
	s := NewSynchronizer(Config{
		Shards:     shards,
		Aggregator: agg,
		Interval:   time.Hour, // keep the timer path out of this test
		Logger:     zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// A population change must reach the aggregator without waiting for
	// a tick.
	shards[0].Admit(&stubPeer{id: "a"})

	require.Eventually(t, func() bool {
		return agg.publishedCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int{1, 0}, s.Snapshot())
}
