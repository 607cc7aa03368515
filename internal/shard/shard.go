// Package shard models a single game simulation instance as seen by the
// gateway: a named unit with a capacity, a live population count, and an
// onboarding entry point that consumes newly placed peers. The
// simulation itself lives elsewhere; the gateway only counts heads.
package shard

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tessera-games/shardgate/internal/monitoring"
)

// Peer is the view of a placed connection a shard needs: enough to greet
// it and to find out when it goes away.
type Peer interface {
	ID() string
	Send(v any)
	OnClose(fn func(reason string))
}

// Shard tracks population against capacity for one simulation instance.
//
// All population mutation goes through the shard's mutex so a placement
// that observes a free slot and the increment that claims it are one
// atomic step. Change subscribers are invoked synchronously under no
// lock, after the count has been updated.
type Shard struct {
	name     string
	capacity int

	mu         sync.Mutex
	population int
	open       bool

	onChange     []func(population int)
	onboard      func(p Peer)
	totalDisplay func(total int)

	logger zerolog.Logger
}

func New(name string, capacity int, logger zerolog.Logger) *Shard {
	return &Shard{
		name:     name,
		capacity: capacity,
		open:     true,
		logger:   logger.With().Str("shard", name).Logger(),
	}
}

func (s *Shard) Name() string  { return s.name }
func (s *Shard) Capacity() int { return s.capacity }

func (s *Shard) Population() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.population
}

// Open reports whether the shard currently accepts new placements.
func (s *Shard) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Shard) SetOpen(open bool) {
	s.mu.Lock()
	s.open = open
	s.mu.Unlock()
}

// OnPopulationChange subscribes to population updates. Subscribers are
// called with the new count after every Admit/TryAdmit/Release.
// Registration happens during wiring, before traffic flows.
func (s *Shard) OnPopulationChange(fn func(population int)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// SetOnboarder installs the entry point that consumes placed peers.
func (s *Shard) SetOnboarder(fn func(p Peer)) {
	s.mu.Lock()
	s.onboard = fn
	s.mu.Unlock()
}

// SetTotalDisplay installs the hook the synchronizer pushes the global
// player total through (e.g. a lobby population readout).
func (s *Shard) SetTotalDisplay(fn func(total int)) {
	s.mu.Lock()
	s.totalDisplay = fn
	s.mu.Unlock()
}

// ShowTotal forwards the externally reported global total to the display
// hook, if one is installed.
func (s *Shard) ShowTotal(total int) {
	s.mu.Lock()
	display := s.totalDisplay
	s.mu.Unlock()

	if display != nil {
		display(total)
	}
}

// TryAdmit counts the peer in if a slot is free and hands it to the
// onboarder. The capacity check and the increment are one atomic step:
// two concurrent placements can never both claim the last slot.
func (s *Shard) TryAdmit(p Peer) bool {
	s.mu.Lock()
	if !s.open || s.population >= s.capacity {
		s.mu.Unlock()
		return false
	}
	s.population++
	pop, subs, onboard := s.population, s.onChange, s.onboard
	s.mu.Unlock()

	s.admitted(p, pop, subs, onboard)
	return true
}

// Admit counts the peer in without a capacity check. Used by
// metrics-driven placement, where the aggregator already enforced that
// the shard is open.
func (s *Shard) Admit(p Peer) {
	s.mu.Lock()
	s.population++
	pop, subs, onboard := s.population, s.onChange, s.onboard
	s.mu.Unlock()

	s.admitted(p, pop, subs, onboard)
}

func (s *Shard) admitted(p Peer, pop int, subs []func(int), onboard func(Peer)) {
	monitoring.ShardPopulation.WithLabelValues(s.name).Set(float64(pop))
	s.logger.Debug().Str("channel_id", p.ID()).Int("population", pop).Msg("Peer admitted")

	for _, fn := range subs {
		fn(pop)
	}
	if onboard != nil {
		onboard(p)
	}
}

// Release counts a peer out after its channel closed.
func (s *Shard) Release() {
	s.mu.Lock()
	if s.population == 0 {
		s.mu.Unlock()
		s.logger.Error().Msg("Release called on empty shard")
		return
	}
	s.population--
	pop, subs := s.population, s.onChange
	s.mu.Unlock()

	monitoring.ShardPopulation.WithLabelValues(s.name).Set(float64(pop))

	for _, fn := range subs {
		fn(pop)
	}
}
