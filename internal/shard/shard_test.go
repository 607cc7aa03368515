package shard

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct {
	id      string
	sent    []any
	onClose func(reason string)
}

func (p *stubPeer) ID() string                     { return p.id }
func (p *stubPeer) Send(v any)                     { p.sent = append(p.sent, v) }
func (p *stubPeer) OnClose(fn func(reason string)) { p.onClose = fn }

func TestShard_TryAdmit(t *testing.T) {
	s := New("world-0", 2, zerolog.Nop())

	require.True(t, s.TryAdmit(&stubPeer{id: "a"}))
	require.True(t, s.TryAdmit(&stubPeer{id: "b"}))
	assert.Equal(t, 2, s.Population())

	assert.False(t, s.TryAdmit(&stubPeer{id: "c"}), "full shard must reject")
	assert.Equal(t, 2, s.Population())
}

func TestShard_TryAdmitClosedShard(t *testing.T) {
	s := New("world-0", 2, zerolog.Nop())
	s.SetOpen(false)

	assert.False(t, s.TryAdmit(&stubPeer{id: "a"}))
	assert.Equal(t, 0, s.Population())
}

func TestShard_AdmitIgnoresCapacity(t *testing.T) {
	s := New("world-0", 1, zerolog.Nop())

	s.Admit(&stubPeer{id: "a"})
	s.Admit(&stubPeer{id: "b"})

	assert.Equal(t, 2, s.Population())
}

func TestShard_Release(t *testing.T) {
	s := New("world-0", 2, zerolog.Nop())
	require.True(t, s.TryAdmit(&stubPeer{id: "a"}))

	s.Release()
	assert.Equal(t, 0, s.Population())

	// Releasing below zero must not underflow.
	s.Release()
	assert.Equal(t, 0, s.Population())
}

func TestShard_PopulationChangeNotifications(t *testing.T) {
	s := New("world-0", 3, zerolog.Nop())

	var observed []int
	s.OnPopulationChange(func(population int) {
		observed = append(observed, population)
	})

	require.True(t, s.TryAdmit(&stubPeer{id: "a"}))
	require.True(t, s.TryAdmit(&stubPeer{id: "b"}))
	s.Release()

	assert.Equal(t, []int{1, 2, 1}, observed)
}

func TestShard_OnboarderReceivesPeer(t *testing.T) {
	s := New("world-0", 3, zerolog.Nop())

	var onboarded []string
	s.SetOnboarder(func(p Peer) {
		onboarded = append(onboarded, p.ID())
	})

	require.True(t, s.TryAdmit(&stubPeer{id: "a"}))
	s.Admit(&stubPeer{id: "b"})

	assert.Equal(t, []string{"a", "b"}, onboarded)
}

func TestShard_ShowTotal(t *testing.T) {
	s := New("world-0", 3, zerolog.Nop())

	// No display hook installed: must not panic.
	s.ShowTotal(10)

	var totals []int
	s.SetTotalDisplay(func(total int) {
		totals = append(totals, total)
	})

	s.ShowTotal(42)
	s.ShowTotal(43)

	assert.Equal(t, []int{42, 43}, totals)
}
