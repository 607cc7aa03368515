package gateway

import (
	"sync"

	"github.com/rs/zerolog"
)

// Session is the registry's view of a live connection.
type Session interface {
	ID() string
	Send(v any)
}

// Registry owns the set of live message channels, keyed by identity.
//
// Insertion and removal are driven only by the gateway: a channel is
// registered right after a successful upgrade, while it is still open,
// and unregistered exactly once from its close notification.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	logger   zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a session. Called by the gateway only.
func (r *Registry) Register(s Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

// Unregister removes a session by identity. Called by the gateway only,
// from the channel's close notification.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Lookup returns the session with the given identity.
func (r *Registry) Lookup(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every registered session.
func (r *Registry) ForEach(fn func(s Session)) {
	for _, s := range r.snapshot() {
		fn(s)
	}
}

// Broadcast sends v to every registered session, best effort. A drop on
// one channel never aborts delivery to the rest; Send on a closing
// channel is already a no-op.
func (r *Registry) Broadcast(v any) {
	for _, s := range r.snapshot() {
		s.Send(v)
	}
}

// snapshot copies the session list so callbacks run without holding the
// registry lock.
func (r *Registry) snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
