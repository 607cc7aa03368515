// Package status serves the current shard population distribution.
package status

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Reporter is an http.Handler that responds with the distribution
// snapshot as a JSON array of per-shard counts, e.g. [5,3,9]. With no
// provider registered it answers 404 instead of failing the request.
type Reporter struct {
	mu       sync.RWMutex
	provider func() []int
	logger   zerolog.Logger
}

func NewReporter(logger zerolog.Logger) *Reporter {
	return &Reporter{
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// SetProvider registers the snapshot source.
func (r *Reporter) SetProvider(fn func() []int) {
	r.mu.Lock()
	r.provider = fn
	r.mu.Unlock()
}

func (r *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	provider := r.provider
	r.mu.RUnlock()

	if provider == nil {
		http.NotFound(w, req)
		return
	}

	counts := provider()
	if counts == nil {
		counts = []int{}
	}

	data, err := json.Marshal(counts)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode distribution")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
