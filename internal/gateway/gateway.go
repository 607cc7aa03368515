package gateway

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/tessera-games/shardgate/internal/limits"
	"github.com/tessera-games/shardgate/internal/monitoring"
	"github.com/tessera-games/shardgate/internal/status"
)

// Identity format: a fixed marker digit, a fixed-width random
// component, and a monotonically increasing per-process counter. The
// fixed width keeps the counter suffix unambiguous, so identities are
// unique for one process's lifetime; deployments spanning processes
// need a global scheme instead.
const (
	idMarker      = "5"
	idRandomBound = 100000
)

// Gateway accepts raw sockets, wraps them into message channels,
// registers them, and emits lifecycle events to its subscribers.
type Gateway struct {
	logger   zerolog.Logger
	registry *Registry
	limiter  *limits.AdmissionLimiter // nil disables admission limiting
	reporter *status.Reporter         // nil disables status delegation

	maxConnections int
	seq            atomic.Uint64
	shuttingDown   atomic.Bool

	mu        sync.RWMutex
	onConnect func(c *Channel)
	onError   func(err error)
}

type Config struct {
	// MaxConnections caps live channels across all shards. Zero means
	// no ceiling.
	MaxConnections int
	Limiter        *limits.AdmissionLimiter
	Reporter       *status.Reporter
	Logger         zerolog.Logger
}

func New(cfg Config) *Gateway {
	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	return &Gateway{
		logger:         logger,
		registry:       NewRegistry(cfg.Logger),
		limiter:        cfg.Limiter,
		reporter:       cfg.Reporter,
		maxConnections: cfg.MaxConnections,
	}
}

// Registry exposes the live-connection registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// OnConnect registers the subscriber invoked for every new channel,
// after registration and before any frame is read. That subscriber is
// where placement happens.
func (g *Gateway) OnConnect(fn func(c *Channel)) {
	g.mu.Lock()
	g.onConnect = fn
	g.mu.Unlock()
}

// OnError registers the subscriber for transport-level errors. Without
// one, errors are logged. Per-connection errors never terminate the
// process.
func (g *Gateway) OnError(fn func(err error)) {
	g.mu.Lock()
	g.onError = fn
	g.mu.Unlock()
}

// OnStatusRequest delegates distribution snapshot serialization to the
// status reporter.
func (g *Gateway) OnStatusRequest(provider func() []int) {
	if g.reporter != nil {
		g.reporter.SetProvider(provider)
	}
}

// HandleUpgrade is the HTTP handler for the WebSocket endpoint.
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	defer monitoring.RecoverPanic(g.logger, "handleUpgrade", nil)

	if g.shuttingDown.Load() {
		monitoring.ConnectionsRejected.WithLabelValues("shutting_down").Inc()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if g.limiter != nil && !g.limiter.Allow(ip) {
		monitoring.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if g.maxConnections > 0 && g.registry.Len() >= g.maxConnections {
		monitoring.ConnectionsRejected.WithLabelValues("capacity").Inc()
		g.logger.Warn().
			Str("client_ip", ip).
			Int("max_connections", g.maxConnections).
			Msg("Connection rejected: at capacity")
		http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		monitoring.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		g.reportError(fmt.Errorf("websocket upgrade from %s: %w", ip, err))
		return
	}

	id := g.nextID()
	ch := newChannel(id, conn, g.logger, g.reportError, func(c *Channel) {
		g.registry.Unregister(c.ID())
		monitoring.ConnectionsActive.Dec()
		g.logger.Info().Str("channel_id", c.ID()).Msg("Channel closed")
	})

	g.registry.Register(ch)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Inc()

	g.logger.Info().
		Str("channel_id", id).
		Str("client_ip", ip).
		Int("active", g.registry.Len()).
		Msg("Channel connected")

	g.mu.RLock()
	onConnect := g.onConnect
	g.mu.RUnlock()
	if onConnect != nil {
		onConnect(ch)
	}

	ch.start()
}

// Shutdown stops accepting upgrades and closes every live channel with
// the given reason.
func (g *Gateway) Shutdown(reason string) {
	g.shuttingDown.Store(true)
	g.registry.ForEach(func(s Session) {
		if ch, ok := s.(*Channel); ok {
			ch.Close(reason)
		}
	})
}

func (g *Gateway) nextID() string {
	return fmt.Sprintf("%s%05d%d", idMarker, rand.IntN(idRandomBound), g.seq.Add(1))
}

func (g *Gateway) reportError(err error) {
	g.mu.RLock()
	onError := g.onError
	g.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	g.logger.Error().Err(err).Msg("Transport error")
}

// clientIP extracts the peer IP, preferring X-Forwarded-For when the
// gateway sits behind a proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
