package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tessera-games/shardgate/internal/monitoring"
)

// NATS subjects. Queries are request/reply with plain integer text
// replies; the distribution push is a fire-and-forget publish carrying a
// JSON array.
const (
	SubjectOpenShards   = "shardgate.worlds.open"
	SubjectTotalPlayers = "shardgate.players.total"
	SubjectDistribution = "shardgate.shards.distribution"
)

// NATSAggregator implements Aggregator over a NATS connection.
type NATSAggregator struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NATSConfig holds connection options for the aggregator client.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	Logger        zerolog.Logger
}

// ConnectNATS dials the counter service. Reconnects are handled by the
// NATS client; requests issued while disconnected fail with
// ErrUnavailable and the caller skips that cycle.
func ConnectNATS(cfg NATSConfig) (*NATSAggregator, error) {
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1 // retry forever
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "aggregator").Logger()

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("Disconnected from aggregator")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to aggregator")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to aggregator at %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to aggregator")
	return &NATSAggregator{conn: conn, logger: logger}, nil
}

func (a *NATSAggregator) OpenShardCount(ctx context.Context) (int, error) {
	return a.requestInt(ctx, SubjectOpenShards, "open_shard_count")
}

func (a *NATSAggregator) TotalPlayers(ctx context.Context) (int, error) {
	return a.requestInt(ctx, SubjectTotalPlayers, "total_players")
}

func (a *NATSAggregator) requestInt(ctx context.Context, subject, op string) (int, error) {
	msg, err := a.conn.RequestWithContext(ctx, subject, nil)
	if err != nil {
		monitoring.AggregatorErrors.WithLabelValues(op).Inc()
		return 0, fmt.Errorf("%w: %s request failed: %v", ErrUnavailable, op, err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(msg.Data)))
	if err != nil {
		monitoring.AggregatorErrors.WithLabelValues(op).Inc()
		return 0, fmt.Errorf("%w: %s reply %q is not an integer", ErrUnavailable, op, msg.Data)
	}

	return n, nil
}

func (a *NATSAggregator) PublishDistribution(ctx context.Context, counts []int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to encode distribution: %w", err)
	}

	if err := a.conn.Publish(SubjectDistribution, data); err != nil {
		monitoring.AggregatorErrors.WithLabelValues("publish_distribution").Inc()
		return fmt.Errorf("%w: distribution publish failed: %v", ErrUnavailable, err)
	}

	return nil
}

// Close drains the connection so a distribution push in flight still
// goes out before shutdown.
func (a *NATSAggregator) Close() {
	if a.conn == nil {
		return
	}
	if err := a.conn.Drain(); err != nil {
		a.logger.Warn().Err(err).Msg("Aggregator drain failed, closing hard")
		a.conn.Close()
	}
}
