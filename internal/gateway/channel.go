package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tessera-games/shardgate/internal/monitoring"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Read deadline window; any inbound frame extends it.
	pongWait = 30 * time.Second

	// Ping cadence. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound buffer slots per channel. Send never blocks: when the
	// buffer is full the message is dropped, not queued.
	sendBuffer = 256

	// Close frame reasons are capped at this many bytes.
	maxCloseReason = 120

	// Inbound frame rate limit per channel.
	inboundBurst     = 100
	inboundPerSecond = 10
)

// Fixed close reasons for protocol violations.
const (
	ReasonUnsupportedType = "Unsupported message type"
	ReasonInvalidJSON     = "Received message was not valid JSON"
)

// Channel is one live, validated, bidirectional session over a
// WebSocket. It owns the underlying socket exclusively: a read pump
// validates inbound frames and a write pump serializes all outbound
// traffic, so sends on the same channel are delivered in order.
type Channel struct {
	id   string
	conn net.Conn

	send chan []byte
	done chan struct{}

	closeOnce  sync.Once
	notifyOnce sync.Once
	closed     atomic.Bool
	reason     atomic.Value // string, set before done is closed

	mu        sync.Mutex
	onMessage func(msg json.RawMessage)
	onClose   func(reason string)

	// Gateway-internal hooks, set at construction.
	errSink     func(err error)
	onTerminate func(c *Channel)

	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newChannel(id string, conn net.Conn, logger zerolog.Logger, errSink func(error), onTerminate func(*Channel)) *Channel {
	return &Channel{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		errSink:     errSink,
		onTerminate: onTerminate,
		limiter:     rate.NewLimiter(rate.Limit(inboundPerSecond), inboundBurst),
		logger:      logger.With().Str("channel_id", id).Logger(),
	}
}

// ID returns the channel identity, unique for the process lifetime.
func (c *Channel) ID() string { return c.id }

// OnMessage registers the single handler invoked for each valid inbound
// frame, in arrival order. Register before traffic flows.
func (c *Channel) OnMessage(fn func(msg json.RawMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnClose registers the single handler invoked exactly once when the
// channel closes, whatever the cause.
func (c *Channel) OnClose(fn func(reason string)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Send encodes v as a text frame and queues it for delivery. Delivery
// is lossy and at-most-once: a closed channel or a full outbound buffer
// drops the message silently. Encoding failures are logged and dropped,
// never returned.
func (c *Channel) Send(v any) {
	if c.closed.Load() {
		return
	}

	var data []byte
	switch m := v.(type) {
	case []byte:
		data = m
	case json.RawMessage:
		data = m
	case string:
		data = []byte(m)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			monitoring.MessagesDropped.WithLabelValues("encode_failed").Inc()
			c.logger.Warn().Err(err).Msg("Outbound message not encodable, dropped")
			return
		}
	}

	select {
	case c.send <- data:
	default:
		monitoring.MessagesDropped.WithLabelValues("buffer_full").Inc()
	}
}

// Close requests graceful closure: a close frame with status 1000 and
// the reason truncated to 120 bytes. If the graceful write fails, the
// socket is torn down forcefully. Closing an already closed channel is
// a no-op.
func (c *Channel) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.reason.Store(truncateReason(reason))
		close(c.done)
	})
}

// start launches the pumps. Called by the gateway after the channel is
// registered and the connect subscriber has installed handlers.
func (c *Channel) start() {
	go c.writePump()
	go c.readPump()
}

// readPump validates every inbound frame. Frames must be text holding
// well-formed JSON; anything else closes the channel with a fixed
// protocol-violation reason and never reaches the message handler.
func (c *Channel) readPump() {
	defer monitoring.RecoverPanic(c.logger, "readPump", map[string]any{"channel_id": c.id})
	defer c.Close("")

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			if !c.closed.Load() && !isPeerGone(err) {
				c.reportError(err)
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			if !c.limiter.Allow() {
				monitoring.RateLimitedFrames.Inc()
				c.logger.Warn().Msg("Inbound frame rate limited")
				continue
			}
			if !json.Valid(msg) {
				monitoring.ProtocolViolations.WithLabelValues("invalid_json").Inc()
				c.logger.Warn().Msg("Inbound frame was not valid JSON")
				c.Close(ReasonInvalidJSON)
				return
			}
			monitoring.MessagesReceived.Inc()
			c.mu.Lock()
			handler := c.onMessage
			c.mu.Unlock()
			if handler != nil {
				handler(json.RawMessage(msg))
			}

		case ws.OpBinary:
			monitoring.ProtocolViolations.WithLabelValues("binary_frame").Inc()
			c.logger.Warn().Msg("Inbound binary frame rejected")
			c.Close(ReasonUnsupportedType)
			return
		}
	}
}

// writePump owns all writes to the socket: queued messages, pings, and
// the final close frame.
func (c *Channel) writePump() {
	defer monitoring.RecoverPanic(c.logger, "writePump", map[string]any{"channel_id": c.id})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, data); err != nil {
				c.reportError(err)
				c.Close("")
				c.finishClose()
				return
			}
			monitoring.MessagesSent.Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.reportError(err)
				c.Close("")
				c.finishClose()
				return
			}

		case <-c.done:
			c.flushSend()
			c.finishClose()
			return
		}
	}
}

// flushSend writes out messages enqueued before the close request, so a
// final reply (e.g. a capacity error) reaches the peer ahead of the
// close frame. Best effort: a write failure abandons the rest.
func (c *Channel) flushSend() {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, data); err != nil {
				return
			}
			monitoring.MessagesSent.Inc()
		default:
			return
		}
	}
}

// finishClose performs the closing handshake and fires the close
// notification. The close frame write is best effort; failure falls
// back to closing the socket outright.
func (c *Channel) finishClose() {
	reason, _ := c.reason.Load().(string)

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	frame := ws.NewCloseFrameBody(ws.StatusNormalClosure, reason)
	if err := wsutil.WriteServerMessage(c.conn, ws.OpClose, frame); err != nil {
		c.logger.Debug().Err(err).Msg("Graceful close failed, terminating socket")
	}
	c.conn.Close()

	c.notifyOnce.Do(func() {
		c.mu.Lock()
		handler := c.onClose
		c.mu.Unlock()
		if handler != nil {
			handler(reason)
		}
		if c.onTerminate != nil {
			c.onTerminate(c)
		}
	})
}

func (c *Channel) reportError(err error) {
	if c.errSink != nil {
		c.errSink(err)
		return
	}
	c.logger.Error().Err(err).Msg("Channel transport error")
}

// isPeerGone reports whether a read error just means the peer went away
// rather than a transport fault worth surfacing.
func isPeerGone(err error) bool {
	var closed wsutil.ClosedError
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &closed)
}

func truncateReason(reason string) string {
	if len(reason) > maxCloseReason {
		return reason[:maxCloseReason]
	}
	return reason
}
