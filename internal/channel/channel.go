// Package channel implements the event channel: a persistent bidirectional
// websocket connection carrying named events in a JSON envelope. The channel
// owns the connection lifecycle, including redial with capped backoff; it
// never touches session state.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"chatsync/internal/proto"
)

// Options tunes connection behavior.
type Options struct {
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// TransportError wraps a channel-level failure. Non-fatal by design: the
// session surfaces it as a delivery warning and keeps its state.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrNotConnected is returned by Emit while the channel is between
// connections.
var ErrNotConnected = errors.New("not connected")

// Channel is a live event channel. Create with Dial, then run Run in its own
// goroutine to receive events.
type Channel struct {
	url  string
	opts Options
	log  *zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events      chan proto.Envelope
	reconnected chan struct{}
}

// Dial connects to the channel endpoint. The returned channel delivers
// nothing until Run is started.
func Dial(ctx context.Context, url string, opts Options, logger *zerolog.Logger) (*Channel, error) {
	c := &Channel{
		url:         url,
		opts:        opts.withDefaults(),
		log:         logger,
		events:      make(chan proto.Envelope, 64),
		reconnected: make(chan struct{}, 1),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	c.conn = conn
	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	return conn, err
}

// Events delivers decoded inbound envelopes in transport order. Closed when
// Run returns.
func (c *Channel) Events() <-chan proto.Envelope {
	return c.events
}

// Reconnected signals once after every successful redial, so the owner can
// re-announce presence. The initial connection does not signal.
func (c *Channel) Reconnected() <-chan struct{} {
	return c.reconnected
}

// Emit publishes one event. Fire-and-forget: there is no retry and no
// delivery acknowledgment beyond the write succeeding.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	env, err := proto.NewEnvelope(event, payload)
	if err != nil {
		return &TransportError{Op: "emit", Err: err}
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "emit", Err: ErrNotConnected}
	}

	if err := wsjson.Write(ctx, conn, env); err != nil {
		return &TransportError{Op: "emit", Err: err}
	}
	return nil
}

// Run reads inbound frames until ctx is canceled or Close is called,
// redialing with capped backoff when the connection drops. Frames that do
// not decode as envelopes are dropped; they must not take the session down.
func (c *Channel) Run(ctx context.Context) {
	defer close(c.events)
	backoff := c.opts.MinBackoff

	for {
		c.mu.Lock()
		conn, closed := c.conn, c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		if conn == nil {
			next, err := c.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn().Err(err).Dur("backoff", backoff).Msg("redial failed")
				if !sleep(ctx, backoff) {
					return
				}
				backoff = min(backoff*2, c.opts.MaxBackoff)
				continue
			}

			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				next.Close(websocket.StatusNormalClosure, "closing")
				return
			}
			c.conn = next
			c.mu.Unlock()

			backoff = c.opts.MinBackoff
			c.log.Info().Msg("channel reconnected")
			select {
			case c.reconnected <- struct{}{}:
			default:
			}
			conn = next
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			closed = c.closed
			c.conn = nil
			c.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "closing")
			if closed || ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("channel disconnected")
			continue
		}

		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if env.Event == "" {
			c.log.Warn().Msg("dropping frame without event name")
			continue
		}

		select {
		case c.events <- env:
		case <-ctx.Done():
			return
		}
	}
}

// Close tears the connection down. Run returns shortly after.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
