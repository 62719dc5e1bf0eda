package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	sllogging "github.com/logline-run/logline/infrastructure/logging"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client maintains one outbound mesh connection to a remote service,
// reconnecting with exponential backoff (capped at maxBackoff) whenever
// the link drops.
type Client struct {
	self         string
	capabilities []string
	url          string
	logger       *sllogging.Logger

	mu    sync.RWMutex
	state PeerState
	l     *link

	handlers map[MessageType]Handler
	fallback Handler
}

// NewClient constructs a mesh client that will identify itself as self
// with the given capabilities when connecting to url.
func NewClient(self, url string, capabilities []string, logger *sllogging.Logger) *Client {
	return &Client{
		self:         self,
		capabilities: capabilities,
		url:          url,
		logger:       logger,
		state:        StateDisconnected,
		handlers:     make(map[MessageType]Handler),
	}
}

// OnMessage registers the handler invoked for envelopes of type t.
func (c *Client) OnMessage(t MessageType, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = fn
}

// OnUnhandled registers a catch-all for types without a dedicated handler.
func (c *Client) OnUnhandled(fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = fn
}

// State reports the client's current connection state.
func (c *Client) State() PeerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run connects and keeps reconnecting until ctx is canceled. The backoff
// attempt counter resets to 0 as soon as a handshake completes, so a
// long-lived link that drops after hours connected retries at 1s again
// rather than picking up where a previous, unrelated outage left off.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	resetAttempt := func() { attempt = 0 }
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectOnce(ctx, resetAttempt); err != nil {
			c.logger.WithError(err).WithField("attempt", attempt).Warn("mesh: dial failed")
		}
		c.setState(StateDisconnected)

		backoff := initialBackoff * time.Duration(1<<uint(attempt))
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Client) setState(s PeerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) connectOnce(ctx context.Context, onConnected func()) error {
	c.setState(StateHandshaking)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("mesh: dial %s: %w", c.url, err)
	}

	l := newLink(conn)
	l.name = c.self

	hello := NewEnvelope(ServiceMessage{
		Type:         TypeServiceHello,
		Sender:       c.self,
		Capabilities: c.capabilities,
	})
	data, err := Encode(hello)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("mesh: send hello: %w", err)
	}

	c.mu.Lock()
	c.l = l
	c.state = StateConnected
	c.mu.Unlock()

	if onConnected != nil {
		onConnected()
	}

	done := make(chan struct{})
	go func() {
		c.clientWritePump(l)
		close(done)
	}()
	c.clientReadPump(l)
	l.close()
	<-done
	return nil
}

// Send delivers env over the active connection. Returns an error if the
// client is not currently connected.
func (c *Client) Send(env Envelope) error {
	c.mu.RLock()
	l := c.l
	connected := c.state == StateConnected
	c.mu.RUnlock()
	if !connected || l == nil {
		return fmt.Errorf("mesh: not connected")
	}
	select {
	case l.send <- env:
		return nil
	default:
		return fmt.Errorf("mesh: send queue full")
	}
}

func (c *Client) clientReadPump(l *link) {
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := Decode(data)
		if err != nil {
			c.logger.WithError(err).Warn("mesh: dropping malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) clientWritePump(l *link) {
	ticker := time.NewTicker(pingPeriod)
	missed := 0
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-l.send:
			if !ok {
				return
			}
			data, err := Encode(env)
			if err != nil {
				continue
			}
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				missed++
				if missed >= maxMissedPings {
					return
				}
				continue
			}
			missed = 0
		case <-l.closeCh:
			return
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.RLock()
	fn, ok := c.handlers[env.Payload.Type]
	fallback := c.fallback
	c.mu.RUnlock()
	if ok {
		fn(c.self, env)
		return
	}
	if fallback != nil {
		fallback(c.self, env)
	}
}
