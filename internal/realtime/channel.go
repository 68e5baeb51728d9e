// Package realtime maintains the live metrics subscription tied to the
// current session. It reconnects on transport failure with a fixed delay
// and keeps retrying until Disconnect is called; deciding when to give up
// is the session controller's job.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/skillpath-ai/skillpath-go/internal/config"
)

// MetricsTopic is the per-user live metrics subscription topic.
const MetricsTopic = "/user/queue/metrics"

// ErrAuthFailed means the backend rejected the channel's credentials during
// the handshake. The channel keeps retrying; refreshing the token is the
// caller's responsibility, normally delegated through the token source.
var ErrAuthFailed = errors.New("realtime authentication failed")

// State is the channel connection's run-state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// EventHandler receives subscription payloads in the order the transport
// delivered them. No reordering or de-duplication is performed.
type EventHandler func(payload json.RawMessage)

// envelope is the wire frame exchanged over the websocket.
type envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Channel is a reconnecting push subscription. Only one Channel is live per
// session; it is torn down before a new one is created for a different
// session. Connect and Disconnect are idempotent and safe for concurrent use.
type Channel struct {
	url              string
	handshakeTimeout time.Duration
	reconnectDelay   time.Duration
	limiter          *rate.Limiter
	tokens           oauth2.TokenSource

	mu         sync.Mutex
	state      State
	retryCount int
	lastErr    error
	conn       *websocket.Conn
	cancel     context.CancelFunc
	generation int
}

// New creates a channel that authenticates each (re)connect with a token
// from tokens.
func New(cfg config.RealtimeConfig, tokens oauth2.TokenSource) *Channel {
	perDial := time.Minute / time.Duration(cfg.DialsPerMinute)
	return &Channel{
		url:              cfg.URL,
		handshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
		reconnectDelay:   time.Duration(cfg.ReconnectDelay) * time.Second,
		limiter:          rate.NewLimiter(rate.Every(perDial), cfg.DialsPerMinute),
		tokens:           tokens,
	}
}

// Connect opens the transport and subscribes to topic, invoking fn for each
// delivered message for the lifetime of the connection. A no-op while
// already Connecting or Connected. The connection attempt itself is
// asynchronous; failures show up in LastError and the reconnect loop.
func (c *Channel) Connect(topic string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Connecting || c.state == Connected {
		slog.Debug("realtime channel already active", "state", c.state.String())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.generation++
	c.state = Connecting
	c.retryCount = 0
	c.lastErr = nil

	go c.run(ctx, c.generation, topic, fn)
}

// Disconnect tears down the transport unconditionally and stops the
// reconnect loop. Safe to call when already disconnected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected {
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		// Unblocks the reader; the run loop observes the canceled context
		// and exits instead of reconnecting.
		_ = c.conn.Close()
		c.conn = nil
	}
	c.generation++
	c.state = Disconnected
	slog.Info("realtime channel disconnected")
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connect or transport error, or nil.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RetryCount returns how many reconnect attempts the current connection
// generation has made.
func (c *Channel) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// run is the connection loop for one generation. It dials, subscribes, and
// pumps events until the transport fails, then waits the fixed reconnect
// delay and tries again. It exits only when its context is canceled.
func (c *Channel) run(ctx context.Context, gen int, topic string, fn EventHandler) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			c.setState(gen, Disconnected)
			return
		}

		err := c.connectOnce(ctx, gen, topic, fn)
		if ctx.Err() != nil {
			c.setState(gen, Disconnected)
			return
		}
		if err != nil {
			c.recordError(gen, err)
			slog.Warn("realtime connection lost",
				"error", err,
				"reconnect_delay", c.reconnectDelay,
			)
		}

		if !c.setState(gen, Reconnecting) {
			return
		}

		select {
		case <-ctx.Done():
			c.setState(gen, Disconnected)
			return
		case <-time.After(c.reconnectDelay):
		}

		if !c.setState(gen, Connecting) {
			return
		}
		c.bumpRetry(gen)
	}
}

// connectOnce performs one dial-subscribe-read cycle. It returns when the
// transport fails or the context is canceled.
func (c *Channel) connectOnce(ctx context.Context, gen int, topic string, fn EventHandler) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok.AccessToken)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, ErrAuthFailed)
		}
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	if !c.adoptConn(gen, conn) {
		conn.Close()
		return nil
	}
	// Close on every exit so a dropped connection does not leak its
	// descriptor. Disconnect may have closed it already; the second
	// Close is harmless.
	defer conn.Close()

	if err := conn.WriteJSON(envelope{Type: "subscribe", Topic: topic}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	slog.Info("realtime channel connected", "topic", topic)

	// Pump events in delivery order until the transport fails.
	for {
		var frame envelope
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		if frame.Type == "message" {
			fn(frame.Payload)
		}
	}
}

// adoptConn installs conn as the live connection and marks the channel
// Connected, unless the generation has been superseded by a Disconnect.
func (c *Channel) adoptConn(gen int, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.conn = conn
	c.state = Connected
	c.lastErr = nil
	return true
}

// setState transitions the state if gen is still current. Returns false when
// the generation has been superseded and the caller should stop.
func (c *Channel) setState(gen int, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.state = s
	if s != Connected {
		c.conn = nil
	}
	return true
}

func (c *Channel) recordError(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.lastErr = err
}

func (c *Channel) bumpRetry(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.retryCount++
}
