// Package session orchestrates the credential store, the API client, and
// the realtime channel. The controller is the only component that creates
// or destroys sessions; everything else reads the store per-operation.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/skillpath-ai/skillpath-go/internal/api"
	"github.com/skillpath-ai/skillpath-go/internal/credstore"
	"github.com/skillpath-ai/skillpath-go/internal/logsanitize"
	"github.com/skillpath-ai/skillpath-go/internal/realtime"
)

// State is the controller's authentication state.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Observer is notified after each session state transition. Replaces the
// original client's reload-the-page-on-logout behavior with an explicit
// transition the UI layer reacts to.
type Observer func(State)

// MetricsHandler receives decoded live metrics events.
type MetricsHandler func(api.MetricsEvent)

// Controller drives session creation and destruction and coordinates the
// HTTP client and realtime channel lifecycles together.
type Controller struct {
	store   *credstore.Store
	client  *api.Client
	channel *realtime.Channel

	onMetrics MetricsHandler

	mu        sync.Mutex
	state     State
	observers []Observer
}

// NewController wires the controller into the client's session-terminated
// callback and restores the authentication state from the persisted session.
// onMetrics may be nil, in which case realtime events are discarded.
func NewController(store *credstore.Store, client *api.Client, channel *realtime.Channel, onMetrics MetricsHandler) *Controller {
	c := &Controller{
		store:     store,
		client:    client,
		channel:   channel,
		onMetrics: onMetrics,
	}
	if store.Current() != nil {
		c.state = Authenticated
	}
	client.OnSessionTerminated(c.handleTerminated)
	return c
}

// State returns the current authentication state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session, or nil.
func (c *Controller) Session() *credstore.Session {
	return c.store.Current()
}

// Subscribe registers an observer for session state transitions.
func (c *Controller) Subscribe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Login authenticates with the backend, stores the resulting session, and
// opens the realtime channel. On failure nothing is mutated; invalid
// credentials and an unreachable backend surface as distinct errors so the
// caller can present an accurate message.
func (c *Controller) Login(ctx context.Context, email, password string) (*credstore.Session, error) {
	sess, err := c.client.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(*sess); err != nil {
		return nil, err
	}

	// Identity fields come from the backend; sanitize before logging.
	slog.Info("login succeeded",
		"user_id", logsanitize.Sanitize(sess.UserID),
		"username", logsanitize.Sanitize(sess.Username),
	)

	c.setState(Authenticated)
	c.StartRealtime()
	return sess, nil
}

// Logout best-effort notifies the backend to invalidate the refresh token,
// then unconditionally clears local state and disconnects the channel. The
// user's intent to leave wins over server acknowledgment: clearing happens
// even when the invalidation call fails.
func (c *Controller) Logout(ctx context.Context) {
	if sess := c.store.Current(); sess != nil && sess.RefreshToken != "" {
		if err := c.client.SignOut(ctx, sess.RefreshToken); err != nil {
			slog.Warn("server-side logout failed, clearing local state anyway",
				"error", logsanitize.Sanitize(err.Error()),
			)
		}
	}

	c.store.Clear()
	c.channel.Disconnect()
	c.setState(Unauthenticated)
	slog.Info("logged out")
}

// StartRealtime opens the realtime channel for the current session. A no-op
// when unauthenticated or already connected.
func (c *Controller) StartRealtime() {
	if c.store.Current() == nil {
		return
	}
	c.channel.Connect(realtime.MetricsTopic, c.dispatchMetrics)
}

// StopRealtime tears down the realtime channel without touching the session.
func (c *Controller) StopRealtime() {
	c.channel.Disconnect()
}

// handleTerminated is invoked by the API client after an irrecoverable
// refresh failure. The store is already cleared; mirror logout minus the
// invalidation call, since the refresh token is known-invalid.
func (c *Controller) handleTerminated() {
	c.store.Clear()
	c.channel.Disconnect()
	c.setState(Unauthenticated)
	slog.Warn("session terminated, sign in again")
}

// dispatchMetrics decodes a realtime payload and hands it to the metrics
// handler. Malformed payloads are logged and dropped.
func (c *Controller) dispatchMetrics(payload json.RawMessage) {
	if c.onMetrics == nil {
		return
	}
	var ev api.MetricsEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		slog.Warn("discarding malformed metrics event", "error", err)
		return
	}
	c.onMetrics(ev)
}

// setState transitions the state and notifies observers outside the lock.
// Redundant transitions are not announced.
func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	slog.Debug("session state changed", "state", s.String())
	for _, fn := range observers {
		fn(s)
	}
}
