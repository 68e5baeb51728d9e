package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/skillpath-ai/skillpath-go/internal/credstore"
	"github.com/skillpath-ai/skillpath-go/internal/logsanitize"
)

// refreshFunc issues the refresh endpoint call and returns the new access
// token. Implemented by Client so the transport stays free of wire details.
type refreshFunc func(ctx context.Context, refreshToken string) (string, error)

// authTransport attaches the stored bearer token to every outbound request
// and transparently recovers from access-token expiry exactly once per
// request. The shared pending slot is the only synchronization mechanism:
// all requests that observe a 401 while a refresh is in flight wait for
// that single refresh instead of issuing their own.
type authTransport struct {
	base    http.RoundTripper
	store   *credstore.Store
	refresh refreshFunc

	// onTerminated is invoked after an irrecoverable refresh failure has
	// cleared the store. Set once before concurrent use.
	onTerminated func()

	mu      sync.Mutex
	pending *pendingRefresh
}

// pendingRefresh is the at-most-one in-flight refresh operation. Waiters
// block on done; token and err are valid only after done is closed.
type pendingRefresh struct {
	done  chan struct{}
	token string
	err   error
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	outReq := req.Clone(req.Context())
	if sess := t.store.Current(); sess != nil && sess.AccessToken != "" {
		outReq.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	}

	resp, err := t.base.RoundTrip(outReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || isAuthPath(req.URL.Path) {
		return resp, nil
	}

	// A request body that cannot be replayed cannot be retried.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	// Access token expired: coalesce onto the shared refresh, then retry
	// the original request exactly once with the new token. A second 401
	// is returned as-is; the caller treats it as a hard auth failure.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	newToken, err := t.awaitRefresh(req.Context())
	if err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("failed to rewind request body for retry: %w", bodyErr)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+newToken)

	return t.base.RoundTrip(retry)
}

// awaitRefresh returns the result of the in-flight refresh, starting one if
// none exists. The caller's context bounds only the wait, not the refresh
// itself.
func (t *authTransport) awaitRefresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	p := t.pending
	if p == nil {
		p = &pendingRefresh{done: make(chan struct{})}
		t.pending = p
		go t.runRefresh(p)
	}
	t.mu.Unlock()

	select {
	case <-p.done:
		return p.token, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runRefresh performs the refresh call and settles the pending slot. It
// deliberately runs on a background context: a logout or abandoned request
// must not abort a refresh that other waiters depend on. The refresh call
// carries its own bounded timeout.
func (t *authTransport) runRefresh(p *pendingRefresh) {
	sess := t.store.Current()
	switch {
	case sess == nil || sess.RefreshToken == "":
		p.err = ErrSessionExpired
	default:
		newToken, err := t.refresh(context.Background(), sess.RefreshToken)
		if err != nil {
			// Every refresh failure ends the session, so waiters see the
			// expiry sentinel; the transport cause stays unwrappable.
			if errors.Is(err, ErrSessionExpired) {
				p.err = err
			} else {
				p.err = fmt.Errorf("token refresh failed: %w: %w", err, ErrSessionExpired)
			}
		} else {
			p.token = newToken
			if patchErr := t.store.Patch(credstore.Patch{AccessToken: &newToken}); patchErr != nil {
				slog.Error("failed to persist rotated access token", "error", patchErr)
			}
		}
	}

	if p.err != nil {
		// Irrecoverable: the refresh token is invalid or the backend is
		// unreachable. Terminate the session so callers re-authenticate.
		// The error text can carry a server-supplied message; sanitize it.
		slog.Warn("token refresh failed, terminating session",
			"error", logsanitize.Sanitize(p.err.Error()),
		)
		t.store.Clear()
		if t.onTerminated != nil {
			t.onTerminated()
		}
	} else {
		slog.Debug("access token refreshed",
			"token", logsanitize.RedactToken(p.token),
		)
	}

	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
	close(p.done)
}

// isAuthPath reports whether path is one of the unauthenticated auth
// endpoints. A 401 from these is a definitive rejection, never grounds
// for a refresh.
func isAuthPath(path string) bool {
	return strings.HasPrefix(path, "/api/auth/")
}
