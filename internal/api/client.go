// Package api is the typed HTTP client for the SkillPath backend. All
// authenticated calls share one transport that attaches the current bearer
// token and performs the single coordinated refresh-then-retry on 401.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillpath-ai/skillpath-go/internal/config"
	"github.com/skillpath-ai/skillpath-go/internal/credstore"
)

// Client issues requests against the SkillPath backend. Authenticated calls
// go through the refreshing transport; the signin/refresh/logout family uses
// a separate client with the shorter auth timeout.
type Client struct {
	baseURL   string
	store     *credstore.Store
	transport *authTransport

	httpClient *http.Client
	authClient *http.Client
}

// New creates a client over the given credential store.
func New(cfg config.APIConfig, store *credstore.Store) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		store:   store,
	}
	c.transport = &authTransport{
		base:    http.DefaultTransport,
		store:   store,
		refresh: c.refreshAccessToken,
	}
	c.httpClient = &http.Client{
		Transport: c.transport,
		Timeout:   time.Duration(cfg.RequestTimeout) * time.Second,
	}
	c.authClient = &http.Client{
		Timeout: time.Duration(cfg.AuthTimeout) * time.Second,
	}
	return c
}

// OnSessionTerminated registers fn to be invoked after an irrecoverable
// refresh failure has cleared the credential store. Must be set before the
// client is used concurrently.
func (c *Client) OnSessionTerminated(fn func()) {
	c.transport.onTerminated = fn
}

// SignIn authenticates with the backend and returns the resulting session.
// The session is returned, not stored; storing it is the session
// controller's job. Definitive 4xx rejections surface ErrInvalidCredentials
// with the server message preserved.
func (c *Client) SignIn(ctx context.Context, email, password string) (*credstore.Session, error) {
	var resp signInResponse
	err := c.do(ctx, c.authClient, http.MethodPost, "/api/auth/signin", signInRequest{Email: email, Password: password}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			if apiErr.Message != "" {
				return nil, fmt.Errorf("%s: %w", apiErr.Message, ErrInvalidCredentials)
			}
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	sess := resp.toSession()
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("signin response missing access token")
	}
	return sess, nil
}

// SignUp registers a new account and returns the backend acknowledgment.
func (c *Client) SignUp(ctx context.Context, username, email, password string, roles []string) (string, error) {
	var resp messageResponse
	req := signUpRequest{Username: username, Email: email, Password: password, Role: roles}
	if err := c.do(ctx, c.authClient, http.MethodPost, "/api/auth/signup", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// SignOut asks the backend to invalidate the refresh token. Callers treat
// failures as best-effort; local state is cleared regardless.
func (c *Client) SignOut(ctx context.Context, refreshToken string) error {
	return c.do(ctx, c.authClient, http.MethodPost, "/api/auth/logout", logoutRequest{RefreshToken: refreshToken}, nil)
}

// ForgotPassword requests a password reset. The backend returns a generic
// message either way; on this backend the reset token is also returned in
// lieu of a real email delivery.
func (c *Client) ForgotPassword(ctx context.Context, email string) (message, resetToken string, err error) {
	var resp forgotPasswordResponse
	if err := c.do(ctx, c.authClient, http.MethodPost, "/api/auth/forgot-password", forgotPasswordRequest{Email: email}, &resp); err != nil {
		return "", "", err
	}
	return resp.Message, resp.Token, nil
}

// ResetPassword redeems a reset token for a new password.
func (c *Client) ResetPassword(ctx context.Context, resetToken, newPassword string) (string, error) {
	var resp messageResponse
	req := resetPasswordRequest{Token: resetToken, NewPassword: newPassword}
	if err := c.do(ctx, c.authClient, http.MethodPost, "/api/auth/reset-password", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// UpdateProfile updates the user's profile fields and returns the backend's
// view of the updated user.
func (c *Client) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*Profile, error) {
	var resp Profile
	err := c.do(ctx, c.httpClient, http.MethodPut, "/api/users/"+userID, req, &resp)
	if err != nil {
		return nil, authFailure(err)
	}
	return &resp, nil
}

// SaveRoadmap persists the roadmap for the user. The roadmap is serialized
// to a JSON string because that is how the backend stores it.
func (c *Client) SaveRoadmap(ctx context.Context, userID string, roadmap *Roadmap) error {
	data, err := json.Marshal(roadmap)
	if err != nil {
		return fmt.Errorf("failed to encode roadmap: %w", err)
	}
	err = c.do(ctx, c.httpClient, http.MethodPut, "/api/users/"+userID+"/roadmap", saveRoadmapRequest{RoadmapJSON: string(data)}, nil)
	return authFailure(err)
}

// CompleteRoadmapNode marks the active node completed and returns the
// updated roadmap with the next node activated.
func (c *Client) CompleteRoadmapNode(ctx context.Context, nodeID string) (*Roadmap, error) {
	var resp Roadmap
	err := c.do(ctx, c.httpClient, http.MethodPost, "/api/users/roadmap/nodes/"+nodeID+"/complete", nil, &resp)
	if err != nil {
		return nil, authFailure(err)
	}
	return &resp, nil
}

// CompleteActivity reports a completed learning activity. The backend
// awards XP and pushes the updated metrics over the realtime channel.
func (c *Client) CompleteActivity(ctx context.Context) (string, error) {
	var resp messageResponse
	err := c.do(ctx, c.httpClient, http.MethodPost, "/api/users/complete-activity", nil, &resp)
	if err != nil {
		return "", authFailure(err)
	}
	return resp.Message, nil
}

// refreshAccessToken calls the refresh endpoint. A definitive 401/403 means
// the refresh token itself is dead; anything else is a network failure.
func (c *Client) refreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	var resp refreshResponse
	err := c.do(ctx, c.authClient, http.MethodPost, "/api/auth/refreshtoken", refreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return "", fmt.Errorf("refresh token rejected: %w", ErrSessionExpired)
		}
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}
	return resp.AccessToken, nil
}

// do issues one JSON request and decodes the response into out (if non-nil).
// Transport-level failures become NetworkError; 4xx/5xx become APIError with
// the backend's {message} preserved; session-expiry raised by the refreshing
// transport passes through untouched.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			// Preserve the chain; the cause may be a refresh-time
			// transport failure callers want to inspect.
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: decodeMessage(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// authFailure maps a 401 that escaped the refreshing transport (meaning the
// single retry already happened) to ErrSessionExpired.
func authFailure(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("request unauthorized after token refresh: %w", ErrSessionExpired)
	}
	return err
}

// decodeMessage extracts the {message} field from an error body. Bodies that
// are not JSON or carry no message yield "".
func decodeMessage(r io.Reader) string {
	var resp messageResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return ""
	}
	return resp.Message
}

// toSession normalizes the signin response, tolerating the backend's legacy
// field names.
func (r *signInResponse) toSession() *credstore.Session {
	userID := r.UserID.String()
	if userID == "" {
		userID = r.ID.String()
	}
	accessToken := r.AccessToken
	if accessToken == "" {
		accessToken = r.Token
	}
	return &credstore.Session{
		UserID:       userID,
		Username:     r.Username,
		Email:        r.Email,
		Roles:        r.Roles,
		AccessToken:  accessToken,
		RefreshToken: r.RefreshToken,
		RoadmapJSON:  r.RoadmapJSON,
	}
}
