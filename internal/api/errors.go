package api

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials means the backend definitively rejected the
	// supplied credentials. Not retried; the server message is preserved
	// in the wrapping error for display.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired means a previously valid session could not be
	// refreshed. The credential store has already been cleared when this
	// is returned.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotAuthenticated means an operation requiring a session was
	// attempted with no session stored.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// NetworkError is a transport-level failure: the backend never produced a
// response. Distinguished from definitive rejections so callers can suggest
// checking connectivity instead of re-entering a password.
type NetworkError struct {
	Op  string // method and path of the failed call
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend unreachable: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// APIError is a definitive backend rejection carrying the HTTP status and
// the {message} body the backend returns on 4xx/5xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}
