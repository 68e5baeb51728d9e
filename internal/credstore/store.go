// Package credstore owns the current authenticated session and persists it
// across process restarts.
package credstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	sessionFile = "session.json"
	prefsFile   = "prefs.json"
)

// Session is the authenticated identity and credential pair held by the
// client. At most one Session is active per process; the store is its only
// owner and every accessor receives a copy, since tokens may rotate between
// calls.
type Session struct {
	// UserID is the backend's opaque user identifier
	UserID string `json:"userId"`

	// Username is the display name chosen at registration
	Username string `json:"username"`

	// Email is the account email, also the signin identifier
	Email string `json:"email"`

	// Roles are the role strings granted by the backend (e.g. "ROLE_USER")
	Roles []string `json:"roles"`

	// AccessToken is the short-lived bearer credential for API calls
	AccessToken string `json:"accessToken"`

	// RefreshToken is the long-lived credential used only to mint new
	// access tokens
	RefreshToken string `json:"refreshToken"`

	// RoadmapJSON is the serialized roadmap snapshot returned at signin.
	// Opaque to the session core; typed at the SDK edge.
	RoadmapJSON string `json:"roadmapJson,omitempty"`
}

// Patch describes a partial session update. Nil fields are left untouched.
// Used for token rotation and profile updates so that unrelated fields are
// never dropped.
type Patch struct {
	Username     *string
	Email        *string
	AccessToken  *string
	RefreshToken *string
	RoadmapJSON  *string
}

// prefs holds non-credential preferences persisted alongside the session.
type prefs struct {
	Theme string `json:"theme,omitempty"`
}

// Store is the single source of truth for the current Session. It keeps an
// in-memory copy backed by a JSON record on disk and is safe for concurrent
// use. Mutations are atomic with respect to readers: no reader ever observes
// a half-written session.
type Store struct {
	mu      sync.RWMutex
	dir     string
	session *Session
	loaded  bool
}

// New creates a store rooted at dir. The directory is created on first
// write, not here; a store over a missing directory simply has no session.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Current returns a copy of the current session, or nil if none is stored.
// A corrupt persisted record is treated as absent and removed; corruption
// never propagates to the caller.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.session = s.loadLocked()
		s.loaded = true
	}

	if s.session == nil {
		return nil
	}
	cp := *s.session
	cp.Roles = append([]string(nil), s.session.Roles...)
	return &cp
}

// Set replaces the in-memory and persisted session record.
func (s *Store) Set(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := session
	cp.Roles = append([]string(nil), session.Roles...)

	if err := s.writeLocked(&cp); err != nil {
		return err
	}
	s.session = &cp
	s.loaded = true
	return nil
}

// Patch merges the non-nil fields of p into the current session. It is an
// error to patch when no session is stored.
func (s *Store) Patch(p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.session = s.loadLocked()
		s.loaded = true
	}
	if s.session == nil {
		return fmt.Errorf("no session to patch")
	}

	cp := *s.session
	cp.Roles = append([]string(nil), s.session.Roles...)
	if p.Username != nil {
		cp.Username = *p.Username
	}
	if p.Email != nil {
		cp.Email = *p.Email
	}
	if p.AccessToken != nil {
		cp.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		cp.RefreshToken = *p.RefreshToken
	}
	if p.RoadmapJSON != nil {
		cp.RoadmapJSON = *p.RoadmapJSON
	}

	if err := s.writeLocked(&cp); err != nil {
		return err
	}
	s.session = &cp
	return nil
}

// Clear removes the in-memory and persisted session record. Clearing an
// already-empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.loaded = true
	s.removeLocked()
}

// Theme returns the persisted theme preference, or "" if unset.
func (s *Store) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, prefsFile))
	if err != nil {
		return ""
	}
	var p prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.Theme
}

// SetTheme persists the theme preference. The preference lives in its own
// record so clearing the session does not reset it.
func (s *Store) SetTheme(theme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	data, err := json.Marshal(prefs{Theme: theme})
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, prefsFile), data); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}

// loadLocked deserializes the persisted session record. Returns nil when the
// record is missing or corrupt; a corrupt record is removed as a side effect.
func (s *Store) loadLocked() *Session {
	path := filepath.Join(s.dir, sessionFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Warn("discarding corrupt session record", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Error("failed to remove corrupt session record", "path", path, "error", rmErr)
		}
		return nil
	}

	return &sess
}

// writeLocked persists the session record atomically with 0600 permissions.
func (s *Store) writeLocked(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(s.dir, sessionFile), data); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// removeLocked deletes the persisted session record if present.
func (s *Store) removeLocked() {
	path := filepath.Join(s.dir, sessionFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to remove session record", "path", path, "error", err)
	}
}

// writeFileAtomic writes data to path via a temp file and rename so a
// concurrent reader never sees a partially written record.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
