package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skillpath-ai/skillpath-go/internal/config"
	"github.com/skillpath-ai/skillpath-go/internal/credstore"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *credstore.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := credstore.New(t.TempDir())
	cfg := config.APIConfig{BaseURL: srv.URL, RequestTimeout: 5, AuthTimeout: 5}
	return New(cfg, store), store, srv
}

func seedSession(t *testing.T, store *credstore.Store, accessToken, refreshToken string) {
	t.Helper()
	err := store.Set(credstore.Session{
		UserID:       "42",
		Username:     "ada",
		Email:        "ada@example.com",
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestExpiredTokenRefreshedAndRetried(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "r1" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "unknown refresh token"})
			return
		}
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "t2"})
	})
	mux.HandleFunc("/api/users/complete-activity", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "activity recorded"})
	})

	client, store, _ := newTestClient(t, mux)
	seedSession(t, store, "t1", "r1")

	msg, err := client.CompleteActivity(context.Background())
	if err != nil {
		t.Fatalf("CompleteActivity failed: %v", err)
	}
	if msg != "activity recorded" {
		t.Errorf("message = %q, want activity recorded", msg)
	}

	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if sess := store.Current(); sess == nil || sess.AccessToken != "t2" {
		t.Errorf("stored access token not rotated to t2: %+v", sess)
	}
}

func TestConcurrent401sCoalesceToOneRefresh(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		// Hold the refresh open so every concurrent 401 observes it in flight.
		time.Sleep(150 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "t2"})
	})
	mux.HandleFunc("/api/users/complete-activity", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})

	client, store, _ := newTestClient(t, mux)
	seedSession(t, store, "t1", "r1")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = client.CompleteActivity(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d failed: %v", i, err)
		}
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", n)
	}
}

func TestRefreshRejectionTerminatesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "refresh token revoked"})
	})
	mux.HandleFunc("/api/users/complete-activity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	})

	client, store, _ := newTestClient(t, mux)
	seedSession(t, store, "t1", "r1")

	var terminated atomic.Bool
	client.OnSessionTerminated(func() { terminated.Store(true) })

	_, err := client.CompleteActivity(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("error = %v, want ErrSessionExpired", err)
	}
	if store.Current() != nil {
		t.Error("store not cleared after refresh rejection")
	}
	if !terminated.Load() {
		t.Error("session-terminated callback not invoked")
	}
}

func TestRefreshNetworkFailureSurfacesSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		// Sever the connection mid-response so the refresh fails at the
		// transport level rather than with a definitive rejection.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		conn.Close()
	})
	mux.HandleFunc("/api/users/complete-activity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	})

	client, store, _ := newTestClient(t, mux)
	seedSession(t, store, "t1", "r1")

	var terminated atomic.Bool
	client.OnSessionTerminated(func() { terminated.Store(true) })

	_, err := client.CompleteActivity(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("error = %v, want ErrSessionExpired even for a refresh transport failure", err)
	}
	if !IsNetwork(err) {
		t.Errorf("error = %v, want the transport cause to stay unwrappable", err)
	}
	if store.Current() != nil {
		t.Error("store not cleared after refresh transport failure")
	}
	if !terminated.Load() {
		t.Error("session-terminated callback not invoked")
	}
}

func TestSecond401IsHardFailure(t *testing.T) {
	var refreshCalls, protectedCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "t2"})
	})
	mux.HandleFunc("/api/users/complete-activity", func(w http.ResponseWriter, r *http.Request) {
		// Rejects even the freshly minted token.
		protectedCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "nope"})
	})

	client, store, _ := newTestClient(t, mux)
	seedSession(t, store, "t1", "r1")

	_, err := client.CompleteActivity(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("error = %v, want ErrSessionExpired", err)
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1 (no retry loop)", n)
	}
	if n := protectedCalls.Load(); n != 2 {
		t.Errorf("protected endpoint calls = %d, want 2 (original plus one retry)", n)
	}
}

func TestAuthEndpoints401NeverTriggersRefresh(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refreshtoken", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "t2"})
	})
	mux.HandleFunc("/api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
	})

	client, store, _ := newTestClient(t, mux)
	seedSession(t, store, "t1", "r1")

	_, err := client.SignIn(context.Background(), "ada@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
	if n := refreshCalls.Load(); n != 0 {
		t.Errorf("refresh calls = %d, want 0 for an auth endpoint 401", n)
	}
}

func TestRequestWithoutSessionExpiresImmediately(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/complete-activity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing token"})
	})

	client, _, _ := newTestClient(t, mux)

	_, err := client.CompleteActivity(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("error = %v, want ErrSessionExpired when no session exists", err)
	}
}
