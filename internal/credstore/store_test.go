package credstore

import (
	"os"
	"path/filepath"
	"testing"
)

func testSession() Session {
	return Session{
		UserID:       "42",
		Username:     "ada",
		Email:        "ada@example.com",
		Roles:        []string{"ROLE_USER"},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		RoadmapJSON:  `{"title":"Backend Engineer"}`,
	}
}

func TestCurrentEmpty(t *testing.T) {
	store := New(t.TempDir())

	if sess := store.Current(); sess != nil {
		t.Errorf("Current on empty store = %+v, want nil", sess)
	}
}

func TestSetAndCurrent(t *testing.T) {
	store := New(t.TempDir())

	if err := store.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	sess := store.Current()
	if sess == nil {
		t.Fatal("Current returned nil after Set")
	}
	if sess.UserID != "42" {
		t.Errorf("UserID = %s, want 42", sess.UserID)
	}
	if sess.AccessToken != "access-1" {
		t.Errorf("AccessToken = %s, want access-1", sess.AccessToken)
	}
	if len(sess.Roles) != 1 || sess.Roles[0] != "ROLE_USER" {
		t.Errorf("Roles = %v, want [ROLE_USER]", sess.Roles)
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	store := New(t.TempDir())
	if err := store.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	first := store.Current()
	first.AccessToken = "mutated"
	first.Roles[0] = "mutated"

	second := store.Current()
	if second.AccessToken != "access-1" {
		t.Errorf("AccessToken = %s, caller mutation leaked into store", second.AccessToken)
	}
	if second.Roles[0] != "ROLE_USER" {
		t.Errorf("Roles[0] = %s, caller mutation leaked into store", second.Roles[0])
	}
}

func TestPatchPreservesOtherFields(t *testing.T) {
	store := New(t.TempDir())
	if err := store.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	newToken := "access-2"
	if err := store.Patch(Patch{AccessToken: &newToken}); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}

	sess := store.Current()
	if sess.AccessToken != "access-2" {
		t.Errorf("AccessToken = %s, want access-2", sess.AccessToken)
	}
	if sess.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %s, want refresh-1", sess.RefreshToken)
	}
	if sess.Username != "ada" {
		t.Errorf("Username = %s, want ada", sess.Username)
	}
	if sess.RoadmapJSON == "" {
		t.Error("RoadmapJSON was dropped by Patch")
	}
}

func TestPatchWithoutSession(t *testing.T) {
	store := New(t.TempDir())

	token := "access-2"
	if err := store.Patch(Patch{AccessToken: &token}); err == nil {
		t.Error("Patch on empty store should fail")
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	if err := store.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	store.Clear()

	if sess := store.Current(); sess != nil {
		t.Errorf("Current after Clear = %+v, want nil", sess)
	}
	if _, err := os.Stat(filepath.Join(dir, sessionFile)); !os.IsNotExist(err) {
		t.Error("session record still on disk after Clear")
	}

	// Clearing again is a no-op
	store.Clear()
}

func TestPersistsAcrossStores(t *testing.T) {
	dir := t.TempDir()

	first := New(dir)
	if err := first.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := New(dir)
	sess := second.Current()
	if sess == nil {
		t.Fatal("Current returned nil from a fresh store over the same dir")
	}
	if sess.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %s, want refresh-1", sess.RefreshToken)
	}
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, sessionFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("failed to seed corrupt record: %v", err)
	}

	store := New(dir)
	if sess := store.Current(); sess != nil {
		t.Errorf("Current over corrupt record = %+v, want nil", sess)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt record was not removed")
	}
}

func TestSessionFilePermissions(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	if err := store.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, sessionFile))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("session record permissions = %o, want 600", perm)
	}
}

func TestThemeSurvivesClear(t *testing.T) {
	store := New(t.TempDir())
	if err := store.Set(testSession()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.SetTheme("dark"); err != nil {
		t.Fatalf("SetTheme failed: %v", err)
	}

	store.Clear()

	if theme := store.Theme(); theme != "dark" {
		t.Errorf("Theme after Clear = %s, want dark", theme)
	}
}
