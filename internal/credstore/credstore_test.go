package credstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tasksync/internal/service"
)

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFile(path)

	sess := &service.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresAt:    time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		User:         service.User{ID: "u1", Email: "me@example.com"},
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.AccessToken != "access" || got.User.Email != "me@example.com" || !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestFile_LoadMissing(t *testing.T) {
	store := NewFile(filepath.Join(t.TempDir(), "session.json"))

	got, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil session, got %+v", got)
	}
}

func TestFile_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFile(path).Load(); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestFile_LoadWithoutAccessToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"refresh_token":"r"}`), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := NewFile(path).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil session, got %+v", got)
	}
}

func TestFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFile(path)
	if err := store.Save(&service.Session{AccessToken: "a"}); err != nil {
		t.Fatal(err)
	}

	if err := store.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file to be gone, stat err = %v", err)
	}
}
