package session_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crease/internal/analysis"
	"crease/internal/session"
)

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := session.NewFileStore(filepath.Join(t.TempDir(), "auth.json"))

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !state.Empty() {
		t.Fatalf("expected empty state, got %#v", state)
	}
}

func TestFileStoreRoundTripSealsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store := session.NewFileStore(path)

	expected := session.State{Token: "jwt-secret-value", User: analysis.User{ID: 3, Username: "sam", Email: "sam@example.com"}}
	if err := store.Save(expected); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "jwt-secret-value") {
		t.Fatal("token must not be stored in plain text")
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != expected.Token || got.User != expected.User {
		t.Fatalf("round trip mismatch: got %#v want %#v", got, expected)
	}
	if got.SavedAt.IsZero() {
		t.Fatal("expected saved timestamp")
	}
}

func TestFileStoreDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store := session.NewFileStore(path)
	if err := store.Save(session.State{Token: "tok", User: analysis.User{Username: "sam"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	doc["user"].(map[string]any)["username"] = "mallory"
	tampered, _ := json.Marshal(doc)
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, session.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for tampered session, got %v", err)
	}
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store := session.NewFileStore(path)
	if err := store.Clear(); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
	if err := store.Save(session.State{Token: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected session file removed, got %v", err)
	}
}
