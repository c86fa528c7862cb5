package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"crease/internal/analysis"
	"crease/internal/services"
	"crease/internal/session"
	"crease/internal/testsupport"
)

func TestManagerLoginPersistsAndRestores(t *testing.T) {
	backend := testsupport.NewFakeBackend(t)
	path := filepath.Join(t.TempDir(), "auth.json")

	client := analysis.New(analysis.Options{BaseURL: backend.URL()})
	mgr := session.NewManager(client, session.NewFileStore(path), nil)

	if _, err := mgr.Login(context.Background(), analysis.Credentials{Username: "sam", Password: "wrong"}); services.KindOf(err) != services.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	user, err := mgr.Login(context.Background(), analysis.Credentials{Username: "sam", Password: "secret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.Username != "sam" {
		t.Fatalf("unexpected user %+v", user)
	}

	fresh := analysis.New(analysis.Options{BaseURL: backend.URL()})
	restored := session.NewManager(fresh, session.NewFileStore(path), nil)
	ok, err := restored.Restore()
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if fresh.Token() != testsupport.FakeToken {
		t.Fatalf("expected restored token on client, got %q", fresh.Token())
	}
	if _, err := restored.Verify(context.Background()); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestManagerLogoutClearsEvenWhenBackendFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	store := session.NewFileStore(path)
	if err := store.Save(session.State{Token: "tok", User: analysis.User{Username: "sam"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	client := analysis.New(analysis.Options{BaseURL: "http://127.0.0.1:1"})
	mgr := session.NewManager(client, store, nil)
	if ok, err := mgr.Restore(); err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if err := mgr.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, ok := mgr.Current(); ok {
		t.Fatal("expected no current session after logout")
	}
	if client.Token() != "" {
		t.Fatal("expected client token cleared")
	}
	if state, _ := store.Load(); !state.Empty() {
		t.Fatalf("expected stored session cleared, got %#v", state)
	}
}

func TestManagerVerifyClearsRejectedToken(t *testing.T) {
	backend := testsupport.NewFakeBackend(t)
	path := filepath.Join(t.TempDir(), "auth.json")
	store := session.NewFileStore(path)
	if err := store.Save(session.State{Token: "expired"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	mgr := session.NewManager(analysis.New(analysis.Options{BaseURL: backend.URL()}), store, nil)
	if _, err := mgr.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, err := mgr.Verify(context.Background()); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if state, _ := store.Load(); !state.Empty() {
		t.Fatal("expected rejected session cleared")
	}
}

func TestManagerDeleteAccountRequiresSession(t *testing.T) {
	mgr := session.NewManager(analysis.New(analysis.Options{BaseURL: "http://127.0.0.1:1"}), session.NewFileStore(filepath.Join(t.TempDir(), "auth.json")), nil)
	if err := mgr.DeleteAccount(context.Background()); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}
