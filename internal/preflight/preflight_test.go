package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crease/internal/analysis"
	"crease/internal/preflight"
	"crease/internal/session"
	"crease/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBackend(t *testing.T) {
	healthy := testsupport.NewFakeBackend(t)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	tests := []struct {
		name string
		url  string
		pass bool
	}{
		{name: "healthy", url: healthy.URL(), pass: true},
		{name: "server error", url: broken.URL},
		{name: "missing url", url: "  "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := preflight.CheckBackend(context.Background(), tc.url)
			if result.Passed != tc.pass {
				t.Fatalf("Passed = %v, want %v (%s)", result.Passed, tc.pass, result.Detail)
			}
		})
	}
}

func TestCheckSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	result := preflight.CheckSession(cfg)
	if result.Passed {
		t.Fatal("expected failure without a stored session")
	}
	if !strings.Contains(result.Detail, "crease login") {
		t.Fatalf("expected login hint, got %q", result.Detail)
	}

	store := session.NewFileStore(cfg.SessionPath())
	if err := store.Save(session.State{Token: "jwt", User: analysis.User{Username: "sam"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	result = preflight.CheckSession(cfg)
	if !result.Passed {
		t.Fatalf("expected pass with stored session, got %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "sam") {
		t.Fatalf("expected username in detail, got %q", result.Detail)
	}
}

func TestCheckDaemonNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Status.APIBind = "127.0.0.1:1"

	result := preflight.CheckDaemon(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("a stopped daemon should not fail doctor: %s", result.Detail)
	}
	if !strings.HasPrefix(result.Detail, "Not running") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := preflight.RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll(t *testing.T) {
	backend := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(backend.URL()))
	cfg.Status.APIBind = ""

	results := preflight.RunAll(context.Background(), cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	failed := preflight.Failed(results)
	if len(failed) != 1 || failed[0].Name != "Session" {
		t.Fatalf("expected only the session check to fail, got %+v", failed)
	}
}
