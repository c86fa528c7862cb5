package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/session"
	"crease/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	backend    *testsupport.FakeBackend
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("CREASE_API_URL", "")
	t.Setenv("CREASE_NTFY_TOPIC", "")
	backend := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithBaseURL(backend.URL()),
		testsupport.WithUploadTimings(1, 30, 1),
	)
	cfg.Status.APIBind = ""

	env := &cliTestEnv{
		cfg:        cfg,
		backend:    backend,
		configPath: filepath.Join(testsupport.BaseDir(cfg), "config.toml"),
	}
	env.writeConfig(t)
	return env
}

func (e *cliTestEnv) writeConfig(t *testing.T) {
	t.Helper()
	if err := e.cfg.Save(e.configPath); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) login(t *testing.T) {
	t.Helper()
	store := session.NewFileStore(e.cfg.SessionPath())
	state := session.State{Token: testsupport.FakeToken, User: analysis.User{ID: 1, Username: "tester"}}
	if err := store.Save(state); err != nil {
		t.Fatalf("save session: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
