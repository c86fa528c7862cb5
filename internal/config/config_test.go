package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"crease/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_URL", "")
	t.Setenv("CREASE_API_TIMEOUT", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "crease")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "crease.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.SessionPath() != filepath.Join(wantState, "auth.json") {
		t.Fatalf("unexpected session path: %q", cfg.SessionPath())
	}
	if cfg.Status.APIBind != "127.0.0.1:7592" {
		t.Fatalf("unexpected api bind: %q", cfg.Status.APIBind)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.MaxUploadDuration() != 10*time.Minute {
		t.Fatalf("unexpected max duration: %s", cfg.MaxUploadDuration())
	}
	if cfg.CleanupDelay() != 5*time.Second {
		t.Fatalf("unexpected cleanup delay: %s", cfg.CleanupDelay())
	}
	if cfg.API.BaseURL != config.Default().API.BaseURL {
		t.Fatalf("unexpected base url: %q", cfg.API.BaseURL)
	}
	if !cfg.Lifecycle.Signals || !cfg.Lifecycle.Netlink {
		t.Fatalf("expected lifecycle sources enabled by default: %+v", cfg.Lifecycle)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_URL", "")
	t.Setenv("CREASE_API_TIMEOUT", "")

	configPath := filepath.Join(tempHome, "config.toml")
	content := `[api]
base_url = "https://coach.example.com/"
timeout_seconds = 30

[upload]
poll_interval_seconds = 2
max_duration_seconds = 60
cleanup_delay_seconds = 0

[paths]
state_dir = "~/cricket"

[status]
api_bind = "127.0.0.1:9000"

[lifecycle]
netlink = false

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.API.BaseURL != "https://coach.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.API.BaseURL)
	}
	if cfg.APITimeout() != 30*time.Second {
		t.Fatalf("unexpected api timeout: %s", cfg.APITimeout())
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "cricket") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, ".local", "share", "crease", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.CleanupDelay() != 0 {
		t.Fatalf("expected zero cleanup delay, got %s", cfg.CleanupDelay())
	}
	if cfg.Lifecycle.Netlink {
		t.Fatal("expected netlink disabled")
	}
	if !cfg.Lifecycle.Signals {
		t.Fatal("expected signals to keep default")
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging normalized to lowercase, got %+v", cfg.Logging)
	}
}

func TestLoadHonoursEnvironmentOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_URL", "http://10.0.0.5:3000/")
	t.Setenv("CREASE_API_TIMEOUT", "45")

	cfg, _, _, err := config.Load(filepath.Join(tempHome, "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.BaseURL != "http://10.0.0.5:3000" {
		t.Fatalf("expected env base url, got %q", cfg.API.BaseURL)
	}
	if cfg.API.TimeoutSeconds != 45 {
		t.Fatalf("expected env timeout, got %d", cfg.API.TimeoutSeconds)
	}
}

func TestUploadTimeoutIsClampedToBudget(t *testing.T) {
	cfg := config.Default()
	cfg.API.UploadTimeoutSeconds = 900
	cfg.Upload.MaxDurationSeconds = 120
	if cfg.UploadTimeout() != 120*time.Second {
		t.Fatalf("expected upload timeout clamped to 2m, got %s", cfg.UploadTimeout())
	}
	cfg.API.UploadTimeoutSeconds = 60
	if cfg.UploadTimeout() != time.Minute {
		t.Fatalf("expected shorter upload timeout kept, got %s", cfg.UploadTimeout())
	}
}

func TestLoadReadsNtfyTopicFromEnvironment(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_URL", "")
	t.Setenv("CREASE_NTFY_TOPIC", " https://ntfy.sh/crease-test ")

	cfg, _, _, err := config.Load(filepath.Join(tempHome, "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/crease-test" {
		t.Fatalf("unexpected ntfy topic: %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.NotificationTimeout() != 10*time.Second {
		t.Fatalf("unexpected notification timeout: %s", cfg.NotificationTimeout())
	}
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_TIMEOUT", "")
	t.Setenv("CREASE_API_URL", "")
	os.Unsetenv("CREASE_API_URL")

	dir := filepath.Join(tempHome, "conf")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CREASE_API_URL=https://dotenv.example.com\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, _, _, err := config.Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.BaseURL != "https://dotenv.example.com" {
		t.Fatalf("expected .env base url, got %q", cfg.API.BaseURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"scheme", func(c *config.Config) { c.API.BaseURL = "ftp://example.com" }, "unsupported scheme"},
		{"poll", func(c *config.Config) { c.Upload.PollIntervalSeconds = 0 }, "poll_interval_seconds"},
		{"budget shorter than poll", func(c *config.Config) { c.Upload.MaxDurationSeconds = 1; c.Upload.PollIntervalSeconds = 5 }, "max_duration_seconds"},
		{"cleanup", func(c *config.Config) { c.Upload.CleanupDelaySeconds = -1 }, "cleanup_delay_seconds"},
		{"bind", func(c *config.Config) { c.Status.APIBind = "nonsense" }, "status.api_bind"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "crease-alerts" }, "notifications.ntfy_topic"},
		{"format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSaveRoundTripsBaseURL(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_URL", "")
	t.Setenv("CREASE_API_TIMEOUT", "")

	cfg := config.Default()
	if err := cfg.SetBaseURL("https://saved.example.com/"); err != nil {
		t.Fatalf("SetBaseURL failed: %v", err)
	}
	if err := cfg.SetBaseURL("not a url"); err == nil {
		t.Fatal("expected SetBaseURL to reject invalid url")
	}
	path := filepath.Join(tempHome, "nested", "config.toml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected saved config to exist")
	}
	if loaded.API.BaseURL != "https://saved.example.com" {
		t.Fatalf("unexpected base url after save: %q", loaded.API.BaseURL)
	}
}

func TestCreateSampleProducesValidConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CREASE_API_URL", "")
	t.Setenv("CREASE_API_TIMEOUT", "")

	path := filepath.Join(tempHome, "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config did not parse: %v", err)
	}
	if parsed.Upload.PollIntervalSeconds != 5 {
		t.Fatalf("unexpected sample poll interval: %d", parsed.Upload.PollIntervalSeconds)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesStateAndLogs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "state", "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
