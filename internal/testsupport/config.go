package testsupport

import (
	"path/filepath"
	"testing"

	"crease/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Upload timings are shortened so coordinator tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Status.APIBind = "127.0.0.1:0"
	cfgVal.Lifecycle.Netlink = false
	cfgVal.Lifecycle.Signals = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBaseURL points the config at a fake backend.
func WithBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.BaseURL = url
	}
}

// WithUploadTimings overrides the poll interval and absolute budget in seconds.
func WithUploadTimings(pollSeconds, maxSeconds, cleanupSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.PollIntervalSeconds = pollSeconds
		b.cfg.Upload.MaxDurationSeconds = maxSeconds
		b.cfg.Upload.CleanupDelaySeconds = cleanupSeconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
