package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// API contains the analysis backend connection settings.
type API struct {
	BaseURL              string `toml:"base_url"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	UploadTimeoutSeconds int    `toml:"upload_timeout_seconds"`
}

// Upload contains timing for the background upload coordinator.
type Upload struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	MaxDurationSeconds  int `toml:"max_duration_seconds"`
	CleanupDelaySeconds int `toml:"cleanup_delay_seconds"`
}

// Paths contains local state and log directories.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Status contains configuration for the local status API served by `crease run`.
type Status struct {
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Lifecycle selects which host signals drive foreground/background transitions.
type Lifecycle struct {
	Signals bool `toml:"signals"`
	Netlink bool `toml:"netlink"`
}

// Notifications configures ntfy delivery of upload outcomes.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for crease.
//
// Configuration sections by subsystem:
//   - API: backend base URL and request timeouts
//   - Upload: polling interval, absolute upload budget, record cleanup delay
//   - Paths: state (database, session, lock) and log directories
//   - Status: local status API bind address
//   - Lifecycle: signal and netlink lifecycle sources
//   - Notifications: ntfy topic for analysis-ready alerts
//   - Logging: log format and level
type Config struct {
	API           API           `toml:"api"`
	Upload        Upload        `toml:"upload"`
	Paths         Paths         `toml:"paths"`
	Status        Status        `toml:"status"`
	Lifecycle     Lifecycle     `toml:"lifecycle"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadEnvFiles(resolvedPath)

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := ExpandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("crease.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Save writes the configuration to path as TOML, creating parent directories.
func (c *Config) Save(path string) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SetBaseURL validates and stores a new backend URL.
func (c *Config) SetBaseURL(raw string) error {
	normalized, err := normalizeBaseURL(raw)
	if err != nil {
		return err
	}
	c.API.BaseURL = normalized
	return nil
}

// EnsureDirectories creates required directories for state and logs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database that holds the upload record.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "crease.db")
}

// SessionPath returns the file holding the sealed auth session.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Paths.StateDir, "auth.json")
}

// PIDPath returns the file holding the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "crease.pid")
}

// StatusTokenPath returns the file holding the status API token the running
// daemon issued when status.api_token is not configured.
func (c *Config) StatusTokenPath() string {
	return filepath.Join(c.Paths.StateDir, "status.token")
}

// LockPath returns the single-instance lock used by the upload runtime.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "crease.lock")
}

// APITimeout returns the per-request timeout for JSON calls.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// NotificationTimeout returns the request timeout for ntfy deliveries.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// UploadTimeout returns the transport timeout for the direct upload call. It
// never exceeds MaxUploadDuration.
func (c *Config) UploadTimeout() time.Duration {
	timeout := time.Duration(c.API.UploadTimeoutSeconds) * time.Second
	if budget := c.MaxUploadDuration(); budget > 0 && timeout > budget {
		return budget
	}
	return timeout
}

// PollInterval returns the fixed interval between result polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Upload.PollIntervalSeconds) * time.Second
}

// MaxUploadDuration returns the absolute budget measured from upload start.
func (c *Config) MaxUploadDuration() time.Duration {
	return time.Duration(c.Upload.MaxDurationSeconds) * time.Second
}

// CleanupDelay returns how long a terminal record stays readable before removal.
func (c *Config) CleanupDelay() time.Duration {
	return time.Duration(c.Upload.CleanupDelaySeconds) * time.Second
}

// ExpandPath expands a leading tilde and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
