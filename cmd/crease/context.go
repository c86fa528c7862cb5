package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/daemon"
	"crease/internal/lifecycle"
	"crease/internal/logging"
	"crease/internal/session"
	"crease/internal/statusapi"
	"crease/internal/uploadstore"
)

type commandContext struct {
	configFlag  *string
	verboseFlag *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) verbose() bool {
	return c.verboseFlag != nil && *c.verboseFlag
}

// logger writes to the crease log file, and to stderr with --verbose, so
// command output on stdout stays clean.
func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	paths := []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName)}
	if c.verbose() {
		paths = append(paths, "stderr")
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: paths,
	})
}

// session returns an analysis client with the stored login attached.
func (c *commandContext) session(logger *slog.Logger) (*analysis.Client, *session.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	client := analysis.NewFromConfig(cfg, logger)
	sessions := session.NewManager(client, session.NewFileStore(cfg.SessionPath()), logger)
	if _, err := sessions.Restore(); err != nil {
		return nil, nil, fmt.Errorf("restore session: %w", err)
	}
	return client, sessions, nil
}

// withClient runs fn with a logged-in analysis client.
func (c *commandContext) withClient(fn func(*analysis.Client, *session.Manager) error) error {
	logger, err := c.logger()
	if err != nil {
		return err
	}
	client, sessions, err := c.session(logger)
	if err != nil {
		return err
	}
	if _, ok := sessions.Current(); !ok {
		return errNotLoggedIn
	}
	return fn(client, sessions)
}

func (c *commandContext) withStore(fn func(*uploadstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := uploadstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open upload store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// daemonClient returns a status API client when a daemon answers on the
// configured bind address.
func (c *commandContext) daemonClient(ctx context.Context) (*statusapi.Client, bool) {
	cfg, err := c.ensureConfig()
	if err != nil || strings.TrimSpace(cfg.Status.APIBind) == "" {
		return nil, false
	}
	client, err := statusapi.NewClientFromConfig(cfg)
	if err != nil {
		return nil, false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Status(pingCtx); err != nil {
		return nil, false
	}
	return client, true
}

// withLocalDaemon hosts the upload coordinator in this process for the
// duration of fn. SIGINT/SIGTERM cancel the context handed to fn; the
// persisted record is kept so `crease resume` can pick it up.
func (c *commandContext) withLocalDaemon(cmdCtx context.Context, fn func(context.Context, *daemon.Daemon) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	client, sessions, err := c.session(logger)
	if err != nil {
		return err
	}
	if _, ok := sessions.Current(); !ok {
		return errNotLoggedIn
	}

	store, err := uploadstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open upload store: %w", err)
	}
	defer store.Close()

	d, err := daemon.New(cfg, store, client, sessions, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w; its status api is not reachable at %q", err, cfg.Status.APIBind)
		}
		return err
	}
	if cfg.Lifecycle.Signals {
		source := lifecycle.NewSignalSource(d.Hub(), logger)
		go func() { _ = source.Run(ctx) }()
	}
	return fn(ctx, d)
}

var errNotLoggedIn = errors.New("not logged in; run `crease login` first")

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
