package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/daemon"
	"crease/internal/lifecycle"
	"crease/internal/logging"
	"crease/internal/session"
	"crease/internal/uploadstore"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the crease daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := uploadstore.Open(cfg)
	if err != nil {
		logger.Error("open upload store", logging.Error(err))
		return err
	}
	defer store.Close()

	client := analysis.NewFromConfig(cfg, logger)
	sessions := session.NewManager(client, session.NewFileStore(cfg.SessionPath()), logger)
	restoreSession(logger, sessions)

	d, err := daemon.New(cfg, store, client, sessions, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and state directory access"),
			logging.String(logging.FieldImpact, "uploads will not be tracked"),
		)
		return err
	}

	// The pid file belongs to whoever holds the lock.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	g, gctx := errgroup.WithContext(signalCtx)
	if cfg.Lifecycle.Signals {
		source := lifecycle.NewSignalSource(d.Hub(), logger)
		g.Go(func() error { return source.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("crease daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return err
}

func restoreSession(logger *slog.Logger, sessions *session.Manager) {
	found, err := sessions.Restore()
	switch {
	case err != nil:
		logging.WarnWithContext(logger, "failed to restore session", "session_restore_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "uploads will fail until you log in"),
			logging.String(logging.FieldErrorHint, "run crease login"),
		)
	case !found:
		logging.WarnWithContext(logger, "no stored session", "session_missing",
			logging.String(logging.FieldImpact, "uploads will fail until you log in"),
			logging.String(logging.FieldErrorHint, "run crease login"),
		)
	default:
		state, _ := sessions.Current()
		logger.Info("session restored",
			logging.String("username", state.User.Username),
			logging.String(logging.FieldEventType, "session_restored"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
