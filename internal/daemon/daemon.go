package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/lifecycle"
	"crease/internal/logging"
	"crease/internal/notifications"
	"crease/internal/session"
	"crease/internal/statusapi"
	"crease/internal/upload"
	"crease/internal/uploadstore"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another crease instance is already running")

// ErrNotRunning is returned by operations that need a started daemon.
var ErrNotRunning = errors.New("daemon not running")

// Daemon owns the upload coordinator and its integration points.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *uploadstore.Store
	client   *analysis.Client
	sessions *session.Manager
	hub      *lifecycle.Hub
	netlink  *lifecycle.NetlinkMonitor
	status   *statusapi.Server
	notifier notifications.Service
	now      func() time.Time

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	coord     *upload.Coordinator
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	watchers  sync.WaitGroup
	watched   map[string]struct{}
}

// New constructs a daemon. sessions may be nil when no login is required,
// e.g. in tests that use a pre-authenticated client.
func New(cfg *config.Config, store *uploadstore.Store, client *analysis.Client, sessions *session.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || client == nil {
		return nil, errors.New("daemon requires config, store, and analysis client")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		client:   client,
		sessions: sessions,
		hub:      lifecycle.NewHub(logger),
		notifier: notifications.NewService(cfg),
		now:      time.Now,
		watched:  make(map[string]struct{}),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if cfg.Lifecycle.Netlink {
		d.netlink = lifecycle.NewNetlinkMonitor(d.hub, logger)
	}
	d.status = statusapi.NewServer(cfg.Status.APIBind, d, logger)
	return d, nil
}

// Start acquires the lock, builds the coordinator, starts the lifecycle
// sources and status API, and resumes any persisted upload.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	opts := upload.OptionsFromConfig(d.cfg)
	opts.Backend = d.client
	opts.Store = d.store
	opts.Lifecycle = d.hub
	opts.Logger = d.logger
	coord, err := upload.New(opts)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("create upload coordinator: %w", err)
	}

	if d.status != nil {
		token, err := statusapi.IssueToken(d.cfg)
		if err != nil {
			coord.Close()
			_ = d.lock.Unlock()
			return fmt.Errorf("issue status api token: %w", err)
		}
		d.status.RequireToken(token)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.status.Start(runCtx); err != nil {
		cancel()
		coord.Close()
		_ = d.lock.Unlock()
		return fmt.Errorf("start status api: %w", err)
	}
	if err := d.netlink.Start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "netlink monitor unavailable", "netlink_start_failed", logging.Error(err))
	}

	d.mu.Lock()
	d.coord = coord
	d.ctx = runCtx
	d.cancel = cancel
	d.startedAt = d.now().UTC()
	d.mu.Unlock()
	d.running.Store(true)

	d.logger.Info("crease daemon started",
		logging.String("lock", d.lockPath),
		logging.String("status_api", d.StatusAddr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)

	outcome, err := coord.Resume(runCtx)
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to resume persisted upload", "upload_resume_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the previous upload will not be tracked"),
		)
		return nil
	}
	if outcome != nil {
		d.watch(outcome)
	}
	return nil
}

// Stop halts background work and releases the lock. A persisted upload stays
// in the store for the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	coord := d.coord
	cancel := d.cancel
	d.coord = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.netlink.Stop()
	d.status.Stop()
	if coord != nil {
		coord.Close()
	}
	d.watchers.Wait()

	if d.status != nil && d.cfg.Status.APIToken == "" {
		if err := os.Remove(d.cfg.StatusTokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove status api token", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("crease daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon. The store is owned by the
// caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// SetNotifier replaces the notification service built from config.
func (d *Daemon) SetNotifier(notifier notifications.Service) {
	if notifier != nil {
		d.notifier = notifier
	}
}

// Hub exposes the lifecycle hub so callers can attach extra sources.
func (d *Daemon) Hub() *lifecycle.Hub {
	return d.hub
}

// StatusAddr returns the status API address once started.
func (d *Daemon) StatusAddr() string {
	return d.status.Addr()
}

// StartUpload hands form to the coordinator and returns the attempt id.
func (d *Daemon) StartUpload(ctx context.Context, form analysis.UploadForm) (string, error) {
	outcome, err := d.StartUploadOutcome(ctx, form)
	if err != nil {
		return "", err
	}
	return outcome.UploadID(), nil
}

// StartUploadOutcome is StartUpload for in-process callers that want to wait
// on the outcome directly.
func (d *Daemon) StartUploadOutcome(ctx context.Context, form analysis.UploadForm) (*upload.Outcome, error) {
	coord := d.coordinator()
	if coord == nil {
		return nil, ErrNotRunning
	}
	outcome, err := coord.Start(ctx, form)
	if err != nil {
		return nil, err
	}
	d.watch(outcome)
	return outcome, nil
}

// WaitForOutcome returns the tracked or persisted upload's outcome.
func (d *Daemon) WaitForOutcome(ctx context.Context) (*upload.Outcome, error) {
	coord := d.coordinator()
	if coord == nil {
		return nil, ErrNotRunning
	}
	return coord.WaitForOutcome(ctx)
}

// CancelUpload cancels the tracked upload.
func (d *Daemon) CancelUpload(ctx context.Context) error {
	coord := d.coordinator()
	if coord == nil {
		return ErrNotRunning
	}
	return coord.Cancel(ctx)
}

// Snapshot returns the tracked upload.
func (d *Daemon) Snapshot() (upload.Snapshot, bool) {
	coord := d.coordinator()
	if coord == nil {
		return upload.Snapshot{}, false
	}
	return coord.Snapshot()
}

// SetLifecycle publishes a manual lifecycle change.
func (d *Daemon) SetLifecycle(state lifecycle.State) bool {
	return d.hub.Publish(state)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) statusapi.Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := statusapi.Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		Lifecycle:    string(d.hub.Current()),
		BackendURL:   d.client.BaseURL(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if d.sessions != nil {
		if state, ok := d.sessions.Current(); ok {
			status.LoggedIn = true
			status.Username = state.User.Username
		}
	} else {
		status.LoggedIn = d.client.Token() != ""
	}
	if snap, ok := d.Snapshot(); ok {
		status.Upload = statusapi.NewUploadView(snap, d.now())
	}
	return status
}

func (d *Daemon) coordinator() *upload.Coordinator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coord
}

// watch logs how an outcome ends and publishes it. Each upload is watched
// once, however many times its outcome is handed out.
func (d *Daemon) watch(outcome *upload.Outcome) {
	id := outcome.UploadID()
	d.mu.Lock()
	ctx := d.ctx
	_, seen := d.watched[id]
	if ctx != nil && !seen {
		d.watched[id] = struct{}{}
	}
	d.mu.Unlock()
	if ctx == nil || seen {
		return
	}

	video := ""
	if snap, ok := d.Snapshot(); ok && snap.Record != nil && snap.Record.UploadID == outcome.UploadID() {
		video = snap.Record.Form.VideoName
	}

	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()
		defer func() {
			d.mu.Lock()
			delete(d.watched, id)
			d.mu.Unlock()
		}()
		select {
		case <-outcome.Done():
		case <-ctx.Done():
			return
		}
		result, err := outcome.Result()
		logger := d.logger.With(logging.UploadID(outcome.UploadID()))
		switch {
		case err == nil && result != nil:
			logger.Info("analysis ready",
				logging.String("filename", result.Filename),
				logging.String("player_type", string(result.PlayerType)),
				logging.String(logging.FieldEventType, "analysis_ready"),
			)
			if video == "" {
				video = result.Filename
			}
			d.notify(ctx, logger, notifications.EventAnalysisReady, notifications.Payload{
				"video":   video,
				"shot":    result.ShotType,
				"summary": result.Feedback.Summary(),
			})
		case errors.Is(err, upload.ErrCancelled), errors.Is(err, upload.ErrClosed):
			logger.Debug("upload ended without result", logging.Error(err))
		case errors.Is(err, upload.ErrUploadTimeout):
			logger.Warn("upload finished with error", logging.Error(err))
			d.notify(ctx, logger, notifications.EventUploadTimedOut, notifications.Payload{"video": video})
		case err != nil:
			logger.Warn("upload finished with error", logging.Error(err))
			d.notify(ctx, logger, notifications.EventUploadFailed, notifications.Payload{"video": video, "error": err})
		}
	}()
}

func (d *Daemon) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "the user is not alerted about this upload"),
		)
	}
}
