package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/lifecycle"
	"crease/internal/logging"
	"crease/internal/services"
	"crease/internal/uploadstore"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxDuration  = 10 * time.Minute
	DefaultCleanupDelay = 5 * time.Second
)

// Backend is the part of the analysis client the coordinator drives.
type Backend interface {
	UploadVideo(ctx context.Context, form analysis.UploadForm, progress analysis.ProgressFunc) (*analysis.UploadResponse, error)
	GetAnalysisResult(ctx context.Context, filename string) (*analysis.Result, error)
	GetJobResult(ctx context.Context, jobID string) (*analysis.Result, error)
}

// Store persists the active attempt and caches finished results.
type Store interface {
	Save(ctx context.Context, rec *uploadstore.Record) error
	Load(ctx context.Context) (*uploadstore.Record, error)
	Delete(ctx context.Context) error
	DeleteIf(ctx context.Context, uploadID string) (bool, error)
	SaveResult(ctx context.Context, uploadID string, result *analysis.Result) error
}

// Lifecycle reports host lifecycle changes.
type Lifecycle interface {
	Subscribe(fn lifecycle.Listener) func()
	Current() lifecycle.State
}

// Options wires a Coordinator. Backend and Store are required.
type Options struct {
	Backend   Backend
	Store     Store
	Lifecycle Lifecycle
	Logger    *slog.Logger

	PollInterval time.Duration
	MaxDuration  time.Duration
	CleanupDelay time.Duration

	Now   func() time.Time
	NewID func() string
}

// OptionsFromConfig returns Options with the timings taken from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		PollInterval: cfg.PollInterval(),
		MaxDuration:  cfg.MaxUploadDuration(),
		CleanupDelay: cfg.CleanupDelay(),
	}
}

// Snapshot is a point-in-time view of the tracked attempt.
type Snapshot struct {
	Record     *uploadstore.Record
	Polling    bool
	BytesSent  int64
	BytesTotal int64
}

// Coordinator runs at most one upload attempt at a time.
type Coordinator struct {
	backend      Backend
	store        Store
	lifecycle    Lifecycle
	logger       *slog.Logger
	pollInterval time.Duration
	maxDuration  time.Duration
	cleanupDelay time.Duration
	now          func() time.Time
	newID        func() string

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	current *attempt
}

type attempt struct {
	record  *uploadstore.Record
	outcome *Outcome
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}

	polling    bool
	abandoned  bool
	bytesSent  int64
	bytesTotal int64
}

// New builds a Coordinator and subscribes it to lifecycle changes.
func New(opts Options) (*Coordinator, error) {
	if opts.Backend == nil {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "new coordinator", "backend is required", nil)
	}
	if opts.Store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "new coordinator", "store is required", nil)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.CleanupDelay < 0 {
		opts.CleanupDelay = DefaultCleanupDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		backend:      opts.Backend,
		store:        opts.Store,
		lifecycle:    opts.Lifecycle,
		logger:       logging.NewComponentLogger(opts.Logger, "upload"),
		pollInterval: opts.PollInterval,
		maxDuration:  opts.MaxDuration,
		cleanupDelay: opts.CleanupDelay,
		now:          opts.Now,
		newID:        opts.NewID,
		ctx:          ctx,
		cancel:       cancel,
	}
	if c.lifecycle != nil {
		c.unsubscribe = c.lifecycle.Subscribe(c.handleLifecycle)
	}
	return c, nil
}

// Start begins uploading form. Starting the same video while its attempt is
// still running returns the existing outcome; any other attempt is cancelled.
func (c *Coordinator) Start(ctx context.Context, form analysis.UploadForm) (*Outcome, error) {
	form, err := prepareForm(form)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if a := c.current; a != nil && !a.record.Status.IsTerminal() && a.record.Form.VideoURI == form.VideoURI {
		a.logger.Info("upload already in progress; reusing outcome",
			logging.UploadStatus(string(a.record.Status)),
			logging.String(logging.FieldEventType, "upload_reused"),
		)
		return a.outcome, nil
	}

	if c.current == nil {
		rec, err := c.loadPersisted(ctx)
		if err != nil {
			return nil, err
		}
		if rec != nil && !rec.Status.IsTerminal() && rec.Form.VideoURI == form.VideoURI {
			return c.adoptLocked(rec).outcome, nil
		}
	}

	if a := c.current; a != nil {
		c.abandonLocked(a, ErrCancelled, "replaced by new upload")
	}

	rec := &uploadstore.Record{
		UploadID:  c.newID(),
		Form:      form,
		StartTime: c.now().UTC(),
		Status:    uploadstore.StatusUploading,
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}

	a := c.newAttemptLocked(rec)
	a.bytesTotal = form.VideoSize
	a.logger.Info("upload started",
		logging.String("video", form.VideoName),
		logging.String("player_type", string(form.PlayerType)),
		logging.Int64("size_bytes", form.VideoSize),
		logging.UploadStatus(string(rec.Status)),
		logging.String(logging.FieldEventType, "upload_started"),
	)

	c.wg.Add(1)
	go c.runDirect(a, form)
	return a.outcome, nil
}

// Resume picks up a persisted attempt left by an earlier process. It returns a
// nil outcome when nothing is pending.
func (c *Coordinator) Resume(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.current != nil {
		return c.current.outcome, nil
	}

	rec, err := c.loadPersisted(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	return c.adoptLocked(rec).outcome, nil
}

// WaitForOutcome returns the outcome of the tracked attempt, rebuilding it from
// the persisted record when this process has not seen the attempt yet.
func (c *Coordinator) WaitForOutcome(ctx context.Context) (*Outcome, error) {
	outcome, err := c.Resume(ctx)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, ErrNoUpload
	}
	return outcome, nil
}

// Cancel abandons the tracked attempt and clears the persisted record. A
// finished attempt waiting for cleanup is not cancellable.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if a := c.current; a != nil {
		if a.record.Status.IsTerminal() {
			return ErrNoUpload
		}
		c.abandonLocked(a, ErrCancelled, "cancelled")
		if _, err := c.store.DeleteIf(ctx, a.record.UploadID); err != nil {
			return fmt.Errorf("clear upload record: %w", err)
		}
		return nil
	}

	rec, err := c.store.Load(ctx)
	if err != nil && !errors.Is(err, uploadstore.ErrRecordVersion) {
		return fmt.Errorf("load upload record: %w", err)
	}
	if err == nil && (rec == nil || rec.Status.IsTerminal()) {
		return ErrNoUpload
	}
	if err := c.store.Delete(ctx); err != nil {
		return fmt.Errorf("clear upload record: %w", err)
	}
	c.logger.Info("persisted upload cleared",
		logging.String(logging.FieldEventType, "upload_cancelled"),
	)
	return nil
}

// Snapshot returns the tracked attempt, if any.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.current
	if a == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		Record:     a.record.Clone(),
		Polling:    a.polling,
		BytesSent:  a.bytesSent,
		BytesTotal: a.bytesTotal,
	}, true
}

// HasActiveUpload reports whether an attempt is uploading or processing.
func (c *Coordinator) HasActiveUpload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.record.Status.IsTerminal()
}

// Close stops in-memory work. The persisted record is left in place so a later
// process can resume it.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if a := c.current; a != nil {
		c.abandonLocked(a, ErrClosed, "coordinator closed")
	}
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
}

func prepareForm(form analysis.UploadForm) (analysis.UploadForm, error) {
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return form, services.Wrap(services.ErrValidation, "upload", "validate form", err.Error(), nil)
	}
	info, err := os.Stat(form.VideoURI)
	if err != nil {
		return form, services.Wrap(services.ErrValidation, "upload", "stat video", form.VideoURI, err)
	}
	if info.IsDir() {
		return form, services.Wrap(services.ErrValidation, "upload", "stat video", form.VideoURI+" is a directory", nil)
	}
	if form.VideoSize <= 0 {
		form.VideoSize = info.Size()
	}
	if form.VideoType == "" {
		form.VideoType = analysis.VideoMIMEType(form.VideoName)
	}
	return form, nil
}

// loadPersisted reads the stored record. Rows written by an incompatible
// version are dropped instead of resumed.
func (c *Coordinator) loadPersisted(ctx context.Context) (*uploadstore.Record, error) {
	rec, err := c.store.Load(ctx)
	if errors.Is(err, uploadstore.ErrRecordVersion) {
		logging.WarnWithContext(c.logger, "discarding upload record from incompatible version", "upload_record_discarded",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the previous upload will not be resumed"),
		)
		if delErr := c.store.Delete(ctx); delErr != nil {
			return nil, fmt.Errorf("clear upload record: %w", delErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load upload record: %w", err)
	}
	return rec, nil
}

func (c *Coordinator) newAttemptLocked(rec *uploadstore.Record) *attempt {
	ctx, cancel := context.WithCancel(services.WithUploadID(c.ctx, rec.UploadID))
	a := &attempt{
		record:  rec,
		outcome: newOutcome(rec.UploadID),
		logger:  c.logger.With(logging.UploadID(rec.UploadID)),
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
	}
	c.current = a
	if !rec.Status.IsTerminal() {
		c.wg.Add(1)
		go c.enforceDeadline(a, c.maxDuration-rec.Elapsed(c.now()))
	}
	return a
}

// adoptLocked tracks a record persisted by an earlier process.
func (c *Coordinator) adoptLocked(rec *uploadstore.Record) *attempt {
	a := c.newAttemptLocked(rec)
	a.bytesTotal = rec.Form.VideoSize

	switch rec.Status {
	case uploadstore.StatusCompleted:
		a.outcome.settle(rec.Result, nil)
		a.cancel()
		c.scheduleCleanupLocked(a)
	case uploadstore.StatusFailed:
		a.outcome.settle(nil, persistedError(rec.Error))
		a.cancel()
		c.scheduleCleanupLocked(a)
	default:
		elapsed := rec.Elapsed(c.now())
		a.logger.Info("resuming persisted upload",
			logging.UploadStatus(string(rec.Status)),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "upload_resumed"),
		)
		if elapsed >= c.maxDuration {
			c.failLocked(a, ErrUploadTimeout)
			break
		}
		c.enterProcessingLocked(a, "resumed")
	}
	return a
}

// abandonLocked stops all work for a and settles its outcome with err. The
// persisted record is left to the caller.
func (c *Coordinator) abandonLocked(a *attempt, err error, reason string) {
	if a.abandoned {
		return
	}
	a.abandoned = true
	a.cancel()
	close(a.quit)
	if c.current == a {
		c.current = nil
	}
	if a.outcome.settle(nil, err) {
		a.logger.Info("upload abandoned",
			logging.String("reason", reason),
			logging.UploadStatus(string(a.record.Status)),
			logging.String(logging.FieldEventType, "upload_abandoned"),
		)
	}
}

// isCurrentLocked reports whether a may still change state.
func (c *Coordinator) isCurrentLocked(a *attempt) bool {
	return c.current == a && !a.abandoned && !a.outcome.Settled()
}

func (c *Coordinator) handleLifecycle(state lifecycle.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.current
	if a == nil || !c.isCurrentLocked(a) {
		return
	}
	switch state {
	case lifecycle.StateBackground, lifecycle.StateInactive:
		if a.record.Status == uploadstore.StatusUploading {
			c.enterProcessingLocked(a, "lifecycle_"+string(state))
		}
	case lifecycle.StateActive:
		if a.record.Status == uploadstore.StatusProcessing && !a.polling {
			c.startPollingLocked(a)
		}
	}
}

func (c *Coordinator) recordProgress(a *attempt, sent, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != a {
		return
	}
	a.bytesSent = sent
	if total > 0 {
		a.bytesTotal = total
	}
}
