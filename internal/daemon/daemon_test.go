package daemon_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/daemon"
	"crease/internal/lifecycle"
	"crease/internal/logging"
	"crease/internal/notifications"
	"crease/internal/services"
	"crease/internal/statusapi"
	"crease/internal/testsupport"
	"crease/internal/upload"
	"crease/internal/uploadstore"
)

type harness struct {
	cfg     *config.Config
	backend *testsupport.FakeBackend
	store   *uploadstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithBaseURL(backend.URL()),
		testsupport.WithUploadTimings(1, 30, 1),
	)
	return &harness{
		cfg:     cfg,
		backend: backend,
		store:   testsupport.MustOpenStore(t, cfg),
	}
}

func (h *harness) newDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(h.cfg, h.store, h.backend.Client(), nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func videoForm(t *testing.T) analysis.UploadForm {
	t.Helper()
	return analysis.UploadForm{
		PlayerType: analysis.PlayerBatsman,
		BatterSide: analysis.SideRight,
		ShotType:   "cover_drive",
		VideoURI:   testsupport.WriteVideo(t, "net session.mp4"),
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	h := newHarness(t)
	if _, err := daemon.New(nil, h.store, h.backend.Client(), nil, nil); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := daemon.New(h.cfg, nil, h.backend.Client(), nil, nil); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := daemon.New(h.cfg, h.store, nil, nil, nil); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	d := h.newDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Lifecycle != string(lifecycle.StateActive) {
		t.Fatalf("expected active lifecycle, got %q", status.Lifecycle)
	}
	if !status.LoggedIn {
		t.Fatal("expected client token to count as logged in")
	}
	if status.BackendURL != h.backend.URL() {
		t.Fatalf("backend url = %q, want %q", status.BackendURL, h.backend.URL())
	}
	if d.StatusAddr() == "" {
		t.Fatal("expected status api address")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsLockedOut(t *testing.T) {
	h := newHarness(t)
	first := h.newDaemon(t)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	h.cfg.Status.APIBind = ""
	second := h.newDaemon(t)
	if err := second.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestUploadOperationsRequireStart(t *testing.T) {
	h := newHarness(t)
	d := h.newDaemon(t)
	ctx := context.Background()

	if _, err := d.StartUpload(ctx, videoForm(t)); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("StartUpload: expected ErrNotRunning, got %v", err)
	}
	if _, err := d.WaitForOutcome(ctx); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("WaitForOutcome: expected ErrNotRunning, got %v", err)
	}
	if err := d.CancelUpload(ctx); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("CancelUpload: expected ErrNotRunning, got %v", err)
	}
	if _, ok := d.Snapshot(); ok {
		t.Fatal("expected no snapshot before start")
	}
}

func TestStartUploadCompletes(t *testing.T) {
	h := newHarness(t)
	h.backend.OnUpload(testsupport.ReplyUpload(testsupport.ResultFor("net_session.mp4")))
	d := h.newDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome, err := d.StartUploadOutcome(ctx, videoForm(t))
	if err != nil {
		t.Fatalf("StartUploadOutcome: %v", err)
	}
	result, err := outcome.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.ShotType != "cover_drive" {
		t.Fatalf("unexpected result: %+v", result)
	}

	cached, err := h.store.GetResult(ctx, "net_session.mp4")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if cached == nil || cached.Result == nil || cached.Filename != "net_session.mp4" {
		t.Fatalf("expected cached result, got %+v", cached)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	videos []string
	sent   chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan struct{}, 4)}
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	video, _ := payload["video"].(string)
	r.videos = append(r.videos, video)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return nil
}

func (r *recordingNotifier) waitFor(t *testing.T) (notifications.Event, string) {
	t.Helper()
	select {
	case <-r.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1], r.videos[len(r.videos)-1]
}

func TestUploadOutcomesArePublished(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    notifications.Event
	}{
		{"ready", testsupport.ReplyUpload(testsupport.ResultFor("net_session.mp4")), notifications.EventAnalysisReady},
		{"failed", testsupport.FailUpload(http.StatusBadRequest, "unsupported video"), notifications.EventUploadFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.OnUpload(tc.handler)
			d := h.newDaemon(t)
			notifier := newRecordingNotifier()
			d.SetNotifier(notifier)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if _, err := d.StartUploadOutcome(ctx, videoForm(t)); err != nil {
				t.Fatalf("StartUploadOutcome: %v", err)
			}

			event, video := notifier.waitFor(t)
			if event != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, event)
			}
			if video != "net session.mp4" {
				t.Fatalf("unexpected video in payload: %q", video)
			}
		})
	}
}

func TestRepeatedStartPublishesOnce(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	reply := testsupport.ReplyUpload(testsupport.ResultFor("net_session.mp4"))
	h.backend.OnUpload(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-release
		reply(w, r)
	})
	d := h.newDaemon(t)
	notifier := newRecordingNotifier()
	d.SetNotifier(notifier)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	form := videoForm(t)
	first, err := d.StartUploadOutcome(ctx, form)
	if err != nil {
		t.Fatalf("first StartUploadOutcome: %v", err)
	}
	second, err := d.StartUploadOutcome(ctx, form)
	if err != nil {
		t.Fatalf("second StartUploadOutcome: %v", err)
	}
	if first != second {
		t.Fatal("expected the same outcome for a repeated start")
	}
	close(release)

	if event, _ := notifier.waitFor(t); event != notifications.EventAnalysisReady {
		t.Fatalf("expected analysis_ready, got %s", event)
	}
	select {
	case <-notifier.sent:
		t.Fatal("expected a single notification for one upload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStatusReportsInFlightUpload(t *testing.T) {
	h := newHarness(t)
	d := h.newDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := d.StartUpload(ctx, videoForm(t))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}

	status := d.Status(ctx)
	if status.Upload == nil {
		t.Fatal("expected upload in status")
	}
	if status.Upload.UploadID != id {
		t.Fatalf("upload id = %q, want %q", status.Upload.UploadID, id)
	}
	if status.Upload.Status != string(uploadstore.StatusUploading) {
		t.Fatalf("status = %q, want uploading", status.Upload.Status)
	}

	if err := d.CancelUpload(ctx); err != nil {
		t.Fatalf("CancelUpload: %v", err)
	}
	if _, ok := d.Snapshot(); ok {
		t.Fatal("expected no snapshot after cancel")
	}
	if err := d.CancelUpload(ctx); !errors.Is(err, upload.ErrNoUpload) {
		t.Fatalf("expected ErrNoUpload, got %v", err)
	}
}

func TestBackgroundLifecycleSwitchesToPolling(t *testing.T) {
	h := newHarness(t)
	d := h.newDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	outcome, err := d.StartUploadOutcome(ctx, videoForm(t))
	if err != nil {
		t.Fatalf("StartUploadOutcome: %v", err)
	}
	if !d.SetLifecycle(lifecycle.StateBackground) {
		t.Fatal("expected lifecycle change")
	}
	h.backend.SetResult("net_session.mp4", testsupport.ResultFor("net_session.mp4"))

	if _, err := outcome.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if h.backend.PollCount() == 0 {
		t.Fatal("expected the result to arrive by polling")
	}
}

func TestStatusAPIServesDaemon(t *testing.T) {
	h := newHarness(t)
	d := h.newDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	anonymous, err := statusapi.NewClient(d.StatusAddr())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := anonymous.Status(ctx); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected unauthenticated request to be refused, got %v", err)
	}

	info, err := os.Stat(h.cfg.StatusTokenPath())
	if err != nil {
		t.Fatalf("expected issued token file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected token file mode 0600, got %v", info.Mode().Perm())
	}

	client := anonymous.WithToken(statusapi.LoadToken(h.cfg))
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status api: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running status over the api")
	}
	if _, err := client.Upload(ctx); !errors.Is(err, upload.ErrNoUpload) {
		t.Fatalf("expected ErrNoUpload, got %v", err)
	}

	d.Stop()
	if _, err := os.Stat(h.cfg.StatusTokenPath()); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed on stop, got %v", err)
	}
}

func TestRestartResumesPersistedUpload(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := h.newDaemon(t)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := first.StartUpload(ctx, videoForm(t))
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	first.Stop()

	h.backend.SetResult("net_session.mp4", testsupport.ResultFor("net_session.mp4"))
	second := h.newDaemon(t)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	outcome, err := second.WaitForOutcome(ctx)
	if err != nil {
		t.Fatalf("WaitForOutcome: %v", err)
	}
	if outcome.UploadID() != id {
		t.Fatalf("resumed id = %q, want %q", outcome.UploadID(), id)
	}
	if _, err := outcome.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
