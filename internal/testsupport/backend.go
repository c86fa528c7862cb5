package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"crease/internal/analysis"
)

// FakeToken is the bearer token the fake backend accepts.
const FakeToken = "test-token"

// FakeBackend is an in-process analysis backend for tests.
type FakeBackend struct {
	Server *httptest.Server

	mu       sync.Mutex
	onUpload http.HandlerFunc
	results  map[string]*analysis.Result
	jobs     map[string]fakeJob
	history  []analysis.HistoryItem
	plans    map[string]*analysis.TrainingPlan
	uploads  int
	polls    int
}

type fakeJob struct {
	status string
	result *analysis.Result
	err    string
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
// Uploads hang until the request is cancelled unless OnUpload overrides them.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	b := &FakeBackend{
		results: make(map[string]*analysis.Result),
		jobs:    make(map[string]fakeJob),
		plans:   make(map[string]*analysis.TrainingPlan),
	}
	b.onUpload = HangingUpload(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("POST /api/auth/login", b.handleLogin)
	mux.HandleFunc("POST /api/auth/register", b.handleLogin)
	mux.HandleFunc("GET /api/auth/verify", b.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user": fakeUser()})
	}))
	mux.HandleFunc("POST /api/auth/logout", b.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	mux.HandleFunc("POST /api/auth/delete-account", b.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	mux.HandleFunc("POST /api/upload", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.uploads++
		handler := b.onUpload
		b.mu.Unlock()
		handler(w, r)
	}))
	mux.HandleFunc("GET /api/results/{filename}", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.polls++
		result, ok := b.results[r.PathValue("filename")]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Result not found"})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}))
	mux.HandleFunc("GET /api/jobs/{id}", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.polls++
		job, ok := b.jobs[r.PathValue("id")]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Job not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": job.status, "result": job.result, "error": job.err})
	}))
	mux.HandleFunc("GET /api/history", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		items := append([]analysis.HistoryItem(nil), b.history...)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"history": items})
	}))
	mux.HandleFunc("DELETE /api/history/clear", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.history = nil
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))

	mux.HandleFunc("POST /api/training-plan", b.authed(b.handleGeneratePlan))
	mux.HandleFunc("GET /api/training-plan/{filename}", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		plan, ok := b.plans[r.PathValue("filename")]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Training plan not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"training_plan": plan})
	}))
	mux.HandleFunc("POST /api/compare", b.authed(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			First  string `json:"video1_filename"`
			Second string `json:"video2_filename"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"comparison": analysis.Comparison{
			Overall: analysis.OverallComparison{
				Video1Score:    60,
				Video2Score:    75,
				Winner:         "video2",
				OverallSummary: "Head position improved.",
			},
			KeyInsights:    []string{"Steadier base"},
			Video1Filename: body.First,
			Video2Filename: body.Second,
		}})
	}))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend root.
func (b *FakeBackend) URL() string {
	return b.Server.URL
}

// Client returns an analysis client already logged in to the fake backend.
func (b *FakeBackend) Client() *analysis.Client {
	return analysis.New(analysis.Options{BaseURL: b.URL(), Token: FakeToken})
}

// OnUpload replaces the upload handler.
func (b *FakeBackend) OnUpload(handler http.HandlerFunc) {
	b.mu.Lock()
	b.onUpload = handler
	b.mu.Unlock()
}

// SetResult makes a polled result available for filename.
func (b *FakeBackend) SetResult(filename string, result *analysis.Result) {
	b.mu.Lock()
	b.results[filename] = result
	b.mu.Unlock()
}

// SetJob sets the state reported for an asynchronous job.
func (b *FakeBackend) SetJob(id, status string, result *analysis.Result, errMsg string) {
	b.mu.Lock()
	b.jobs[id] = fakeJob{status: status, result: result, err: errMsg}
	b.mu.Unlock()
}

// SetHistory replaces the history list.
func (b *FakeBackend) SetHistory(items []analysis.HistoryItem) {
	b.mu.Lock()
	b.history = append([]analysis.HistoryItem(nil), items...)
	b.mu.Unlock()
}

// UploadCount reports how many upload requests reached the backend.
func (b *FakeBackend) UploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

// PollCount reports how many result or job polls reached the backend.
func (b *FakeBackend) PollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

// ResultFor builds a successful analysis payload for filename.
func ResultFor(filename string) *analysis.Result {
	return &analysis.Result{
		Success:    true,
		PlayerType: analysis.PlayerBatsman,
		ShotType:   "cover_drive",
		BatterSide: "right",
		Filename:   filename,
		Feedback:   &analysis.Feedback{AnalysisSummary: "Good balance through the shot."},
	}
}

// ReplyUpload answers uploads immediately with result.
func ReplyUpload(result *analysis.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, http.StatusOK, result)
	}
}

// JobUpload answers uploads with an asynchronous job id.
func JobUpload(jobID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
	}
}

// FailUpload answers uploads with an HTTP error.
func FailUpload(status int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, status, map[string]string{"error": message})
	}
}

// HangingUpload reads the request and then blocks until release is closed or
// the client goes away. A nil release blocks until the client goes away. When
// release fires, the upload answers with a 504 so callers see a timeout.
func HangingUpload(release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "gateway timeout"})
		}
	}
}

func (b *FakeBackend) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename string `json:"filename"`
		Days     int    `json:"days"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	_, known := b.results[body.Filename]
	b.mu.Unlock()
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Analysis not found"})
		return
	}
	plan := &analysis.TrainingPlan{OverallNotes: "Build a repeatable trigger movement."}
	for day := 1; day <= body.Days; day++ {
		plan.Plan = append(plan.Plan, analysis.TrainingDay{
			Day:    day,
			Focus:  "Front foot stride",
			Warmup: []string{"Shadow batting"},
			Drills: []analysis.TrainingDrill{{Name: "Throwdowns", Reps: "3x12"}},
		})
	}
	b.mu.Lock()
	b.plans[body.Filename] = plan
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"training_plan": plan})
}

func (b *FakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Password != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
		return
	}
	user := fakeUser()
	user.Username = body.Username
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok", "token": FakeToken, "user": user})
}

func (b *FakeBackend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != FakeToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func fakeUser() analysis.User {
	return analysis.User{ID: 1, Username: "tester", Email: "tester@example.com"}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
