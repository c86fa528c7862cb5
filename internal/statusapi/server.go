package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"crease/internal/analysis"
	"crease/internal/lifecycle"
	"crease/internal/logging"
	"crease/internal/services"
	"crease/internal/upload"
)

// Daemon is what the server reports on and acts upon.
type Daemon interface {
	Status(ctx context.Context) Status
	Snapshot() (upload.Snapshot, bool)
	StartUpload(ctx context.Context, form analysis.UploadForm) (string, error)
	CancelUpload(ctx context.Context) error
	SetLifecycle(state lifecycle.State) bool
}

// Server serves the status API.
type Server struct {
	bind   string
	token  string
	daemon Daemon
	logger *slog.Logger
	now    func() time.Time

	router   *mux.Router
	listener net.Listener
	server   *http.Server
}

// NewServer builds a server for d. An empty bind disables the server and
// returns nil.
func NewServer(bind string, d Daemon, logger *slog.Logger) *Server {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}
	s := &Server{
		bind:   bind,
		daemon: d,
		logger: logging.NewComponentLogger(logger, "status-api"),
		now:    time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodGet)
	r.HandleFunc("/api/upload", s.handleStartUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/upload/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/lifecycle/{state}", s.handleLifecycle).Methods(http.MethodPost)
	r.Use(s.authMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r

	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx ends or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("status api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "status api server error", "status_api_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("status api listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "status_api_started"),
	)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.daemon.Snapshot()
	if !ok {
		s.writeError(w, http.StatusNotFound, upload.ErrNoUpload.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, NewUploadView(snap, s.now()))
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	var form analysis.UploadForm
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&form); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid upload form: "+err.Error())
		return
	}
	uploadID, err := s.daemon.StartUpload(r.Context(), form)
	switch {
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, ok := s.daemon.Snapshot()
	if !ok || snap.Record == nil || snap.Record.UploadID != uploadID {
		s.writeJSON(w, http.StatusAccepted, UploadView{UploadID: uploadID})
		return
	}
	s.writeJSON(w, http.StatusAccepted, NewUploadView(snap, s.now()))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.daemon.CancelUpload(r.Context())
	switch {
	case errors.Is(err, upload.ErrNoUpload):
		s.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, CancelResponse{Cancelled: true})
	}
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	state, ok := lifecycle.ParseState(mux.Vars(r)["state"])
	if !ok {
		s.writeError(w, http.StatusBadRequest, "state must be active, inactive or background")
		return
	}
	changed := s.daemon.SetLifecycle(state)
	s.writeJSON(w, http.StatusOK, LifecycleResponse{State: string(state), Changed: changed})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
