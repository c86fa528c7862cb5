package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crease/internal/config"
	"crease/internal/logging"
	"crease/internal/services"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configure a Client.
type Options struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	UploadTimeout time.Duration
	// HTTPClient overrides both the JSON and upload transports.
	HTTPClient HTTPDoer
	Logger     *slog.Logger
}

// Client calls the analysis backend.
type Client struct {
	mu      sync.RWMutex
	baseURL string
	token   string

	http   HTTPDoer
	upload HTTPDoer
	logger *slog.Logger
}

// New constructs a Client.
func New(opts Options) *Client {
	jsonClient := opts.HTTPClient
	uploadClient := opts.HTTPClient
	if jsonClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		jsonClient = &http.Client{Timeout: timeout}
	}
	if uploadClient == nil {
		timeout := opts.UploadTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		uploadClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:   strings.TrimSpace(opts.Token),
		http:    jsonClient,
		upload:  uploadClient,
		logger:  logging.NewComponentLogger(opts.Logger, "analysis"),
	}
}

// NewFromConfig builds a Client for the configured backend. The token is
// attached later from the stored session.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(Options{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       cfg.APITimeout(),
		UploadTimeout: cfg.UploadTimeout(),
		Logger:        logger,
	})
}

// BaseURL returns the backend root currently in use.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL points the client at a different backend.
func (c *Client) SetBaseURL(base string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	c.mu.Unlock()
}

// SetToken sets the bearer token sent with authenticated requests. An empty
// token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates and returns the issued token. The client keeps using
// the token for subsequent calls.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, &RequestError{Method: http.MethodPost, Path: "/api/auth/login", Kind: services.KindValidation, Message: "username and password are required"}
	}
	return c.authenticate(ctx, "/api/auth/login", creds)
}

// Register creates an account and returns the issued token.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResponse, error) {
	if strings.TrimSpace(reg.Username) == "" || strings.TrimSpace(reg.Email) == "" || reg.Password == "" {
		return nil, &RequestError{Method: http.MethodPost, Path: "/api/auth/register", Kind: services.KindValidation, Message: "username, email and password are required"}
	}
	return c.authenticate(ctx, "/api/auth/register", reg)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, false, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || strings.TrimSpace(resp.Token) == "" {
		msg := resp.Message
		if msg == "" {
			msg = "authentication failed"
		}
		return nil, &RequestError{Method: http.MethodPost, Path: path, Kind: services.KindUnauthorized, Message: msg}
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// VerifyToken confirms the stored token is still accepted and returns its user.
func (c *Client) VerifyToken(ctx context.Context) (*User, error) {
	var resp struct {
		Valid *bool `json:"valid"`
		User  User  `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/verify", nil, true, &resp); err != nil {
		return nil, err
	}
	if resp.Valid != nil && !*resp.Valid {
		return nil, &RequestError{Method: http.MethodGet, Path: "/api/auth/verify", Kind: services.KindUnauthorized, Message: "token rejected"}
	}
	return &resp.User, nil
}

// Logout invalidates the token on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", struct{}{}, true, nil)
}

// DeleteAccount removes the authenticated account.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/delete-account", struct{}{}, true, nil)
}

// GetAnalysisResult fetches the finished analysis for a server-side filename.
// A result that is not ready yet yields an error classified as not found.
func (c *Client) GetAnalysisResult(ctx context.Context, filename string) (*Result, error) {
	path := "/api/results/" + url.PathEscape(filename)
	var resp Result
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	if resp.Filename == "" {
		resp.Filename = filename
	}
	return &resp, nil
}

// GetJobResult polls an asynchronous analysis job. Jobs that are still queued
// or running yield an error classified as not found; failed jobs are rejected.
func (c *Client) GetJobResult(ctx context.Context, jobID string) (*Result, error) {
	path := "/api/jobs/" + url.PathEscape(jobID)
	var resp struct {
		Status string  `json:"status"`
		Result *Result `json:"result"`
		Error  string  `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	switch strings.ToLower(resp.Status) {
	case "completed", "done", "succeeded":
		if resp.Result == nil {
			return nil, &RequestError{Method: http.MethodGet, Path: path, Kind: services.KindUnknown, Message: "job completed without a result"}
		}
		return resp.Result, nil
	case "failed", "error":
		msg := resp.Error
		if msg == "" {
			msg = "analysis job failed"
		}
		return nil, &RequestError{Method: http.MethodGet, Path: path, Kind: services.KindServerRejected, Message: msg, Err: ErrJobFailed}
	default:
		return nil, &RequestError{Method: http.MethodGet, Path: path, Kind: services.KindNotFound, Message: "job " + resp.Status}
	}
}

// History lists past analyses.
func (c *Client) History(ctx context.Context) ([]HistoryItem, error) {
	var resp struct {
		History []HistoryItem `json:"history"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/history", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// ClearHistory deletes every stored analysis.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/history/clear", nil, true, nil)
}

// GenerateTrainingPlan asks the backend for a plan built from an analysis.
// days defaults to 7.
func (c *Client) GenerateTrainingPlan(ctx context.Context, filename string, days int) (*TrainingPlan, error) {
	if days <= 0 {
		days = 7
	}
	body := map[string]any{"filename": filename, "days": days}
	var resp struct {
		TrainingPlan *TrainingPlan `json:"training_plan"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/training-plan", body, true, &resp); err != nil {
		return nil, err
	}
	if resp.TrainingPlan == nil {
		return nil, &RequestError{Method: http.MethodPost, Path: "/api/training-plan", Kind: services.KindUnknown, Message: "response missing training_plan"}
	}
	return resp.TrainingPlan, nil
}

// GetTrainingPlan fetches a previously generated plan. A missing plan yields
// an error classified as not found.
func (c *Client) GetTrainingPlan(ctx context.Context, filename string) (*TrainingPlan, error) {
	path := "/api/training-plan/" + url.PathEscape(filename)
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &raw); err != nil {
		return nil, err
	}
	var wrapped struct {
		TrainingPlan *TrainingPlan `json:"training_plan"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.TrainingPlan != nil {
		return wrapped.TrainingPlan, nil
	}
	var plan TrainingPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, &RequestError{Method: http.MethodGet, Path: path, Kind: services.KindUnknown, Message: "decode training plan", Err: err}
	}
	return &plan, nil
}

// Compare asks the backend to evaluate two analyses side by side.
func (c *Client) Compare(ctx context.Context, first, second string) (*Comparison, error) {
	body := map[string]string{"video1_filename": first, "video2_filename": second}
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/compare", body, true, &raw); err != nil {
		return nil, err
	}
	var wrapped struct {
		Comparison *Comparison `json:"comparison"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Comparison != nil {
		return wrapped.Comparison, nil
	}
	var cmp Comparison
	if err := json.Unmarshal(raw, &cmp); err != nil {
		return nil, &RequestError{Method: http.MethodPost, Path: "/api/compare", Kind: services.KindUnknown, Message: "decode comparison", Err: err}
	}
	return &cmp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Request, error) {
	c.mu.RLock()
	base, token := c.baseURL, c.token
	c.mu.RUnlock()

	if base == "" {
		return nil, &RequestError{Method: method, Path: path, Kind: services.KindValidation, Message: "backend url is not configured"}
	}
	if auth && token == "" {
		return nil, &RequestError{Method: method, Path: path, Kind: services.KindUnauthorized, Message: "not logged in"}
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Kind: services.KindValidation, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, auth bool, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader, auth)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(c.http, req, path, out)
}

func (c *Client) send(doer HTTPDoer, req *http.Request, path string, out any) error {
	start := time.Now()
	resp, err := doer.Do(req)
	if err != nil {
		reqErr := transportError(req.Method, path, err)
		c.logger.Debug("backend request failed",
			logging.String("method", req.Method),
			logging.String("path", path),
			logging.String(logging.FieldErrorKind, string(reqErr.Kind)),
			logging.Duration("elapsed", time.Since(start)),
			logging.Error(err),
		)
		return reqErr
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		logging.String("method", req.Method),
		logging.String("path", path),
		logging.Int("status_code", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return statusError(req.Method, path, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err != io.EOF {
			switch kind := classifyTransport(err); kind {
			case services.KindTimeout, services.KindAborted, services.KindConnectionFailed:
				return &RequestError{Method: req.Method, Path: path, Kind: kind, StatusCode: resp.StatusCode, Message: "read response", Err: err}
			}
		}
		return &RequestError{Method: req.Method, Path: path, Kind: services.KindUnknown, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}
