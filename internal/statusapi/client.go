package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crease/internal/analysis"
	"crease/internal/lifecycle"
	"crease/internal/services"
	"crease/internal/upload"
)

// ErrUnavailable means no daemon answered at the configured address.
var ErrUnavailable = errors.New("daemon status api unavailable")

// Client talks to a running daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// NewClient builds a client for bind, e.g. "127.0.0.1:7592".
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, services.Wrap(services.ErrConfiguration, "statusapi", "new client", "status.api_bind is empty", nil)
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse status api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// WithToken sets the bearer token sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = strings.TrimSpace(token)
	return c
}

// Status fetches the daemon summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload fetches the tracked upload. It returns upload.ErrNoUpload when the
// daemon is idle.
func (c *Client) Upload(ctx context.Context) (*UploadView, error) {
	var out UploadView
	if err := c.do(ctx, http.MethodGet, "/api/upload", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartUpload hands form to the daemon, which uploads it in the background.
func (c *Client) StartUpload(ctx context.Context, form analysis.UploadForm) (*UploadView, error) {
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("encode upload form: %w", err)
	}
	var out UploadView
	if err := c.doBody(ctx, http.MethodPost, "/api/upload", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelUpload asks the daemon to cancel the tracked upload.
func (c *Client) CancelUpload(ctx context.Context) error {
	var out CancelResponse
	return c.do(ctx, http.MethodPost, "/api/upload/cancel", &out)
}

// SetLifecycle publishes a manual lifecycle change and reports whether the
// daemon's state changed.
func (c *Client) SetLifecycle(ctx context.Context, state lifecycle.State) (bool, error) {
	var out LifecycleResponse
	if err := c.do(ctx, http.MethodPost, "/api/lifecycle/"+url.PathEscape(string(state)), &out); err != nil {
		return false, err
	}
	return out.Changed, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	return c.doBody(ctx, method, path, nil, out)
}

func (c *Client) doBody(ctx context.Context, method, path string, body io.Reader, out any) error {
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &payload)
		if resp.StatusCode == http.StatusNotFound && payload.Error == upload.ErrNoUpload.Error() {
			return upload.ErrNoUpload
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return services.Wrap(services.ErrUnauthorized, "statusapi", method+" "+path, "daemon rejected the status api token", nil)
		}
		if resp.StatusCode == http.StatusBadRequest {
			return services.Wrap(services.ErrValidation, "statusapi", method+" "+path, payload.Error, nil)
		}
		if payload.Error == "" {
			payload.Error = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("status api %s %s returned %d: %s", method, path, resp.StatusCode, payload.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode status api response: %w", err)
	}
	return nil
}
