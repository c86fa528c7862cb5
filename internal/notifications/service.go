package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crease/internal/config"
)

const userAgent = "crease/0.1.0"

// Event names an upload milestone that may produce a notification.
type Event string

const (
	EventUploadStarted  Event = "upload_started"
	EventAnalysisReady  Event = "analysis_ready"
	EventUploadFailed   Event = "upload_failed"
	EventUploadTimedOut Event = "upload_timed_out"
	EventTest           Event = "test"
)

// Payload carries event fields keyed by name.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service when a topic is configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	video := payload.text("video")
	if video == "" {
		video = "video"
	}
	switch event {
	case EventAnalysisReady:
		body := fmt.Sprintf("🏏 Analysis ready: %s", video)
		if shot := payload.text("shot"); shot != "" {
			body += "\nShot: " + shot
		}
		if summary := payload.text("summary"); summary != "" {
			body += "\n" + summary
		}
		return message{
			title: "Crease - Analysis Ready",
			body:  body,
			tags:  []string{"crease", "analysis", "ready"},
		}, true
	case EventUploadFailed:
		return message{
			title:    "Crease - Upload Failed",
			body:     fmt.Sprintf("❌ Analysis failed for %s: %s", video, payload.text("error")),
			tags:     []string{"crease", "error", "alert"},
			priority: "high",
		}, true
	case EventUploadTimedOut:
		return message{
			title: "Crease - Upload Timed Out",
			body:  fmt.Sprintf("⏱️ No result for %s within the upload budget", video),
			tags:  []string{"crease", "timeout"},
		}, true
	case EventTest:
		return message{
			title:    "Crease - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"crease", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
