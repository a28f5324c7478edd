package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"omnireel/internal/config"
)

const userAgent = "omnireel/0.1.0"

// Event identifies a job outcome worth telling an operator about.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobBlocked   Event = "job_blocked"
	EventJobFailed    Event = "job_failed"
	EventTest         Event = "test"
)

// Payload carries the event fields. Keys: title, job_id, stage, reason,
// resume_at.
type Payload map[string]string

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService returns an ntfy-backed service, or a no-op when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{endpoint: topic, client: &http.Client{Timeout: timeout}}
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
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	title := strings.TrimSpace(p["title"])
	if title == "" {
		title = strings.TrimSpace(p["job_id"])
	}
	switch event {
	case EventJobCompleted:
		return message{
			title:    "omnireel - Ready",
			body:     fmt.Sprintf("✅ Ready to publish: %s", title),
			tags:     []string{"omnireel", "job", "completed"},
			priority: "high",
		}, true
	case EventJobBlocked:
		body := fmt.Sprintf("⏸️ Blocked in %s: %s", p["stage"], title)
		if reason := strings.TrimSpace(p["reason"]); reason != "" {
			body += "\n" + reason
		}
		if at := strings.TrimSpace(p["resume_at"]); at != "" {
			body += "\nResumes at " + at
		}
		return message{
			title: "omnireel - Blocked",
			body:  body,
			tags:  []string{"omnireel", "job", "blocked"},
		}, true
	case EventJobFailed:
		body := fmt.Sprintf("❌ Failed in %s: %s", p["stage"], title)
		if reason := strings.TrimSpace(p["reason"]); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "omnireel - Failed",
			body:     body,
			tags:     []string{"omnireel", "job", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "omnireel - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"omnireel", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
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
