package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"omnireel/internal/config"
	"omnireel/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{"title": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     []string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "completed",
			event:          notifications.EventJobCompleted,
			payload:        notifications.Payload{"title": "HBM memory wars"},
			expectTitle:    "omnireel - Ready",
			expectBody:     []string{"Ready to publish: HBM memory wars"},
			expectTags:     "omnireel,job,completed",
			expectPriority: "high",
		},
		{
			name:  "blocked",
			event: notifications.EventJobBlocked,
			payload: notifications.Payload{
				"title":     "HBM memory wars",
				"stage":     "scripting",
				"reason":    "deep-reasoning: all providers exhausted",
				"resume_at": "2026-05-01T10:00:00Z",
			},
			expectTitle: "omnireel - Blocked",
			expectBody:  []string{"Blocked in scripting: HBM memory wars", "all providers exhausted", "Resumes at 2026-05-01T10:00:00Z"},
			expectTags:  "omnireel,job,blocked",
		},
		{
			name:           "failed falls back to job id",
			event:          notifications.EventJobFailed,
			payload:        notifications.Payload{"job_id": "abc", "stage": "humanizing", "reason": "render unreadable"},
			expectTitle:    "omnireel - Failed",
			expectBody:     []string{"Failed in humanizing: abc", "render unreadable"},
			expectTags:     "omnireel,job,failed",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "omnireel - Test",
			expectBody:     []string{"Notification system test"},
			expectTags:     "omnireel,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var (
				gotTitle, gotTags, gotPriority, gotBody string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTitle = r.Header.Get("Title")
				gotTags = r.Header.Get("Tags")
				gotPriority = r.Header.Get("Priority")
				data, _ := io.ReadAll(r.Body)
				gotBody = string(data)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			if gotTitle != tc.expectTitle {
				t.Fatalf("title = %q, want %q", gotTitle, tc.expectTitle)
			}
			for _, want := range tc.expectBody {
				if !strings.Contains(gotBody, want) {
					t.Fatalf("body %q missing %q", gotBody, want)
				}
			}
			if gotTags != tc.expectTags {
				t.Fatalf("tags = %q, want %q", gotTags, tc.expectTags)
			}
			if gotPriority != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", gotPriority, tc.expectPriority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"job_id": "a"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "http://127.0.0.1:1"
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.Event("nope"), nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
