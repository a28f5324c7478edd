package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"omnireel/internal/capability"
	"omnireel/internal/providers/webhook"
	"omnireel/internal/services"
)

func TestInvokePostsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.Header.Get("X-Request-ID"); got != "req-1" {
			t.Errorf("unexpected request id %q", got)
		}
		var body struct {
			Capability string          `json:"capability"`
			Input      json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Capability != "source.papers" || string(body.Input) != `{"query":["hbm"]}` {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = w.Write([]byte(`{"items":[{"title":"HBM3E","url":"https://arxiv.org/abs/1"}]}`))
	}))
	defer server.Close()

	p := webhook.New(webhook.Config{Name: "arxiv-connector", URL: server.URL, Token: "secret"}, nil)
	ctx := services.WithRequestID(context.Background(), "req-1")
	out, err := p.Invoke(ctx, "source.papers", json.RawMessage(`{"query":["hbm"]}`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !json.Valid(out) {
		t.Fatalf("expected JSON output, got %s", out)
	}
}

func TestInvokeClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   capability.Outcome
	}{
		{http.StatusTooManyRequests, capability.OutcomeQuota},
		{http.StatusServiceUnavailable, capability.OutcomeTransient},
		{http.StatusForbidden, capability.OutcomeFatal},
	}
	for _, tc := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		p := webhook.New(webhook.Config{Name: "c", URL: server.URL}, nil)
		_, err := p.Invoke(context.Background(), "source.news", json.RawMessage(`{}`))
		server.Close()
		if got := capability.OutcomeOf(err); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.want, got)
		}
	}
}

func TestInvokeRejectsNonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()
	p := webhook.New(webhook.Config{Name: "c", URL: server.URL}, nil)
	if _, err := p.Invoke(context.Background(), "source.news", json.RawMessage(`{}`)); capability.OutcomeOf(err) != capability.OutcomeTransient {
		t.Fatalf("expected transient for non-JSON body, got %v", err)
	}
}
