package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"omnireel/internal/capability"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "demo-model" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInvokeReturnsModelJSON(t *testing.T) {
	server := completionServer(t, "```json\n{\"hook\":\"Memory is the new oil\"}\n```")
	client := New(Config{Name: "gemini-pro", APIKey: "test", BaseURL: server.URL, Model: "demo-model"})

	out, err := client.Invoke(context.Background(), "deep-reasoning", json.RawMessage(`{"prompt":"write a hook"}`))
	if err != nil {
		t.Fatalf("Invoke returned error: %v", err)
	}
	var parsed struct {
		Hook string `json:"hook"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil || parsed.Hook != "Memory is the new oil" {
		t.Fatalf("unexpected output %s (%v)", out, err)
	}
}

func TestInvokeToolCallArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "tool_calls",
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{"type": "function", "function": map[string]any{"name": "script", "arguments": `{"ok":true}`}},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := New(Config{Name: "p", APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestInvokeClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		want       capability.Outcome
	}{
		{"rate limited", http.StatusTooManyRequests, "30", capability.OutcomeQuota},
		{"server error", http.StatusBadGateway, "", capability.OutcomeTransient},
		{"timeout", http.StatusRequestTimeout, "", capability.OutcomeTransient},
		{"unauthorized", http.StatusUnauthorized, "", capability.OutcomeFatal},
		{"bad request", http.StatusBadRequest, "", capability.OutcomeFatal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := New(Config{Name: "p", APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
			_, err := client.Invoke(context.Background(), "deep-reasoning", json.RawMessage(`{"prompt":"x"}`))
			if got := capability.OutcomeOf(err); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, err)
			}
			var perr *capability.ProviderError
			if !errors.As(err, &perr) || perr.StatusCode != tc.status {
				t.Fatalf("expected provider error with status %d, got %v", tc.status, err)
			}
			if tc.retryAfter == "30" && perr.RetryAfter != 30*time.Second {
				t.Fatalf("expected retry-after 30s, got %s", perr.RetryAfter)
			}
		})
	}
}

func TestInvokeRejectsMissingPromptAndKey(t *testing.T) {
	client := New(Config{Name: "p", BaseURL: "http://127.0.0.1:0"})
	if _, err := client.Invoke(context.Background(), "x", json.RawMessage(`{"prompt":"hi"}`)); capability.OutcomeOf(err) != capability.OutcomeFatal {
		t.Fatalf("expected fatal for missing key, got %v", err)
	}
	client = New(Config{Name: "p", APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	if _, err := client.Invoke(context.Background(), "x", json.RawMessage(`{}`)); capability.OutcomeOf(err) != capability.OutcomeFatal {
		t.Fatalf("expected fatal for missing prompt, got %v", err)
	}
}

func TestEmptyContentIsTransient(t *testing.T) {
	server := completionServer(t, "")
	client := New(Config{Name: "p", APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	_, err := client.Invoke(context.Background(), "deep-reasoning", json.RawMessage(`{"prompt":"x"}`))
	if capability.OutcomeOf(err) != capability.OutcomeTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestDecodeJSONWithProse(t *testing.T) {
	var out map[string]int
	if err := DecodeJSON("Sure! Here it is: {\"n\": 3} hope that helps", &out); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if out["n"] != 3 {
		t.Fatalf("unexpected decode %v", out)
	}
	if err := DecodeJSON("no json here", &out); err == nil {
		t.Fatal("expected error for prose without JSON")
	}
}
