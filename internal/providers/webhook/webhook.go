// Package webhook calls external connectors (paper, news and trend scouts,
// the media renderer) over a plain JSON POST.
//
// The request body is {"capability": ..., "input": ...}; a 2xx response body
// must be JSON and becomes the capability output. Non-2xx responses are
// classified with capability.ClassifyHTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnireel/internal/capability"
	"omnireel/internal/services"
)

const (
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 32 << 20
)

// Config describes one connector endpoint.
type Config struct {
	Name           string
	URL            string
	Token          string
	TimeoutSeconds int
	Headers        map[string]string
}

// Provider is a capability.Provider backed by an HTTP connector.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New builds a connector provider. A nil client uses one with the configured timeout.
func New(cfg Config, client *http.Client) *Provider {
	if client == nil {
		timeout := defaultTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	return &Provider{cfg: cfg, client: client}
}

// Name implements capability.Provider.
func (p *Provider) Name() string { return p.cfg.Name }

type envelope struct {
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input"`
}

// Invoke implements capability.Provider.
func (p *Provider) Invoke(ctx context.Context, capabilityName string, input json.RawMessage) (json.RawMessage, error) {
	if p.cfg.URL == "" {
		return nil, capability.Fatal(p.cfg.Name+": url not configured", nil)
	}
	body, err := json.Marshal(envelope{Capability: capabilityName, Input: input})
	if err != nil {
		return nil, capability.Fatal("encode connector request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, capability.Fatal("build connector request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, capability.Transient(fmt.Sprintf("%s: request failed", p.cfg.Name), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, capability.Transient(fmt.Sprintf("%s: read response", p.cfg.Name), err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, capability.ClassifyHTTP(resp.StatusCode, resp.Header.Get("Retry-After"), data)
	}
	if !json.Valid(data) {
		return nil, capability.Transient(fmt.Sprintf("%s: response is not JSON", p.cfg.Name), nil)
	}
	return json.RawMessage(data), nil
}
