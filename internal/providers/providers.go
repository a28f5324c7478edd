// Package providers builds the capability registry and executor from the
// [[providers]] and [capabilities] config sections.
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"omnireel/internal/capability"
	"omnireel/internal/config"
	"omnireel/internal/providers/chat"
	"omnireel/internal/providers/webhook"
)

// New constructs the provider a config entry describes.
func New(p config.Provider, client *http.Client) (capability.Provider, error) {
	switch p.Kind {
	case "chat":
		var opts []chat.Option
		if client != nil {
			opts = append(opts, chat.WithHTTPClient(client))
		}
		return chat.New(chat.Config{
			Name:           p.Name,
			APIKey:         p.APIKey,
			BaseURL:        p.BaseURL,
			Model:          p.Model,
			Referer:        p.Referer,
			Title:          p.Title,
			TimeoutSeconds: p.TimeoutSeconds,
			Headers:        p.Headers,
		}, opts...), nil
	case "webhook":
		return webhook.New(webhook.Config{
			Name:           p.Name,
			URL:            p.BaseURL,
			Token:          p.APIKey,
			TimeoutSeconds: p.TimeoutSeconds,
			Headers:        p.Headers,
		}, client), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported kind %q", p.Name, p.Kind)
	}
}

// LimitsFor derives registry limits from a provider entry and the retry policy.
func LimitsFor(p config.Provider, retry config.Retry) capability.Limits {
	return capability.Limits{
		QuotaPerWindow:  p.QuotaPerWindow,
		QuotaWindow:     time.Duration(p.QuotaWindowSeconds) * time.Second,
		QuotaReset:      time.Duration(p.QuotaResetSeconds) * time.Second,
		BreakerFailures: retry.BreakerFailures,
		BreakerCooldown: time.Duration(retry.BreakerCooldown) * time.Second,
		CostPerCall:     p.CostPerCall,
	}
}

// Policy derives the executor retry policy.
func Policy(retry config.Retry) capability.Policy {
	return capability.Policy{
		Attempts:       retry.Attempts,
		BaseDelay:      time.Duration(retry.BaseDelayMillis) * time.Millisecond,
		MaxDelay:       time.Duration(retry.MaxDelayMillis) * time.Millisecond,
		AttemptTimeout: time.Duration(retry.AttemptTimeout) * time.Second,
	}
}

// BuildRegistry registers every configured provider and binds capabilities
// in their configured priority order. Extra providers, typically test
// doubles, replace configured ones with the same name.
func BuildRegistry(cfg *config.Config, extra ...capability.Provider) (*capability.Registry, error) {
	registry := capability.NewRegistry()
	for _, p := range cfg.Providers {
		provider, err := New(p, nil)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider, LimitsFor(p, cfg.Retry)); err != nil {
			return nil, err
		}
	}
	for _, provider := range extra {
		limits := capability.Limits{
			BreakerFailures: cfg.Retry.BreakerFailures,
			BreakerCooldown: time.Duration(cfg.Retry.BreakerCooldown) * time.Second,
			QuotaReset:      time.Duration(cfg.Retry.DefaultQuotaReset) * time.Second,
		}
		if p, ok := cfg.Provider(provider.Name()); ok {
			limits = LimitsFor(p, cfg.Retry)
		}
		if err := registry.Register(provider, limits); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(cfg.Capabilities))
	for name := range cfg.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := registry.Bind(name, cfg.Capabilities[name]...); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
