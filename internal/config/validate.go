package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateCapabilities(); err != nil {
		return err
	}
	if err := c.validateHumanize(); err != nil {
		return err
	}
	if err := c.validateKnowledge(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":                c.Workflow.Workers,
		"workflow.poll_interval":          c.Workflow.PollInterval,
		"workflow.job_timeout":            c.Workflow.JobTimeout,
		"workflow.blocked_retry_interval": c.Workflow.BlockedRetryInterval,
		"workflow.archive_interval":       c.Workflow.ArchiveInterval,
		"pipeline.max_results_per_source": c.Pipeline.MaxResultsPerSource,
		"pipeline.summary_items":          c.Pipeline.SummaryItems,
		"pipeline.script_seconds":         c.Pipeline.ScriptSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.RetentionHours < 0 {
		return errors.New("workflow.retention_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.attempts":            c.Retry.Attempts,
		"retry.base_delay_ms":       c.Retry.BaseDelayMillis,
		"retry.max_delay_ms":        c.Retry.MaxDelayMillis,
		"retry.attempt_timeout":     c.Retry.AttemptTimeout,
		"retry.default_quota_reset": c.Retry.DefaultQuotaReset,
	}); err != nil {
		return err
	}
	if c.Retry.MaxDelayMillis < c.Retry.BaseDelayMillis {
		return errors.New("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	if c.Retry.BreakerFailures < 0 || c.Retry.BreakerCooldown < 0 {
		return errors.New("retry.breaker_failures and retry.breaker_cooldown must be >= 0")
	}
	return nil
}

func (c *Config) validateCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if c.Cache.MaxMiB <= 0 {
		return errors.New("cache.max_mib must be positive when cache.enabled is true")
	}
	if _, err := ParseTTL(c.Cache.DefaultTTL); err != nil {
		return fmt.Errorf("cache.default_ttl: %w", err)
	}
	for capability, raw := range c.Cache.TTL {
		if _, err := ParseTTL(raw); err != nil {
			return fmt.Errorf("cache.ttl.%s: %w", capability, err)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name must be set", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("providers: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Kind {
		case "chat":
			if p.Model == "" {
				return fmt.Errorf("providers.%s: model must be set for chat providers", p.Name)
			}
		case "webhook":
			if p.BaseURL == "" {
				return fmt.Errorf("providers.%s: base_url must be set for webhook providers", p.Name)
			}
		default:
			return fmt.Errorf("providers.%s: unsupported kind %q (want chat or webhook)", p.Name, p.Kind)
		}
		if p.QuotaPerWindow < 0 || p.QuotaWindowSeconds < 0 {
			return fmt.Errorf("providers.%s: quota values must be >= 0", p.Name)
		}
		if p.QuotaPerWindow > 0 && p.QuotaWindowSeconds == 0 {
			return fmt.Errorf("providers.%s: quota_window_seconds must be set when quota_per_window is set", p.Name)
		}
		if p.CostPerCall < 0 {
			return fmt.Errorf("providers.%s: cost_per_call must be >= 0", p.Name)
		}
	}
	return nil
}

func (c *Config) validateCapabilities() error {
	capabilities := make([]string, 0, len(c.Capabilities))
	for capability := range c.Capabilities {
		capabilities = append(capabilities, capability)
	}
	sort.Strings(capabilities)
	for _, capability := range capabilities {
		if strings.TrimSpace(capability) == "" {
			return errors.New("capabilities: empty capability name")
		}
		names := c.Capabilities[capability]
		if len(names) == 0 {
			return fmt.Errorf("capabilities.%s: at least one provider is required", capability)
		}
		for _, name := range names {
			if _, ok := c.Provider(name); !ok {
				return fmt.Errorf("capabilities.%s: unknown provider %q", capability, name)
			}
		}
	}
	return nil
}

func (c *Config) validateHumanize() error {
	h := c.Humanize
	if h.VisualMaxOffset < 0 {
		return errors.New("humanize.visual_max_offset must be >= 0")
	}
	switch h.VisualDistribution {
	case "uniform", "gaussian":
	default:
		return fmt.Errorf("humanize.visual_distribution: unsupported value %q", h.VisualDistribution)
	}
	for key, value := range map[string]float64{
		"humanize.noise_max_intensity":    h.NoiseMaxIntensity,
		"humanize.pitch_max_cents":        h.PitchMaxCents,
		"humanize.breath_margin_seconds":  h.BreathMarginSeconds,
		"humanize.breath_max_gain":        h.BreathMaxGain,
		"humanize.breaths_per_minute":     h.BreathsPerMinute,
		"humanize.silence_threshold":      h.SilenceThreshold,
		"humanize.breath_min_gap_seconds": h.BreathMinGapSeconds,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	if h.PitchIntervalSeconds <= 0 {
		return errors.New("humanize.pitch_interval_seconds must be positive")
	}
	if h.BreathMinSeconds <= 0 || h.BreathMaxSeconds < h.BreathMinSeconds {
		return errors.New("humanize.breath_min_seconds must be positive and <= humanize.breath_max_seconds")
	}
	if h.BreathMaxGain > 1 || h.SilenceThreshold > 1 {
		return errors.New("humanize.breath_max_gain and humanize.silence_threshold must be <= 1")
	}
	return nil
}

func (c *Config) validateKnowledge() error {
	switch c.Knowledge.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Knowledge.DSN == "" {
			return errors.New("knowledge.dsn must be set when knowledge.driver is postgres (or set OMNIREEL_KNOWLEDGE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("knowledge.driver: unsupported value %q (want sqlite or postgres)", c.Knowledge.Driver)
	}
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
