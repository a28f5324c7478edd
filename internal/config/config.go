package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory locations.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	ArtifactDir  string `toml:"artifact_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

// API contains the reporting API listener settings.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Token   string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures ntfy delivery of job outcomes. An empty topic
// disables notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains daemon timing, concurrency and retention settings.
// All intervals are in seconds.
type Workflow struct {
	Workers              int `toml:"workers"`
	PollInterval         int `toml:"poll_interval"`
	HeartbeatInterval    int `toml:"heartbeat_interval"`
	HeartbeatTimeout     int `toml:"heartbeat_timeout"`
	JobTimeout           int `toml:"job_timeout"`
	BlockedRetryInterval int `toml:"blocked_retry_interval"`
	RetentionHours       int `toml:"retention_hours"`
	ArchiveInterval      int `toml:"archive_interval"`
}

// Retry contains the per-provider retry and circuit-breaker policy.
type Retry struct {
	Attempts          int `toml:"attempts"`
	BaseDelayMillis   int `toml:"base_delay_ms"`
	MaxDelayMillis    int `toml:"max_delay_ms"`
	AttemptTimeout    int `toml:"attempt_timeout"`
	BreakerFailures   int `toml:"breaker_failures"`
	BreakerCooldown   int `toml:"breaker_cooldown"`
	DefaultQuotaReset int `toml:"default_quota_reset"`
}

// Cache contains artifact cache settings. TTL values are Go duration strings
// or "permanent".
type Cache struct {
	Enabled    bool              `toml:"enabled"`
	MaxMiB     int               `toml:"max_mib"`
	DefaultTTL string            `toml:"default_ttl"`
	TTL        map[string]string `toml:"ttl"`
}

// Provider describes one backend able to serve one or more capabilities.
type Provider struct {
	Name               string            `toml:"name"`
	Kind               string            `toml:"kind"`
	BaseURL            string            `toml:"base_url"`
	APIKey             string            `toml:"api_key"`
	Model              string            `toml:"model"`
	Referer            string            `toml:"referer"`
	Title              string            `toml:"title"`
	TimeoutSeconds     int               `toml:"timeout_seconds"`
	QuotaPerWindow     int               `toml:"quota_per_window"`
	QuotaWindowSeconds int               `toml:"quota_window_seconds"`
	QuotaResetSeconds  int               `toml:"quota_reset_seconds"`
	CostPerCall        float64           `toml:"cost_per_call"`
	Headers            map[string]string `toml:"headers"`
}

// Humanize contains the numeric bounds enforced on perturbation plans.
type Humanize struct {
	VisualMaxOffset      int     `toml:"visual_max_offset"`
	VisualDistribution   string  `toml:"visual_distribution"`
	NoiseMaxIntensity    float64 `toml:"noise_max_intensity"`
	PitchMaxCents        float64 `toml:"pitch_max_cents"`
	PitchIntervalSeconds float64 `toml:"pitch_interval_seconds"`
	BreathMinGapSeconds  float64 `toml:"breath_min_gap_seconds"`
	BreathMinSeconds     float64 `toml:"breath_min_seconds"`
	BreathMaxSeconds     float64 `toml:"breath_max_seconds"`
	BreathMarginSeconds  float64 `toml:"breath_margin_seconds"`
	BreathMaxGain        float64 `toml:"breath_max_gain"`
	BreathsPerMinute     float64 `toml:"breaths_per_minute"`
	SilenceThreshold     float64 `toml:"silence_threshold"`
}

// Knowledge selects the knowledge store driver.
type Knowledge struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Pipeline contains content-shaping knobs for the stage descriptors.
type Pipeline struct {
	MaxResultsPerSource int `toml:"max_results_per_source"`
	SummaryItems        int `toml:"summary_items"`
	ScriptSeconds       int `toml:"script_seconds"`
}

// Config encapsulates all configuration values for omnireel.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact and log directories plus the SQLite database
//   - API: read-only reporting listener
//   - Logging: log format, level, and retention
//   - Workflow: worker count, polling, heartbeats, job timeout, retention
//   - Retry: per-provider retries, backoff, attempt timeout, circuit breaker
//   - Cache: artifact cache budget and per-capability TTLs
//   - Providers: provider catalogue
//   - Capabilities: ordered provider names per capability
//   - Humanize: perturbation bounds
//   - Knowledge: knowledge store driver
//   - Pipeline: stage content knobs
//   - Notifications: ntfy topic for job outcomes
type Config struct {
	Paths         Paths               `toml:"paths"`
	API           API                 `toml:"api"`
	Logging       Logging             `toml:"logging"`
	Workflow      Workflow            `toml:"workflow"`
	Retry         Retry               `toml:"retry"`
	Cache         Cache               `toml:"cache"`
	Providers     []Provider          `toml:"providers"`
	Capabilities  map[string][]string `toml:"capabilities"`
	Humanize      Humanize            `toml:"humanize"`
	Knowledge     Knowledge           `toml:"knowledge"`
	Pipeline      Pipeline            `toml:"pipeline"`
	Notifications Notifications       `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("omnireel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir, filepath.Dir(c.Paths.DatabasePath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "omnireel.lock")
}

// JobArtifactDir returns the directory holding artifacts produced for a job.
func (c *Config) JobArtifactDir(jobID string) string {
	return filepath.Join(c.Paths.ArtifactDir, jobID)
}

// CacheTTL returns the time-to-live for a capability's cached results. Zero
// means entries never expire.
func (c *Config) CacheTTL(capability string) time.Duration {
	if raw, ok := c.Cache.TTL[capability]; ok {
		if ttl, err := ParseTTL(raw); err == nil {
			return ttl
		}
	}
	ttl, err := ParseTTL(c.Cache.DefaultTTL)
	if err != nil {
		return 0
	}
	return ttl
}

// ParseTTL parses a cache TTL. "permanent", "never" and "0" mean no expiry.
func ParseTTL(raw string) (time.Duration, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "permanent", "never", "0":
		return 0, nil
	}
	ttl, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse ttl %q: %w", raw, err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("parse ttl %q: must not be negative", raw)
	}
	return ttl, nil
}

// CacheMaxBytes returns the cache byte budget.
func (c *Config) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxMiB) * 1024 * 1024
}

// Provider returns the named provider definition.
func (c *Config) Provider(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// PollDuration returns the worker polling interval.
func (w Workflow) PollDuration() time.Duration { return seconds(w.PollInterval) }

// HeartbeatDuration returns the heartbeat interval.
func (w Workflow) HeartbeatDuration() time.Duration { return seconds(w.HeartbeatInterval) }

// HeartbeatTimeoutDuration returns the age after which a running job is reclaimed.
func (w Workflow) HeartbeatTimeoutDuration() time.Duration { return seconds(w.HeartbeatTimeout) }

// JobTimeoutDuration returns the overall budget for one job run.
func (w Workflow) JobTimeoutDuration() time.Duration { return seconds(w.JobTimeout) }

// BlockedRetryDuration returns the resume delay used when no provider reports a reset time.
func (w Workflow) BlockedRetryDuration() time.Duration { return seconds(w.BlockedRetryInterval) }

// RetentionDuration returns how long terminal jobs stay visible.
func (w Workflow) RetentionDuration() time.Duration {
	return time.Duration(w.RetentionHours) * time.Hour
}

// ArchiveDuration returns the archive sweep interval.
func (w Workflow) ArchiveDuration() time.Duration { return seconds(w.ArchiveInterval) }

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
