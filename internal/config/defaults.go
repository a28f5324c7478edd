package config

const (
	defaultConfigPath             = "~/.config/omnireel/config.toml"
	defaultDataDir                = "~/.local/share/omnireel"
	defaultArtifactDir            = "~/.local/share/omnireel/artifacts"
	defaultLogDir                 = "~/.local/share/omnireel/logs"
	defaultDatabaseName           = "omnireel.db"
	defaultAPIBind                = "127.0.0.1:7497"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultWorkers                = 2
	defaultPollInterval           = 5
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultJobTimeout             = 1800
	defaultBlockedRetryInterval   = 900
	defaultRetentionHours         = 24 * 14
	defaultArchiveInterval        = 3600
	defaultRetryAttempts          = 3
	defaultRetryBaseDelayMillis   = 500
	defaultRetryMaxDelayMillis    = 8000
	defaultAttemptTimeout         = 60
	defaultBreakerFailures        = 5
	defaultBreakerCooldown        = 300
	defaultQuotaResetSeconds      = 3600
	defaultCacheMaxMiB            = 512
	defaultCacheTTL               = "24h"
	defaultProviderTimeoutSeconds = 60
	defaultChatBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultChatReferer            = "https://github.com/omnireel/omnireel"
	defaultChatTitle              = "omnireel"
	defaultVisualMaxOffset        = 2
	defaultVisualDistribution     = "uniform"
	defaultNoiseMaxIntensity      = 3.0
	defaultPitchMaxCents          = 12.0
	defaultPitchIntervalSeconds   = 0.75
	defaultBreathMinGapSeconds    = 0.3
	defaultBreathMinSeconds       = 0.12
	defaultBreathMaxSeconds       = 0.35
	defaultBreathMarginSeconds    = 0.04
	defaultBreathMaxGain          = 0.08
	defaultBreathsPerMinute       = 6.0
	defaultSilenceThreshold       = 0.02
	defaultKnowledgeDriver        = "sqlite"
	defaultMaxResultsPerSource    = 5
	defaultSummaryItems           = 5
	defaultScriptSeconds          = 60
	defaultNtfyRequestTimeout     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
		},
		API: API{
			Enabled: true,
			Bind:    defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Workflow: Workflow{
			Workers:              defaultWorkers,
			PollInterval:         defaultPollInterval,
			HeartbeatInterval:    defaultHeartbeatInterval,
			HeartbeatTimeout:     defaultHeartbeatTimeout,
			JobTimeout:           defaultJobTimeout,
			BlockedRetryInterval: defaultBlockedRetryInterval,
			RetentionHours:       defaultRetentionHours,
			ArchiveInterval:      defaultArchiveInterval,
		},
		Retry: Retry{
			Attempts:          defaultRetryAttempts,
			BaseDelayMillis:   defaultRetryBaseDelayMillis,
			MaxDelayMillis:    defaultRetryMaxDelayMillis,
			AttemptTimeout:    defaultAttemptTimeout,
			BreakerFailures:   defaultBreakerFailures,
			BreakerCooldown:   defaultBreakerCooldown,
			DefaultQuotaReset: defaultQuotaResetSeconds,
		},
		Cache: Cache{
			Enabled:    true,
			MaxMiB:     defaultCacheMaxMiB,
			DefaultTTL: defaultCacheTTL,
			TTL: map[string]string{
				"source.trends":  "6h",
				"source.news":    "2h",
				"source.papers":  "72h",
				"source.history": "permanent",
			},
		},
		Capabilities: map[string][]string{},
		Humanize: Humanize{
			VisualMaxOffset:      defaultVisualMaxOffset,
			VisualDistribution:   defaultVisualDistribution,
			NoiseMaxIntensity:    defaultNoiseMaxIntensity,
			PitchMaxCents:        defaultPitchMaxCents,
			PitchIntervalSeconds: defaultPitchIntervalSeconds,
			BreathMinGapSeconds:  defaultBreathMinGapSeconds,
			BreathMinSeconds:     defaultBreathMinSeconds,
			BreathMaxSeconds:     defaultBreathMaxSeconds,
			BreathMarginSeconds:  defaultBreathMarginSeconds,
			BreathMaxGain:        defaultBreathMaxGain,
			BreathsPerMinute:     defaultBreathsPerMinute,
			SilenceThreshold:     defaultSilenceThreshold,
		},
		Knowledge: Knowledge{
			Driver: defaultKnowledgeDriver,
		},
		Pipeline: Pipeline{
			MaxResultsPerSource: defaultMaxResultsPerSource,
			SummaryItems:        defaultSummaryItems,
			ScriptSeconds:       defaultScriptSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
	}
}
