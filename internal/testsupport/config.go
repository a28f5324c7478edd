package testsupport

import (
	"path/filepath"
	"testing"

	"omnireel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized config seeded with unique temp directories
// per test. It applies any provided options before normalizing.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DatabasePath = filepath.Join(base, "data", "omnireel.db")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Workflow.PollInterval = 1
	cfgVal.Workflow.Workers = 1
	cfgVal.Retry.BaseDelayMillis = 1
	cfgVal.Retry.MaxDelayMillis = 5
	cfgVal.Retry.AttemptTimeout = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	return builder.cfg
}

// WithProvider registers a provider definition on the test config.
func WithProvider(p config.Provider) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Providers = append(b.cfg.Providers, p)
	}
}

// WithCapability sets the ordered provider list for a capability.
func WithCapability(capability string, providers ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capabilities[capability] = providers
	}
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
