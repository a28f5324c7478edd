package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"omnireel/internal/config"
	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/notifications"
	"omnireel/internal/stage"
)

// Manager drives jobs through the stage pipeline with a pool of workers.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	ledger       *ledger.Ledger
	runner       *stage.Runner
	logger       *slog.Logger
	notifier     notifications.Service
	providers    stage.CapabilityLister
	pollInterval time.Duration
	now          func() time.Time

	heartbeat *HeartbeatMonitor
	jobLogs   *JobLogs

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *jobs.Job
	active  map[string]string
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier replaces the notifier built from config.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithCapabilityLister enables capability checks in Status.
func WithCapabilityLister(l stage.CapabilityLister) ManagerOption {
	return func(m *Manager) { m.providers = l }
}

// WithClock overrides the clock used for resume times and sweeps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *jobs.Store, l *ledger.Ledger, runner *stage.Runner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:          cfg,
		store:        store,
		ledger:       l,
		runner:       runner,
		logger:       logger,
		notifier:     notifications.NewService(cfg),
		pollInterval: cfg.Workflow.PollDuration(),
		now:          time.Now,
		jobLogs:      NewJobLogs(cfg),
		active:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.heartbeat = NewHeartbeatMonitor(store, logger,
		cfg.Workflow.HeartbeatDuration(),
		cfg.Workflow.HeartbeatTimeoutDuration(),
	)
	return m
}
