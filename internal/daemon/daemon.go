package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"omnireel/internal/api"
	"omnireel/internal/cache"
	"omnireel/internal/capability"
	"omnireel/internal/config"
	"omnireel/internal/jobs"
	"omnireel/internal/knowledge"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/notifications"
	"omnireel/internal/pipeline"
	"omnireel/internal/preflight"
	"omnireel/internal/providers"
	"omnireel/internal/stage"
	"omnireel/internal/storage"
	"omnireel/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *storage.DB
	store     *jobs.Store
	ledger    *ledger.Ledger
	knowledge knowledge.Store
	closeKB   func() error
	registry  *capability.Registry
	cache     *cache.Cache
	notifier  notifications.Service
	workflow  *workflow.Manager
	api       *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	APIAddress   string
	Workflow     workflow.StatusSummary
	Preflight    []preflight.Result
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	extra    []capability.Provider
	notifier notifications.Service
}

// WithProviders registers providers built outside the config, replacing
// configured providers with the same name.
func WithProviders(p ...capability.Provider) Option {
	return func(o *options) { o.extra = append(o.extra, p...) }
}

// WithNotifier replaces the notifier built from config.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// New opens the database and wires the registry, cache, executor, stage
// pipeline, workflow manager and reporting API.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Paths.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		db:       db,
		store:    jobs.NewStore(db),
		ledger:   ledger.New(db),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		notifier: o.notifier,
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	d.knowledge, d.closeKB, err = knowledge.Open(ctx, cfg.Knowledge, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.registry, err = providers.BuildRegistry(cfg, o.extra...)
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("build provider registry: %w", err)
	}
	d.cache = cache.New(ctx, cache.NewSQLiteBackend(db), cache.Options{
		MaxBytes: cfg.CacheMaxBytes(),
		TTL:      cfg.CacheTTL,
		Logger:   logger,
	})
	executor := capability.NewExecutor(d.registry, d.cache, providers.Policy(cfg.Retry),
		capability.WithLogger(logger),
		capability.WithRecorder(workflow.LedgerRecorder(d.ledger, logger)),
	)

	stages, err := pipeline.NewRegistry(pipeline.Deps{Config: cfg, Knowledge: d.knowledge, Logger: logger})
	if err != nil {
		d.closeStores()
		return nil, fmt.Errorf("build stage registry: %w", err)
	}
	for _, h := range stages.Check(d.registry) {
		if !h.Ready {
			logging.WarnWithContext(d.logger, "stage not ready", "stage_not_ready",
				logging.String(logging.FieldStage, h.Name),
				logging.String("detail", h.Detail),
				logging.String(logging.FieldErrorHint, "bind the missing capabilities under [capabilities]"),
				logging.String(logging.FieldImpact, "jobs block when they reach this stage"),
			)
		}
	}
	d.workflow = workflow.NewManager(cfg, d.store, d.ledger, stage.NewRunner(stages, executor, logger), logger,
		workflow.WithNotifier(d.notifier),
		workflow.WithCapabilityLister(d.registry),
	)

	if cfg.API.Enabled {
		d.api = api.NewServer(cfg.API.Bind, cfg.API.Token, api.Deps{
			Jobs:      d.store,
			Ledger:    d.ledger,
			Workflow:  d.workflow,
			Providers: d.registry,
			Cache:     d.cache,
		}, logger)
	}
	return d, nil
}

// Start acquires the daemon lock, checks directories and launches the
// workflow manager and the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another omnireel daemon instance is already running")
	}

	checks := preflight.RunAll(ctx, d.cfg)
	for _, r := range checks {
		if !r.Passed {
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldErrorHint, "run 'omnireel preflight' for details"),
			)
		}
	}
	if !preflight.DirectoriesOK(checks) {
		_ = d.lock.Unlock()
		return errors.New("preflight failed: required directories are not accessible")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.api != nil {
		if err := d.api.Start(runCtx); err != nil {
			d.workflow.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("omnireel daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.api != nil {
		d.api.Stop()
	}
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("omnireel daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.closeStores()
}

func (d *Daemon) closeStores() error {
	var errs []error
	if d.closeKB != nil {
		errs = append(errs, d.closeKB())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.Paths.DatabasePath,
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(ctx),
		Preflight:    preflight.RunAll(ctx, d.cfg),
	}
	if d.api != nil {
		st.APIAddress = d.api.Addr()
	}
	return st
}

// TestNotification publishes a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Store exposes the job store.
func (d *Daemon) Store() *jobs.Store { return d.store }

// Ledger exposes the job ledger.
func (d *Daemon) Ledger() *ledger.Ledger { return d.ledger }

// Knowledge exposes the knowledge store.
func (d *Daemon) Knowledge() knowledge.Store { return d.knowledge }
