package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omnireel/internal/logging"
)

// Start returns any jobs left running by a previous process to pending, then
// launches the worker pool and the maintenance loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.runner == nil {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	m.mu.Unlock()

	reset, err := m.store.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("reset running jobs: %w", err)
	}
	if reset > 0 {
		m.logger.Info("returned interrupted jobs to pending",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "jobs_reset"),
		)
	}

	workers := m.cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}

	m.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	for i := 1; i <= workers; i++ {
		go m.runWorker(runCtx, fmt.Sprintf("worker-%d", i))
	}
	go m.runMaintenance(runCtx)

	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop terminates background processing and waits for workers to exit.
// Interrupted jobs stay running and are reset at the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, worker string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorker, worker))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.Claim(ctx, worker)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_claim_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			m.wait(ctx, m.pollInterval)
			continue
		}
		if job == nil {
			m.wait(ctx, m.pollInterval)
			continue
		}
		m.processJob(ctx, worker, job)
	}
}

func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()
	interval := m.cfg.Workflow.HeartbeatDuration()
	if interval <= 0 {
		interval = m.pollInterval
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastArchive := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := m.heartbeat.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "reclaim stale jobs failed", "heartbeat_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
				logging.String(logging.FieldImpact, "crashed jobs stay running until the next sweep"),
			)
		}
		if every := m.cfg.Workflow.ArchiveDuration(); every > 0 && m.now().Sub(lastArchive) >= every {
			lastArchive = m.now()
			m.archive(ctx)
		}
	}
}

// archive hides terminal jobs older than the retention window.
func (m *Manager) archive(ctx context.Context) {
	retention := m.cfg.Workflow.RetentionDuration()
	if retention <= 0 {
		return
	}
	archived, err := m.store.ArchiveTerminal(ctx, m.now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "archive sweep failed", "archive_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
		}
		return
	}
	if archived > 0 {
		m.logger.Info("archived terminal jobs",
			logging.Int64("count", archived),
			logging.String(logging.FieldEventType, "jobs_archived"),
		)
	}
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
