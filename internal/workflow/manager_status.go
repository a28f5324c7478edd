package workflow

import (
	"context"
	"maps"

	"omnireel/internal/jobs"
	"omnireel/internal/logging"
	"omnireel/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                `json:"running"`
	Workers     int                 `json:"workers"`
	ActiveJobs  map[string]string   `json:"active_jobs"`
	LastError   string              `json:"last_error,omitempty"`
	LastJob     *jobs.Job           `json:"-"`
	JobStats    map[jobs.Status]int `json:"job_stats"`
	StageHealth []stage.Health      `json:"stage_health,omitempty"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		Workers:    m.cfg.Workflow.Workers,
		ActiveJobs: maps.Clone(m.active),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_stats_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
	}
	summary.JobStats = stats
	if m.providers != nil && m.runner != nil {
		summary.StageHealth = m.runner.Registry().Check(m.providers)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *jobs.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
