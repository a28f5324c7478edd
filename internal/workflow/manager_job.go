package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/notifications"
	"omnireel/internal/services"
	"omnireel/internal/stage"
)

var errOperatorCancel = services.Wrap(services.ErrCancelled, "", "cancel", jobs.CancelMessage, nil)

// processJob runs the claimed job from its first incomplete stage until it
// completes, blocks or fails.
func (m *Manager) processJob(ctx context.Context, worker string, job *jobs.Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithWorker(jobCtx, worker)
	jobCtx = services.WithRequestID(jobCtx, uuid.NewString())

	logger, closeLog := m.jobLogs.Open(m.logger, job)
	defer closeLog()
	logger = logging.WithContext(jobCtx, logger)

	m.track(job.ID, worker)
	defer m.untrack(job.ID)
	m.setLastJob(job)

	m.record(jobCtx, ledger.Record{
		JobID:    job.ID,
		Kind:     ledger.KindStatusChanged,
		Stage:    string(job.Stage),
		ToStatus: string(jobs.StatusRunning),
		Reason:   fmt.Sprintf("claimed by %s (run %d)", worker, job.RunCount),
	})
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.Int("run_count", job.RunCount),
		logging.String("next_stage", string(jobs.FirstIncomplete(job.Results))),
	)

	runCtx, cancelRun := context.WithCancelCause(jobCtx)
	defer cancelRun(nil)
	if timeout := m.cfg.Workflow.JobTimeoutDuration(); timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	hbCtx, hbCancel := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID, func() { cancelRun(errOperatorCancel) })
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	jc := stage.JobContext{Job: job, ArtifactDir: m.cfg.JobArtifactDir(job.ID)}
	for next := jobs.FirstIncomplete(job.Results); next != jobs.StageDone; next = jobs.FirstIncomplete(job.Results) {
		// Cached stages never consult ctx, so an ended run must stop here.
		if runCtx.Err() != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleStageFailure(jobCtx, logger, job, next, classifyRunError(runCtx, context.Cause(runCtx)))
			return
		}
		result, err := m.runner.Run(runCtx, next, jc)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("stage interrupted by shutdown", logging.String(logging.FieldStage, string(next)))
				return
			}
			m.handleStageFailure(jobCtx, logger, job, next, classifyRunError(runCtx, err))
			return
		}
		if err := m.store.AppendResult(jobCtx, result); err != nil {
			if errors.Is(err, jobs.ErrDuplicateStage) {
				// Another run already recorded this stage; adopt the stored results.
				stored, loadErr := m.store.Results(jobCtx, job.ID)
				if loadErr != nil {
					m.persistFailed(logger, loadErr)
					return
				}
				job.Results = stored
				continue
			}
			m.persistFailed(logger, err)
			return
		}
		job.Results = append(job.Results, result)
		m.recordStage(jobCtx, result)
	}

	if err := m.store.Complete(jobCtx, job.ID); err != nil {
		m.persistFailed(logger, err)
		return
	}
	job.Status = jobs.StatusDone
	job.Stage = jobs.StageDone
	m.setLastJob(job)
	m.record(jobCtx, ledger.Record{
		JobID:      job.ID,
		Kind:       ledger.KindStatusChanged,
		FromStatus: string(jobs.StatusRunning),
		ToStatus:   string(jobs.StatusDone),
	})
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.Float64("cost_estimate", totalCost(job.Results)),
	)
	m.notify(jobCtx, notifications.EventJobCompleted, job, nil)
}

// classifyRunError turns context endings into taxonomy errors: an operator
// cancel fails the job, the job budget running out blocks it.
func classifyRunError(runCtx context.Context, err error) error {
	if cause := context.Cause(runCtx); errors.Is(cause, services.ErrCancelled) {
		return cause
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "", "run", "job exceeded workflow.job_timeout", err)
	}
	return err
}

func (m *Manager) recordStage(ctx context.Context, result jobs.StageResult) {
	m.record(ctx, ledger.Record{
		JobID:  result.JobID,
		Kind:   ledger.KindStageCompleted,
		Stage:  string(result.Stage),
		Reason: fmt.Sprintf("%d calls, cache_hit=%t", len(result.Provenance.Calls), result.CacheHit),
		Detail: mustJSON(map[string]any{
			"cache_hit":     result.CacheHit,
			"cost_estimate": result.CostEstimate,
			"duration_ms":   result.Duration.Milliseconds(),
			"providers":     result.Provenance.Providers(),
		}),
	})
}

func (m *Manager) persistFailed(logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to persist job progress", "job_persist_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access; the job is reclaimed after its heartbeat times out"),
	)
}

func (m *Manager) track(jobID, worker string) {
	m.mu.Lock()
	m.active[jobID] = worker
	m.mu.Unlock()
}

func (m *Manager) untrack(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

func totalCost(results []jobs.StageResult) float64 {
	var total float64
	for _, r := range results {
		total += r.CostEstimate
	}
	return total
}

// resumeAfter is the resume time used when no provider reports one.
func (m *Manager) resumeAfter() time.Time {
	return m.now().Add(m.cfg.Workflow.BlockedRetryDuration())
}
