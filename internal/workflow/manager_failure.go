package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"omnireel/internal/capability"
	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/notifications"
	"omnireel/internal/services"
)

// handleStageFailure persists the disposition of a failed stage: provider
// exhaustion and job timeouts block the job, everything else fails it.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, job *jobs.Job, stageName jobs.Stage, stageErr error) {
	logger = logger.With(logging.String(logging.FieldStage, string(stageName)))
	details := services.Details(stageErr)
	message := failureMessage(stageName, details, stageErr)
	m.setLastError(stageErr)

	var exhausted *capability.ExhaustedError
	errors.As(stageErr, &exhausted)

	if services.Disposition(stageErr) == jobs.StatusBlocked {
		resumeAt := m.resumeAfter()
		if exhausted != nil && !exhausted.RetryAt.IsZero() {
			resumeAt = exhausted.RetryAt
		}
		if err := m.store.Block(ctx, job.ID, message, resumeAt); err != nil {
			if errors.Is(err, jobs.ErrCancelRequested) {
				m.handleStageFailure(ctx, logger, job, stageName, errOperatorCancel)
				return
			}
			m.persistFailed(logger, err)
			return
		}
		job.Status = jobs.StatusBlocked
		job.BlockedReason = message
		job.ResumeAt = &resumeAt
		m.setLastJob(job)

		rec := ledger.Record{
			JobID:      job.ID,
			Kind:       ledger.KindJobBlocked,
			Stage:      string(stageName),
			FromStatus: string(jobs.StatusRunning),
			ToStatus:   string(jobs.StatusBlocked),
			Reason:     message,
		}
		detail := map[string]any{"resume_at": resumeAt.UTC().Format(time.RFC3339), "kind": details.Kind}
		if exhausted != nil {
			rec.Capability = exhausted.Capability
			rec.Provider = exhausted.LastProvider()
			detail["attempts"] = exhausted.Attempts
		}
		rec.Detail = mustJSON(detail)
		m.record(ctx, rec)

		logging.WarnWithContext(logger, "job blocked", "job_blocked",
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.String("reason", message),
			logging.Time("resume_at", resumeAt),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.String(logging.FieldImpact, "job resumes from its last completed stage"),
		)
		m.notify(ctx, notifications.EventJobBlocked, job, notifications.Payload{
			"stage":     string(stageName),
			"reason":    message,
			"resume_at": resumeAt.UTC().Format(time.RFC3339),
		})
		return
	}

	provider := failedProvider(stageErr)
	if err := m.store.Fail(ctx, job.ID, stageName, provider, message); err != nil {
		m.persistFailed(logger, err)
		return
	}
	job.Status = jobs.StatusFailed
	job.FailedStage = string(stageName)
	job.FailedProvider = provider
	job.ErrorMessage = message
	m.setLastJob(job)

	m.record(ctx, ledger.Record{
		JobID:      job.ID,
		Kind:       ledger.KindJobFailed,
		Stage:      string(stageName),
		Provider:   provider,
		FromStatus: string(jobs.StatusRunning),
		ToStatus:   string(jobs.StatusFailed),
		Reason:     message,
		Detail:     mustJSON(map[string]any{"kind": details.Kind, "operation": details.Operation, "cause": details.Cause}),
	})

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.String("error_operation", details.Operation),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldProvider, provider),
		logging.Error(stageErr),
	}
	logger.Error("stage failed", logging.Args(attrs...)...)
	m.notify(ctx, notifications.EventJobFailed, job, notifications.Payload{
		"stage":  string(stageName),
		"reason": message,
	})
}

func failureMessage(stageName jobs.Stage, details services.ErrorDetails, err error) string {
	message := strings.TrimSpace(details.Message)
	if message == "" && err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = string(stageName) + " failed without error detail"
	}
	return message
}

// failedProvider names the provider responsible for err, when one is known.
func failedProvider(err error) string {
	var fatal *capability.FatalError
	if errors.As(err, &fatal) {
		return fatal.Provider
	}
	var exhausted *capability.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.LastProvider()
	}
	return ""
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
