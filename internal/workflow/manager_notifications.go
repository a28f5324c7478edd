package workflow

import (
	"context"
	"errors"

	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/notifications"
)

func (m *Manager) notify(ctx context.Context, event notifications.Event, job *jobs.Job, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if payload == nil {
		payload = notifications.Payload{}
	}
	payload["job_id"] = job.ID
	payload["title"] = job.Title
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logger := logging.WithContext(ctx, m.logger)
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification skipped")
			return
		}
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// record appends to the ledger. Ledger failures are logged, never fatal to
// the job.
func (m *Manager) record(ctx context.Context, rec ledger.Record) {
	if m.ledger == nil {
		return
	}
	if _, err := m.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "ledger append failed", "ledger_append_failed",
			logging.String("kind", string(rec.Kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "job history is incomplete"),
		)
	}
}
