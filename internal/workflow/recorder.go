package workflow

import (
	"context"
	"log/slog"
	"time"

	"omnireel/internal/capability"
	"omnireel/internal/ledger"
	"omnireel/internal/logging"
	"omnireel/internal/services"
)

type attemptDetail struct {
	Outcome     capability.Outcome `json:"outcome"`
	Try         int                `json:"try"`
	Fingerprint string             `json:"fingerprint"`
	DurationMS  int64              `json:"duration_ms,omitempty"`
	Until       string             `json:"until,omitempty"`
}

// LedgerRecorder writes every provider attempt and skip to the ledger,
// attributed to the job and stage carried by ctx. Shared executions are
// attributed to the job that owns the reservation.
func LedgerRecorder(l *ledger.Ledger, logger *slog.Logger) capability.Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context, ev capability.Event) {
		jobID, _ := services.JobIDFromContext(ctx)
		stageName, _ := services.StageFromContext(ctx)
		detail := attemptDetail{
			Outcome:     ev.Outcome,
			Try:         ev.Try,
			Fingerprint: ev.Fingerprint,
			DurationMS:  ev.Duration.Milliseconds(),
		}
		if !ev.Until.IsZero() {
			detail.Until = ev.Until.UTC().Format(time.RFC3339)
		}
		reason := ev.Reason
		if reason == "" {
			reason = string(ev.Outcome)
		}
		_, err := l.Append(context.WithoutCancel(ctx), ledger.Record{
			JobID:      jobID,
			Kind:       ledger.KindProviderAttempt,
			Stage:      stageName,
			Capability: ev.Capability,
			Provider:   ev.Provider,
			Reason:     reason,
			Detail:     mustJSON(detail),
		})
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, logger), "ledger append failed", "ledger_append_failed",
				logging.String(logging.FieldProvider, ev.Provider),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
		}
	}
}
