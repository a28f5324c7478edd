package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"omnireel/internal/jobs"
	"omnireel/internal/logging"
)

// HeartbeatMonitor keeps running jobs alive and reclaims jobs whose worker
// stopped reporting.
type HeartbeatMonitor struct {
	store             *jobs.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               time.Now,
	}
}

// ReclaimStale returns running jobs with a heartbeat older than the timeout to
// pending.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	reclaimed, err := h.store.ReclaimStale(ctx, h.now().Add(-h.heartbeatTimeout))
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed stale jobs",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "heartbeat_reclaimed"),
		)
	}
	return reclaimed, nil
}

// StartLoop refreshes the job heartbeat until ctx ends. onCancel runs once
// when an operator cancel request is observed.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string, onCancel func()) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat")))
	cancelled := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed",
						logging.Error(err),
						logging.String(logging.FieldEventType, "heartbeat_failed"),
						logging.String(logging.FieldErrorHint, "check database access"),
						logging.String(logging.FieldImpact, "job may be reclaimed by another worker"),
					)
				}
			}
			if cancelled || onCancel == nil {
				continue
			}
			requested, err := h.store.CancelRequested(ctx, jobID)
			if err != nil {
				logger.Debug("cancel check failed", logging.Error(err))
				continue
			}
			if requested {
				cancelled = true
				logger.Info("cancel requested", logging.String(logging.FieldEventType, "job_cancel_observed"))
				onCancel()
			}
		}
	}
}
