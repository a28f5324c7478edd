package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"omnireel/internal/storage"
)

// Claim atomically moves the oldest runnable job to running and returns it.
// Runnable means pending, or blocked with an elapsed resume time. A nil job
// with a nil error means nothing is runnable.
func (s *Store) Claim(ctx context.Context, worker string) (*Job, error) {
	now := s.timestamp()
	var id string
	err := storage.RetryOnBusy(ctx, func() error {
		return s.db.SQL().QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, worker = ?, last_heartbeat = ?, updated_at = ?,
                 started_at = COALESCE(started_at, ?), run_count = run_count + 1,
                 blocked_reason = NULL, resume_at = NULL
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE cancel_requested = 0 AND archived_at IS NULL
                   AND (status = ? OR (status = ? AND resume_at IS NOT NULL AND resume_at <= ?))
                 ORDER BY created_at, id
                 LIMIT 1
             )
             RETURNING id`,
			StatusRunning, worker, now, now, now,
			StatusPending, StatusBlocked, now,
		).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return s.Get(ctx, id)
}

// Complete marks a running job done.
func (s *Store) Complete(ctx context.Context, id string) error {
	now := s.timestamp()
	return s.transition(ctx, id,
		`UPDATE jobs SET status = ?, stage = ?, worker = NULL, last_heartbeat = NULL, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusDone, StageDone, now, now, id, StatusRunning,
	)
}

// Block parks a running job until resumeAt. A job flagged for cancellation is
// left running and ErrCancelRequested is returned so the caller fails it.
func (s *Store) Block(ctx context.Context, id, reason string, resumeAt time.Time) error {
	err := s.transition(ctx, id,
		`UPDATE jobs SET status = ?, blocked_reason = ?, resume_at = ?, worker = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND cancel_requested = 0`,
		StatusBlocked, reason, storage.FormatTime(resumeAt), s.timestamp(), id, StatusRunning,
	)
	if !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	if flagged, flagErr := s.CancelRequested(ctx, id); flagErr == nil && flagged {
		return fmt.Errorf("%w: job %s", ErrCancelRequested, id)
	}
	return err
}

// Fail marks a job failed. Failed is absorbing; already terminal jobs are left alone.
func (s *Store) Fail(ctx context.Context, id string, stage Stage, provider, message string) error {
	now := s.timestamp()
	return s.transition(ctx, id,
		`UPDATE jobs SET status = ?, failed_stage = ?, failed_provider = ?, error_message = ?,
             worker = NULL, last_heartbeat = NULL, resume_at = NULL, finished_at = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		StatusFailed, storage.NullableString(string(stage)), storage.NullableString(provider), message, now, now,
		id, StatusPending, StatusRunning, StatusBlocked,
	)
}

// Resume returns a blocked job to pending so the next free worker picks it up.
func (s *Store) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		`UPDATE jobs SET status = ?, resume_at = NULL, blocked_reason = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending, s.timestamp(), id, StatusBlocked,
	)
}

// RequestCancel cancels a job. Pending and blocked jobs fail immediately;
// running jobs are flagged and the owning worker fails them at its next
// heartbeat. The returned status is the job's status after the call.
func (s *Store) RequestCancel(ctx context.Context, id string) (Status, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch job.Status {
	case StatusPending, StatusBlocked:
		if err := s.Fail(ctx, id, job.Stage, "", CancelMessage); err != nil {
			return "", err
		}
		return StatusFailed, nil
	case StatusRunning:
		if _, err := s.db.Exec(ctx,
			`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = ?`,
			s.timestamp(), id, StatusRunning,
		); err != nil {
			return "", fmt.Errorf("flag cancel: %w", err)
		}
		return StatusRunning, nil
	default:
		return "", fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
}

// CancelRequested reports whether an operator asked to cancel the job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.SQL().QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for a running job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := s.timestamp()
	if _, err := s.db.Exec(ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, StatusRunning,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns running jobs whose heartbeat is older than cutoff to
// pending. Their completed stages are kept, so they resume where they stopped.
// Jobs flagged for cancellation are failed instead.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.releaseRunning(ctx,
		`last_heartbeat IS NOT NULL AND last_heartbeat < ?`, storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return n, nil
}

// ResetRunning returns every running job to pending, or fails it when it is
// flagged for cancellation. The daemon calls it at startup, when no worker
// can still own a job.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	n, err := s.releaseRunning(ctx, `1 = 1`)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return n, nil
}

// releaseRunning detaches running jobs matching cond from their worker.
// Cancelled ones fail with CancelMessage, the rest go back to pending.
func (s *Store) releaseRunning(ctx context.Context, cond string, args ...any) (int64, error) {
	now := s.timestamp()
	failArgs := append([]any{StatusFailed, CancelMessage, now, now, StatusRunning}, args...)
	failed, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, failed_stage = stage,
             worker = NULL, last_heartbeat = NULL, resume_at = NULL, finished_at = ?, updated_at = ?
         WHERE status = ? AND cancel_requested = 1 AND `+cond,
		failArgs...,
	)
	if err != nil {
		return 0, err
	}
	resetArgs := append([]any{StatusPending, now, StatusRunning}, args...)
	reset, err := s.db.Exec(ctx,
		`UPDATE jobs SET status = ?, worker = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND cancel_requested = 0 AND `+cond,
		resetArgs...,
	)
	if err != nil {
		return 0, err
	}
	nFailed, _ := failed.RowsAffected()
	nReset, _ := reset.RowsAffected()
	return nFailed + nReset, nil
}

// ArchiveTerminal archives done and failed jobs that finished before cutoff.
func (s *Store) ArchiveTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE jobs SET archived_at = ?, updated_at = ?
         WHERE archived_at IS NULL AND status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		s.timestamp(), s.timestamp(), StatusDone, StatusFailed, storage.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("archive jobs: %w", err)
	}
	return res.RowsAffected()
}

// NextResumeAt returns the earliest resume time among blocked jobs.
func (s *Store) NextResumeAt(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	if err := s.db.SQL().QueryRowContext(ctx,
		`SELECT MIN(resume_at) FROM jobs WHERE status = ? AND archived_at IS NULL`, StatusBlocked,
	).Scan(&raw); err != nil {
		return nil, fmt.Errorf("next resume: %w", err)
	}
	return storage.ParseTimePtr(raw.String, raw.Valid), nil
}

func (s *Store) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if affected == 0 {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	return nil
}
