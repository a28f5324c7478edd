package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnireel/internal/storage"
)

const jobColumns = "id, title, request_json, stage, status, blocked_reason, resume_at, error_message, failed_stage, failed_provider, run_count, cancel_requested, worker, last_heartbeat, created_at, updated_at, started_at, finished_at, archived_at"

// Store manages job persistence backed by SQLite.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the time source. Tests use it to exercise resume timing.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) timestamp() string {
	return storage.FormatTime(s.now())
}

// Create inserts a new pending job positioned at the first stage.
func (s *Store) Create(ctx context.Context, title string, request json.RawMessage) (*Job, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("create job: title is required")
	}
	if len(request) == 0 {
		request = json.RawMessage("{}")
	}
	id := uuid.NewString()
	now := s.timestamp()
	if _, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, title, request_json, stage, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, title, string(request), StageIngesting, StatusPending, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns a job with its stage results.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.SQL().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	results, err := s.Results(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Results = results
	return job, nil
}

// List returns jobs ordered by creation time, newest first. Stage results are
// not loaded.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+storage.Placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if !filter.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Stats returns job counts per status, excluding archived jobs.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs WHERE archived_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[Status]int, len(allStatuses))
	for _, status := range allStatuses {
		stats[status] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func scanJob(scanner storage.Scanner) (*Job, error) {
	var (
		id              string
		title           string
		requestJSON     string
		stage           string
		status          string
		blockedReason   sql.NullString
		resumeAt        sql.NullString
		errorMessage    sql.NullString
		failedStage     sql.NullString
		failedProvider  sql.NullString
		runCount        int
		cancelRequested int
		worker          sql.NullString
		lastHeartbeat   sql.NullString
		createdAt       string
		updatedAt       string
		startedAt       sql.NullString
		finishedAt      sql.NullString
		archivedAt      sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&title,
		&requestJSON,
		&stage,
		&status,
		&blockedReason,
		&resumeAt,
		&errorMessage,
		&failedStage,
		&failedProvider,
		&runCount,
		&cancelRequested,
		&worker,
		&lastHeartbeat,
		&createdAt,
		&updatedAt,
		&startedAt,
		&finishedAt,
		&archivedAt,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Title:           title,
		Request:         json.RawMessage(requestJSON),
		Stage:           Stage(stage),
		Status:          Status(status),
		BlockedReason:   blockedReason.String,
		ResumeAt:        storage.ParseTimePtr(resumeAt.String, resumeAt.Valid),
		ErrorMessage:    errorMessage.String,
		FailedStage:     failedStage.String,
		FailedProvider:  failedProvider.String,
		RunCount:        runCount,
		CancelRequested: cancelRequested != 0,
		Worker:          worker.String,
		LastHeartbeat:   storage.ParseTimePtr(lastHeartbeat.String, lastHeartbeat.Valid),
		StartedAt:       storage.ParseTimePtr(startedAt.String, startedAt.Valid),
		FinishedAt:      storage.ParseTimePtr(finishedAt.String, finishedAt.Valid),
		ArchivedAt:      storage.ParseTimePtr(archivedAt.String, archivedAt.Valid),
	}
	if created, err := storage.ParseTime(createdAt); err == nil {
		job.CreatedAt = created
	}
	if updated, err := storage.ParseTime(updatedAt); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
