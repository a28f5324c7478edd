package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"omnireel/internal/storage"
)

// Kind classifies a ledger record.
type Kind string

const (
	KindJobCreated      Kind = "job_created"
	KindStatusChanged   Kind = "status_changed"
	KindStageCompleted  Kind = "stage_completed"
	KindProviderAttempt Kind = "provider_attempt"
	KindJobFailed       Kind = "job_failed"
	KindJobBlocked      Kind = "job_blocked"
	KindCorrection      Kind = "correction"
)

// Record is one immutable ledger entry.
type Record struct {
	Seq        int64           `json:"seq"`
	JobID      string          `json:"job_id,omitempty"`
	Kind       Kind            `json:"kind"`
	Stage      string          `json:"stage,omitempty"`
	Capability string          `json:"capability,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	FromStatus string          `json:"from_status,omitempty"`
	ToStatus   string          `json:"to_status,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter narrows a ledger query. Zero values match everything.
type Filter struct {
	JobID    string
	Kind     Kind
	Stage    string
	Provider string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Ledger appends and queries records on the shared database.
type Ledger struct {
	db  *storage.DB
	now func() time.Time
}

// New wraps an open database.
func New(db *storage.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append stores a record and returns it with its sequence number and
// timestamp filled in.
func (l *Ledger) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.Kind == "" {
		return Record{}, errors.New("ledger append: kind is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	var detail any
	if len(rec.Detail) > 0 {
		if !json.Valid(rec.Detail) {
			return Record{}, fmt.Errorf("ledger append: detail is not valid JSON")
		}
		detail = string(rec.Detail)
	}
	res, err := l.db.Exec(ctx,
		`INSERT INTO ledger (job_id, kind, stage, capability, provider, from_status, to_status, reason, detail_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		storage.NullableString(rec.JobID), rec.Kind,
		storage.NullableString(rec.Stage), storage.NullableString(rec.Capability), storage.NullableString(rec.Provider),
		storage.NullableString(rec.FromStatus), storage.NullableString(rec.ToStatus),
		storage.NullableString(rec.Reason), detail, storage.FormatTime(rec.CreatedAt),
	)
	if err != nil {
		return Record{}, fmt.Errorf("ledger append: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("ledger append: %w", err)
	}
	rec.Seq = seq
	return rec, nil
}

// Correct appends a correction that amends the record with sequence seq.
func (l *Ledger) Correct(ctx context.Context, seq int64, reason string, detail any) (Record, error) {
	payload, err := json.Marshal(map[string]any{"corrects": seq, "detail": detail})
	if err != nil {
		return Record{}, fmt.Errorf("encode correction: %w", err)
	}
	var jobID string
	if err := l.db.SQL().QueryRowContext(ctx, `SELECT COALESCE(job_id, '') FROM ledger WHERE seq = ?`, seq).Scan(&jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("correct ledger record %d: not found", seq)
		}
		return Record{}, fmt.Errorf("correct ledger record %d: %w", seq, err)
	}
	return l.Append(ctx, Record{JobID: jobID, Kind: KindCorrection, Reason: reason, Detail: payload})
}

// Query returns matching records in append order.
func (l *Ledger) Query(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		clauses = append(clauses, clause)
		args = append(args, value)
	}
	if filter.JobID != "" {
		add("job_id = ?", filter.JobID)
	}
	if filter.Kind != "" {
		add("kind = ?", filter.Kind)
	}
	if filter.Stage != "" {
		add("stage = ?", filter.Stage)
	}
	if filter.Provider != "" {
		add("provider = ?", filter.Provider)
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", storage.FormatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		add("created_at < ?", storage.FormatTime(filter.Until))
	}

	query := `SELECT seq, job_id, kind, stage, capability, provider, from_status, to_status, reason, detail_json, created_at FROM ledger`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(scanner storage.Scanner) (Record, error) {
	var (
		rec        Record
		kind       string
		jobID      sql.NullString
		stage      sql.NullString
		capability sql.NullString
		provider   sql.NullString
		fromStatus sql.NullString
		toStatus   sql.NullString
		reason     sql.NullString
		detail     sql.NullString
		created    string
	)
	if err := scanner.Scan(&rec.Seq, &jobID, &kind, &stage, &capability, &provider, &fromStatus, &toStatus, &reason, &detail, &created); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	rec.JobID = jobID.String
	rec.Stage = stage.String
	rec.Capability = capability.String
	rec.Provider = provider.String
	rec.FromStatus = fromStatus.String
	rec.ToStatus = toStatus.String
	rec.Reason = reason.String
	if detail.Valid && detail.String != "" {
		rec.Detail = json.RawMessage(detail.String)
	}
	if ts, err := storage.ParseTime(created); err == nil {
		rec.CreatedAt = ts
	}
	return rec, nil
}
