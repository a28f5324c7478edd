package knowledge

import (
	"context"
	"fmt"
	"time"

	"omnireel/internal/storage"
)

// SQLiteStore keeps records in the shared database.
type SQLiteStore struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *storage.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Write upserts a record. A later write of the same id replaces the content
// but keeps the original creation time.
func (s *SQLiteStore) Write(ctx context.Context, record Record) error {
	if err := prepare(&record, s.now()); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO knowledge_records (`+recordColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
             topic = excluded.topic, title = excluded.title, summary = excluded.summary,
             url = excluded.url, source = excluded.source, published = excluded.published,
             job_id = excluded.job_id`,
		recordArgs(record)...,
	)
	if err != nil {
		return fmt.Errorf("write knowledge record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query, args := buildQuery(filter, func(int) string { return "?" })
	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	return scanRecords(rows)
}
