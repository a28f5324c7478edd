package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS knowledge_records (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    topic TEXT,
    title TEXT NOT NULL,
    summary TEXT,
    url TEXT,
    source TEXT,
    published TEXT,
    job_id TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_kind ON knowledge_records(kind, created_at);
`

// PostgresStore keeps records in an external PostgreSQL database.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects, verifies the connection and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create knowledge schema: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Write upserts a record.
func (s *PostgresStore) Write(ctx context.Context, record Record) error {
	if err := prepare(&record, s.now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_records (`+recordColumns+`)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
         ON CONFLICT (id) DO UPDATE SET
             topic = EXCLUDED.topic, title = EXCLUDED.title, summary = EXCLUDED.summary,
             url = EXCLUDED.url, source = EXCLUDED.source, published = EXCLUDED.published,
             job_id = EXCLUDED.job_id`,
		recordArgs(record)...,
	)
	if err != nil {
		return fmt.Errorf("write knowledge record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query, args := buildQuery(filter, func(n int) string { return "$" + strconv.Itoa(n) })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	return scanRecords(rows)
}
