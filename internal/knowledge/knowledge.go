package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnireel/internal/config"
	"omnireel/internal/storage"
)

// Kind classifies a record.
type Kind string

const (
	KindPaper   Kind = "paper"
	KindNews    Kind = "news"
	KindTrend   Kind = "trend"
	KindHistory Kind = "history"
	KindVideo   Kind = "video"
)

// ParseKind validates a record kind.
func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindPaper, KindNews, KindTrend, KindHistory, KindVideo:
		return k, true
	}
	return "", false
}

// Record is one stored item of source material or produced output.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Topic     string    `json:"topic,omitempty"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	URL       string    `json:"url,omitempty"`
	Source    string    `json:"source,omitempty"`
	Published string    `json:"published,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Kind  Kind
	Topic string
	JobID string
	Text  string
	Since time.Time
	Limit int
}

// Store persists knowledge records.
type Store interface {
	Write(ctx context.Context, record Record) error
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

var recordNamespace = uuid.MustParse("7d1c9a52-5b0e-4c1f-9a43-0f6f3d1e2b77")

// RecordID derives a stable id from kind and URL, falling back to the title,
// so the same item seen by two jobs is stored once.
func RecordID(kind Kind, url, title string) string {
	key := strings.TrimSpace(url)
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(title))
	}
	return uuid.NewSHA1(recordNamespace, []byte(string(kind)+"\x00"+key)).String()
}

func prepare(record *Record, now time.Time) error {
	record.Title = strings.TrimSpace(record.Title)
	if record.Title == "" {
		return errors.New("knowledge record: title is required")
	}
	if _, ok := ParseKind(string(record.Kind)); !ok {
		return fmt.Errorf("knowledge record: unknown kind %q", record.Kind)
	}
	if record.ID == "" {
		record.ID = RecordID(record.Kind, record.URL, record.Title)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return nil
}

// Open selects the configured driver. The sqlite driver shares db.
func Open(ctx context.Context, cfg config.Knowledge, db *storage.DB) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", "sqlite":
		if db == nil {
			return nil, noop, errors.New("knowledge: sqlite driver needs the shared database")
		}
		return NewSQLiteStore(db), noop, nil
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, noop, errors.New("knowledge: postgres driver needs knowledge.dsn or OMNIREEL_KNOWLEDGE_DSN")
		}
		store, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("knowledge: unknown driver %q", cfg.Driver)
	}
}

const recordColumns = "id, kind, topic, title, summary, url, source, published, job_id, created_at"

// buildQuery renders the filter with the driver's placeholder style.
func buildQuery(filter Filter, placeholder func(n int) string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", placeholder(len(args))))
	}
	if filter.Kind != "" {
		add("kind = ?", string(filter.Kind))
	}
	if filter.Topic != "" {
		add("topic = ?", filter.Topic)
	}
	if filter.JobID != "" {
		add("job_id = ?", filter.JobID)
	}
	if filter.Text != "" {
		add("LOWER(title) LIKE ?", "%"+strings.ToLower(filter.Text)+"%")
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", storage.FormatTime(filter.Since))
	}
	query := "SELECT " + recordColumns + " FROM knowledge_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return query, args
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r                                           Record
			kind, created                               string
			topic, summary, url, source, published, job sql.NullString
		)
		if err := rows.Scan(&r.ID, &kind, &topic, &r.Title, &summary, &url, &source, &published, &job, &created); err != nil {
			return nil, fmt.Errorf("scan knowledge record: %w", err)
		}
		r.Kind = Kind(kind)
		r.Topic = topic.String
		r.Summary = summary.String
		r.URL = url.String
		r.Source = source.String
		r.Published = published.String
		r.JobID = job.String
		if ts, err := storage.ParseTime(created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func recordArgs(r Record) []any {
	return []any{
		r.ID, string(r.Kind), storage.NullableString(r.Topic), r.Title, storage.NullableString(r.Summary),
		storage.NullableString(r.URL), storage.NullableString(r.Source), storage.NullableString(r.Published),
		storage.NullableString(r.JobID), storage.FormatTime(r.CreatedAt),
	}
}
