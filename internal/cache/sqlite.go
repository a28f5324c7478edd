package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"omnireel/internal/storage"
)

// SQLiteBackend stores entries in the cache_entries table of the shared database.
type SQLiteBackend struct {
	db *storage.DB
}

// NewSQLiteBackend wraps an open database.
func NewSQLiteBackend(db *storage.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context, fingerprint string) (Entry, bool, error) {
	row := b.db.SQL().QueryRowContext(ctx,
		`SELECT fingerprint, capability, payload, size_bytes, created_at, expires_at, last_access
         FROM cache_entries WHERE fingerprint = ?`, fingerprint)
	entry, err := scanEntry(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load cache entry: %w", err)
	}
	return entry, true, nil
}

func (b *SQLiteBackend) Store(ctx context.Context, entry Entry) error {
	var expires any
	if !entry.ExpiresAt.IsZero() {
		expires = storage.FormatTime(entry.ExpiresAt)
	}
	_, err := b.db.Exec(ctx,
		`INSERT INTO cache_entries (fingerprint, capability, payload, size_bytes, created_at, expires_at, last_access)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (fingerprint) DO UPDATE SET
             capability = excluded.capability,
             payload = excluded.payload,
             size_bytes = excluded.size_bytes,
             created_at = excluded.created_at,
             expires_at = excluded.expires_at,
             last_access = excluded.last_access`,
		entry.Fingerprint, entry.Capability, entry.Payload, entry.Size,
		storage.FormatTime(entry.CreatedAt), expires, storage.FormatTime(entry.LastAccess),
	)
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Touch(ctx context.Context, fingerprint string, at time.Time) error {
	if _, err := b.db.Exec(ctx,
		`UPDATE cache_entries SET last_access = ? WHERE fingerprint = ?`,
		storage.FormatTime(at), fingerprint,
	); err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	args := make([]any, len(fingerprints))
	for i, fp := range fingerprints {
		args[i] = fp
	}
	if _, err := b.db.Exec(ctx,
		`DELETE FROM cache_entries WHERE fingerprint IN (`+storage.Placeholders(len(args))+`)`, args...,
	); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Index(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.SQL().QueryContext(ctx,
		`SELECT fingerprint, capability, NULL, size_bytes, created_at, expires_at, last_access
         FROM cache_entries ORDER BY last_access`)
	if err != nil {
		return nil, fmt.Errorf("index cache entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(scanner storage.Scanner, withPayload bool) (Entry, error) {
	var (
		entry      Entry
		payload    []byte
		created    string
		expires    sql.NullString
		lastAccess string
	)
	if err := scanner.Scan(&entry.Fingerprint, &entry.Capability, &payload, &entry.Size, &created, &expires, &lastAccess); err != nil {
		return Entry{}, err
	}
	if withPayload {
		entry.Payload = payload
	}
	if ts, err := storage.ParseTime(created); err == nil {
		entry.CreatedAt = ts
	}
	if ts := storage.ParseTimePtr(expires.String, expires.Valid); ts != nil {
		entry.ExpiresAt = *ts
	}
	if ts, err := storage.ParseTime(lastAccess); err == nil {
		entry.LastAccess = ts
	}
	return entry, nil
}
