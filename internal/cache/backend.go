package cache

import (
	"context"
	"time"
)

// Entry is one stored result.
type Entry struct {
	Fingerprint string
	Capability  string
	Payload     []byte
	Size        int64
	CreatedAt   time.Time
	// ExpiresAt is zero for entries that never expire.
	ExpiresAt  time.Time
	LastAccess time.Time
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Backend persists cache entries. Cache serializes index decisions; backends
// must still be safe for concurrent use because reads run outside the index
// lock.
type Backend interface {
	// Load returns the entry for fingerprint including its payload.
	Load(ctx context.Context, fingerprint string) (Entry, bool, error)
	// Store upserts an entry.
	Store(ctx context.Context, entry Entry) error
	// Touch records an access time.
	Touch(ctx context.Context, fingerprint string, at time.Time) error
	// Delete removes entries. Missing fingerprints are ignored.
	Delete(ctx context.Context, fingerprints ...string) error
	// Index lists every entry without payloads.
	Index(ctx context.Context) ([]Entry, error)
}
