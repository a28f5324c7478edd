package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"omnireel/internal/logging"
)

// Options configures a Cache.
type Options struct {
	// MaxBytes is the payload budget. Zero or less disables size eviction.
	MaxBytes int64
	// TTL returns the lifetime for a capability's entries. Zero means permanent.
	TTL    func(capability string) time.Duration
	Logger *slog.Logger
	Clock  func() time.Time
}

// Stats describes current cache usage.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	MaxBytes  int64  `json:"max_bytes"`
	InFlight  int    `json:"in_flight"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Joined    uint64 `json:"joined"`
	Evictions uint64 `json:"evictions"`
	Degraded  uint64 `json:"degraded"`
}

type indexEntry struct {
	fingerprint string
	capability  string
	size        int64
	expiresAt   time.Time
}

// Cache is safe for concurrent use. One mutex guards the LRU index and the
// reservation table so reservation grants and eviction decisions are atomic.
type Cache struct {
	backend  Backend
	maxBytes int64
	ttl      func(string) time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	lru     *list.List
	index   map[string]*list.Element
	flights map[string]*Flight
	bytes   int64
	stats   Stats
}

// New builds a cache over backend and rebuilds the index from it. An
// unreadable backend is logged and the cache starts empty.
func New(ctx context.Context, backend Backend, opts Options) *Cache {
	c := &Cache{
		backend:  backend,
		maxBytes: opts.MaxBytes,
		ttl:      opts.TTL,
		now:      opts.Clock,
		logger:   logging.NewComponentLogger(opts.Logger, "cache"),
		lru:      list.New(),
		index:    make(map[string]*list.Element),
		flights:  make(map[string]*Flight),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.ttl == nil {
		c.ttl = func(string) time.Duration { return 0 }
	}

	entries, err := backend.Index(ctx)
	if err != nil {
		c.degrade(ctx, "load index", "", err)
		return c
	}
	// Index is oldest access first, so pushing to the front leaves the most
	// recent entry at the front.
	for _, entry := range entries {
		c.insertLocked(entry)
	}
	c.deleteQuietly(ctx, c.evictLocked(ctx)...)
	return c
}

// Get returns the payload for fingerprint when present and unexpired.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	now := c.now()

	c.mu.Lock()
	elem, ok := c.index[fingerprint]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	meta := elem.Value.(*indexEntry)
	if !meta.expiresAt.IsZero() && !now.Before(meta.expiresAt) {
		c.removeLocked(elem)
		c.stats.Misses++
		c.mu.Unlock()
		c.deleteQuietly(ctx, fingerprint)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.mu.Unlock()

	entry, found, err := c.backend.Load(ctx, fingerprint)
	if err != nil {
		c.degrade(ctx, "read", fingerprint, err)
		c.countMiss()
		return nil, false
	}
	if !found || entry.Expired(now) {
		c.mu.Lock()
		if elem, ok := c.index[fingerprint]; ok {
			c.removeLocked(elem)
		}
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	if err := c.backend.Touch(ctx, fingerprint, now); err != nil {
		c.logger.DebugContext(ctx, "cache touch failed", logging.String(logging.FieldFingerprint, fingerprint), logging.Error(err))
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return entry.Payload, true
}

// Put stores payload under fingerprint. ttl of zero means the entry never
// expires; a negative ttl uses the capability policy. Writes are upserts, so
// repeated puts are idempotent.
func (c *Cache) Put(ctx context.Context, fingerprint, capability string, payload []byte, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl < 0 {
		ttl = c.ttl(capability)
	}
	now := c.now()
	entry := Entry{
		Fingerprint: fingerprint,
		Capability:  capability,
		Payload:     payload,
		Size:        int64(len(payload)),
		CreatedAt:   now,
		LastAccess:  now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	if err := c.backend.Store(ctx, entry); err != nil {
		c.degrade(ctx, "write", fingerprint, err)
		return
	}

	c.mu.Lock()
	if elem, ok := c.index[fingerprint]; ok {
		c.removeLocked(elem)
	}
	c.insertLocked(entry)
	victims := c.evictLocked(ctx)
	c.mu.Unlock()
	c.deleteQuietly(ctx, victims...)
}

// Reserve claims the single execution slot for fingerprint. The first caller
// gets granted=true and must call Complete on the returned Flight; concurrent
// callers get the same Flight with granted=false and should Wait on it.
func (c *Cache) Reserve(fingerprint string) (*Flight, bool) {
	if c == nil {
		return newFlight(nil, fingerprint), true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if flight, ok := c.flights[fingerprint]; ok {
		c.stats.Joined++
		return flight, false
	}
	flight := newFlight(c, fingerprint)
	c.flights[fingerprint] = flight
	return flight, true
}

// Stats returns a snapshot of cache usage.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.index)
	s.Bytes = c.bytes
	s.MaxBytes = c.maxBytes
	s.InFlight = len(c.flights)
	return s
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache) Prune(ctx context.Context) int {
	if c == nil {
		return 0
	}
	now := c.now()
	c.mu.Lock()
	var victims []string
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		meta := elem.Value.(*indexEntry)
		if !meta.expiresAt.IsZero() && !now.Before(meta.expiresAt) && !c.pinnedLocked(meta.fingerprint) {
			victims = append(victims, meta.fingerprint)
			c.removeLocked(elem)
		}
		elem = prev
	}
	c.mu.Unlock()
	c.deleteQuietly(ctx, victims...)
	return len(victims)
}

// Purge drops every entry without a live reservation.
func (c *Cache) Purge(ctx context.Context) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	var victims []string
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		meta := elem.Value.(*indexEntry)
		if !c.pinnedLocked(meta.fingerprint) {
			victims = append(victims, meta.fingerprint)
			c.removeLocked(elem)
		}
		elem = prev
	}
	c.mu.Unlock()
	c.deleteQuietly(ctx, victims...)
	return len(victims)
}

// Invalidate drops the given entries so the next lookup re-executes them.
// Fingerprints with a live reservation or no entry are left alone. It returns
// how many entries were removed.
func (c *Cache) Invalidate(ctx context.Context, fingerprints ...string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	var victims []string
	for _, fp := range fingerprints {
		elem, ok := c.index[fp]
		if !ok || c.pinnedLocked(fp) {
			continue
		}
		victims = append(victims, fp)
		c.removeLocked(elem)
	}
	c.mu.Unlock()
	c.deleteQuietly(ctx, victims...)
	return len(victims)
}

func (c *Cache) release(ctx context.Context, fingerprint string, flight *Flight) {
	c.mu.Lock()
	if current, ok := c.flights[fingerprint]; ok && current == flight {
		delete(c.flights, fingerprint)
	}
	victims := c.evictLocked(ctx)
	c.mu.Unlock()
	c.deleteQuietly(ctx, victims...)
}

func (c *Cache) insertLocked(entry Entry) {
	meta := &indexEntry{
		fingerprint: entry.Fingerprint,
		capability:  entry.Capability,
		size:        entry.Size,
		expiresAt:   entry.ExpiresAt,
	}
	c.index[entry.Fingerprint] = c.lru.PushFront(meta)
	c.bytes += entry.Size
}

func (c *Cache) removeLocked(elem *list.Element) {
	meta := elem.Value.(*indexEntry)
	c.lru.Remove(elem)
	delete(c.index, meta.fingerprint)
	c.bytes -= meta.size
}

func (c *Cache) pinnedLocked(fingerprint string) bool {
	_, ok := c.flights[fingerprint]
	return ok
}

// evictLocked removes least recently used unpinned entries until the byte
// budget holds and returns the removed fingerprints for backend deletion.
func (c *Cache) evictLocked(ctx context.Context) []string {
	if c.maxBytes <= 0 {
		return nil
	}
	var victims []string
	for elem := c.lru.Back(); elem != nil && c.bytes > c.maxBytes; {
		prev := elem.Prev()
		meta := elem.Value.(*indexEntry)
		if !c.pinnedLocked(meta.fingerprint) {
			victims = append(victims, meta.fingerprint)
			c.removeLocked(elem)
			c.stats.Evictions++
		}
		elem = prev
	}
	if len(victims) > 0 {
		c.logger.DebugContext(ctx, "evicted cache entries",
			logging.Int("count", len(victims)),
			logging.Int64("bytes", c.bytes),
			logging.Int64("max_bytes", c.maxBytes),
		)
	}
	return victims
}

func (c *Cache) deleteQuietly(ctx context.Context, fingerprints ...string) {
	if len(fingerprints) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, fingerprints...); err != nil {
		c.degrade(ctx, "delete", "", err)
	}
}

func (c *Cache) countMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

func (c *Cache) degrade(ctx context.Context, op, fingerprint string, err error) {
	c.mu.Lock()
	c.stats.Degraded++
	c.mu.Unlock()
	attrs := []logging.Attr{
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the database file and disk space"),
		logging.String(logging.FieldImpact, "request treated as a cache miss"),
	}
	if fingerprint != "" {
		attrs = append(attrs, logging.String(logging.FieldFingerprint, fingerprint))
	}
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "cache backend unavailable", "cache_degraded", attrs...)
}
