package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process memory. SetFailure makes every call
// return the given error, which tests use to exercise degradation.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Entry
	failure error
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// SetFailure makes subsequent calls fail with err; nil restores normal operation.
func (m *MemoryBackend) SetFailure(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

// Len returns the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryBackend) Load(_ context.Context, fingerprint string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return Entry{}, false, m.failure
	}
	entry, ok := m.entries[fingerprint]
	if ok {
		entry.Payload = append([]byte(nil), entry.Payload...)
	}
	return entry, ok, nil
}

func (m *MemoryBackend) Store(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	m.entries[entry.Fingerprint] = entry
	return nil
}

func (m *MemoryBackend) Touch(_ context.Context, fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	if entry, ok := m.entries[fingerprint]; ok {
		entry.LastAccess = at
		m.entries[fingerprint] = entry
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, fingerprints ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	for _, fp := range fingerprints {
		delete(m.entries, fp)
	}
	return nil
}

func (m *MemoryBackend) Index(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}
	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		entry.Payload = nil
		out = append(out, entry)
	}
	return out, nil
}
