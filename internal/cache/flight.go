package cache

import (
	"context"
	"sync"
	"time"
)

// Flight is one in-progress execution for a fingerprint. Its owner calls
// Complete exactly once; every waiter receives the same payload or error.
type Flight struct {
	cache       *Cache
	fingerprint string
	done        chan struct{}
	once        sync.Once

	payload []byte
	err     error
}

func newFlight(c *Cache, fingerprint string) *Flight {
	return &Flight{cache: c, fingerprint: fingerprint, done: make(chan struct{})}
}

// Fingerprint returns the work unit this flight executes.
func (f *Flight) Fingerprint() string { return f.fingerprint }

// Complete publishes the outcome. On success the payload is stored under the
// capability's TTL before waiters are released, so a caller arriving after
// release sees a cache hit. A failed store still releases waiters with the
// in-memory payload.
func (f *Flight) Complete(ctx context.Context, capability string, payload []byte, err error) {
	f.once.Do(func() {
		if err == nil && f.cache != nil {
			f.cache.Put(ctx, f.fingerprint, capability, payload, time.Duration(-1))
		}
		f.payload = payload
		f.err = err
		// Unpin before waking waiters so a waiter may invalidate the entry.
		if f.cache != nil {
			f.cache.release(ctx, f.fingerprint, f)
		}
		close(f.done)
	})
}

// Share publishes a payload that is already cached, releasing waiters without
// storing it again.
func (f *Flight) Share(ctx context.Context, payload []byte) {
	f.once.Do(func() {
		f.payload = payload
		if f.cache != nil {
			f.cache.release(ctx, f.fingerprint, f)
		}
		close(f.done)
	})
}

// Wait blocks until the owner completes or ctx ends. A cancelled waiter only
// stops waiting; the flight keeps running for everyone else.
func (f *Flight) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the outcome is published.
func (f *Flight) Done() <-chan struct{} { return f.done }
