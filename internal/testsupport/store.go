package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"omnireel/internal/config"
	"omnireel/internal/jobs"
	"omnireel/internal/storage"
)

// MustOpenDB opens the shared database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *storage.DB {
	t.Helper()

	db, err := storage.Open(cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustOpenStore opens a jobs.Store on a fresh database.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()
	return jobs.NewStore(MustOpenDB(t, cfg))
}

// NewJob creates a pending job with the given request body.
func NewJob(t testing.TB, store *jobs.Store, title string, request any) *jobs.Job {
	t.Helper()

	var raw json.RawMessage
	if request != nil {
		data, err := json.Marshal(request)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		raw = data
	}
	job, err := store.Create(context.Background(), title, raw)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
