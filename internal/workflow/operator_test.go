package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"omnireel/internal/jobs"
	"omnireel/internal/jobspec"
	"omnireel/internal/ledger"
	"omnireel/internal/testsupport"
)

func newTestOperator(t *testing.T) (*Operator, *jobs.Store, *ledger.Ledger) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	store := jobs.NewStore(db)
	l := ledger.New(db)
	return NewOperator(store, l), store, l
}

func TestOperatorSubmitRecordsCreation(t *testing.T) {
	op, store, l := newTestOperator(t)
	ctx := context.Background()

	spec, err := jobspec.ParseBytes([]byte("title: HBM memory wars\nsources:\n  - kind: papers\n    query: [hbm]\n"), 5)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	job, err := op.Submit(ctx, spec)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	stored, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != jobs.StatusPending || stored.Title != "HBM memory wars" {
		t.Fatalf("stored job = %+v", stored)
	}
	decoded, err := jobspec.FromRequest(stored.Request)
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if decoded.Sources[0].MaxResults != 5 {
		t.Fatalf("max_results = %d, want 5", decoded.Sources[0].MaxResults)
	}

	recs, err := l.Query(ctx, ledger.Filter{JobID: job.ID, Kind: ledger.KindJobCreated})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0].ToStatus != string(jobs.StatusPending) {
		t.Fatalf("creation records = %+v", recs)
	}
}

func TestOperatorResumeRequiresBlocked(t *testing.T) {
	op, store, l := newTestOperator(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "resume me", map[string]string{"title": "resume me"})

	if err := op.Resume(ctx, job.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("resume pending err = %v, want ErrInvalidTransition", err)
	}

	if _, err := store.Claim(ctx, "w1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Block(ctx, job.ID, "quota", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := op.Resume(ctx, job.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobs.StatusPending || got.ResumeAt != nil {
		t.Fatalf("job after resume = %+v", got)
	}
	recs, _ := l.Query(ctx, ledger.Filter{JobID: job.ID, Kind: ledger.KindStatusChanged})
	if len(recs) != 1 || recs[0].FromStatus != string(jobs.StatusBlocked) {
		t.Fatalf("resume records = %+v", recs)
	}
}

func TestOperatorCancel(t *testing.T) {
	op, store, l := newTestOperator(t)
	ctx := context.Background()

	pending := testsupport.NewJob(t, store, "pending", nil)
	status, err := op.Cancel(ctx, pending.ID)
	if err != nil || status != jobs.StatusFailed {
		t.Fatalf("cancel pending = %s, %v", status, err)
	}

	running := testsupport.NewJob(t, store, "running", nil)
	if _, err := store.Claim(ctx, "w1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	status, err = op.Cancel(ctx, running.ID)
	if err != nil || status != jobs.StatusRunning {
		t.Fatalf("cancel running = %s, %v", status, err)
	}
	flagged, err := store.CancelRequested(ctx, running.ID)
	if err != nil || !flagged {
		t.Fatalf("cancel flag = %v, %v", flagged, err)
	}

	if _, err := op.Cancel(ctx, pending.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("cancel failed job err = %v", err)
	}
	if _, err := op.Cancel(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("cancel missing err = %v", err)
	}

	recs, _ := l.Query(ctx, ledger.Filter{Kind: ledger.KindStatusChanged})
	if len(recs) != 2 {
		t.Fatalf("status records = %d, want 2", len(recs))
	}
}
