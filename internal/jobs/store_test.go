package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"omnireel/internal/jobs"
	"omnireel/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "HBM memory wars", map[string]any{"keywords": []string{"hbm"}})
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusPending || job.Stage != jobs.StageIngesting {
		t.Fatalf("unexpected initial state: %s/%s", job.Status, job.Stage)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var request map[string]any
	if err := json.Unmarshal(fetched.Request, &request); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if request["keywords"] == nil {
		t.Fatalf("request not persisted: %s", fetched.Request)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Create(ctx, "  ", nil); err == nil {
		t.Fatal("expected error when title missing")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewJob(t, store, "only job", nil)

	var (
		mu      sync.Mutex
		claimed int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := store.Claim(ctx, "worker")
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if job != nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claimed != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed)
	}
}

func TestAppendResultAdvancesAndRejectsDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "dup", nil)
	result := jobs.StageResult{
		JobID:   job.ID,
		Stage:   jobs.StageIngesting,
		Payload: json.RawMessage(`{"items":1}`),
		Provenance: jobs.Provenance{
			Sources: []string{"https://arxiv.org/abs/1"},
			Calls:   []jobs.CallRecord{{Capability: "source.papers", Provider: "arxiv", Attempts: 1}},
		},
		Duration:     1500 * time.Millisecond,
		CostEstimate: 0.25,
	}
	if err := store.AppendResult(ctx, result); err != nil {
		t.Fatalf("AppendResult failed: %v", err)
	}
	if err := store.AppendResult(ctx, result); !errors.Is(err, jobs.ErrDuplicateStage) {
		t.Fatalf("expected ErrDuplicateStage, got %v", err)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Stage != jobs.StageScripting {
		t.Fatalf("expected stage to advance to scripting, got %s", fetched.Stage)
	}
	if len(fetched.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fetched.Results))
	}
	got := fetched.Results[0]
	if got.Duration != 1500*time.Millisecond || got.CostEstimate != 0.25 {
		t.Fatalf("unexpected result metrics: %+v", got)
	}
	if providers := got.Provenance.Providers(); len(providers) != 1 || providers[0] != "arxiv" {
		t.Fatalf("unexpected providers: %v", providers)
	}
	if jobs.FirstIncomplete(fetched.Results) != jobs.StageScripting {
		t.Fatalf("unexpected first incomplete stage: %s", jobs.FirstIncomplete(fetched.Results))
	}
}

func TestBlockedJobBecomesClaimableAtResumeTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	job := testsupport.NewJob(t, store, "blocked", nil)
	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.Block(ctx, job.ID, "deep-reasoning exhausted", now.Add(time.Hour)); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	next, err := store.NextResumeAt(ctx)
	if err != nil || next == nil || !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected next resume: %v %v", next, err)
	}

	if claimed, err := store.Claim(ctx, "w0"); err != nil || claimed != nil {
		t.Fatalf("expected nothing claimable before resume time, got %v %v", claimed, err)
	}

	now = now.Add(time.Hour + time.Second)
	claimed, err := store.Claim(ctx, "w0")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected blocked job to be claimed after resume time, got %v", claimed)
	}
	if claimed.RunCount != 2 || claimed.BlockedReason != "" || claimed.ResumeAt != nil {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}
}

func TestResumeRequiresBlocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "resume", nil)
	if err := store.Resume(ctx, job.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending job, got %v", err)
	}

	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.Block(ctx, job.ID, "timeout", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := store.Resume(ctx, job.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	fetched, _ := store.Get(ctx, job.ID)
	if fetched.Status != jobs.StatusPending || fetched.ResumeAt != nil {
		t.Fatalf("unexpected state after resume: %+v", fetched)
	}
}

func TestFailIsAbsorbing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "fail", nil)
	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.Fail(ctx, job.ID, jobs.StageScripting, "gemini-pro", "auth rejected"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := store.Resume(ctx, job.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected resume of failed job to be rejected, got %v", err)
	}
	if err := store.Fail(ctx, job.ID, jobs.StageScripting, "", "again"); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected second fail to be rejected, got %v", err)
	}
	fetched, _ := store.Get(ctx, job.ID)
	if fetched.FailedStage != string(jobs.StageScripting) || fetched.FailedProvider != "gemini-pro" || fetched.ErrorMessage != "auth rejected" {
		t.Fatalf("unexpected failure fields: %+v", fetched)
	}
}

func TestRequestCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	pending := testsupport.NewJob(t, store, "pending", nil)
	status, err := store.RequestCancel(ctx, pending.ID)
	if err != nil || status != jobs.StatusFailed {
		t.Fatalf("expected pending job to fail on cancel, got %s %v", status, err)
	}

	running := testsupport.NewJob(t, store, "running", nil)
	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	status, err = store.RequestCancel(ctx, running.ID)
	if err != nil || status != jobs.StatusRunning {
		t.Fatalf("expected running job to be flagged, got %s %v", status, err)
	}
	flagged, err := store.CancelRequested(ctx, running.ID)
	if err != nil || !flagged {
		t.Fatalf("expected cancel flag, got %v %v", flagged, err)
	}
}

func TestReclaimStaleAndResetRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	stale := testsupport.NewJob(t, store, "stale", nil)
	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	now = base.Add(10 * time.Minute)
	fresh := testsupport.NewJob(t, store, "fresh", nil)
	if _, err := store.Claim(ctx, "w1"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	reclaimed, err := store.ReclaimStale(ctx, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}
	got, _ := store.Get(ctx, stale.ID)
	if got.Status != jobs.StatusPending {
		t.Fatalf("expected stale job pending, got %s", got.Status)
	}

	reset, err := store.ResetRunning(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("expected fresh job reset, got %d %v", reset, err)
	}
	got, _ = store.Get(ctx, fresh.ID)
	if got.Status != jobs.StatusPending {
		t.Fatalf("expected fresh job pending, got %s", got.Status)
	}
}

func TestCancelledRunningJobFailsWhenReleased(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	tests := []struct {
		name    string
		release func(t *testing.T, id string)
	}{
		{"restart", func(t *testing.T, _ string) {
			if _, err := store.ResetRunning(ctx); err != nil {
				t.Fatalf("ResetRunning failed: %v", err)
			}
		}},
		{"stale heartbeat", func(t *testing.T, _ string) {
			now = now.Add(10 * time.Minute)
			if _, err := store.ReclaimStale(ctx, now.Add(-5*time.Minute)); err != nil {
				t.Fatalf("ReclaimStale failed: %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testsupport.NewJob(t, store, tt.name, nil)
			if claimed, err := store.Claim(ctx, "w0"); err != nil || claimed == nil || claimed.ID != job.ID {
				t.Fatalf("Claim = %v, %v", claimed, err)
			}
			if _, err := store.RequestCancel(ctx, job.ID); err != nil {
				t.Fatalf("RequestCancel failed: %v", err)
			}
			tt.release(t, job.ID)

			got, _ := store.Get(ctx, job.ID)
			if got.Status != jobs.StatusFailed || got.ErrorMessage != jobs.CancelMessage {
				t.Fatalf("expected cancelled job failed, got %s %q", got.Status, got.ErrorMessage)
			}
			if next, err := store.Claim(ctx, "w1"); err != nil || next != nil {
				t.Fatalf("expected nothing claimable, got %v %v", next, err)
			}
		})
	}
}

func TestBlockRefusesCancelledJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "flagged", nil)
	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	err := store.Block(ctx, job.ID, "providers exhausted", time.Now().Add(time.Hour))
	if !errors.Is(err, jobs.ErrCancelRequested) {
		t.Fatalf("expected ErrCancelRequested, got %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobs.StatusRunning {
		t.Fatalf("expected job left running for its worker, got %s", got.Status)
	}
	if err := store.Fail(ctx, job.ID, jobs.StageScripting, "", jobs.CancelMessage); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if next, err := store.NextResumeAt(ctx); err != nil || next != nil {
		t.Fatalf("expected no pending resume, got %v %v", next, err)
	}
}

func TestArchiveTerminalHidesOldJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	old := testsupport.NewJob(t, store, "old", nil)
	if _, err := store.Claim(ctx, "w0"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := store.Complete(ctx, old.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	now = base.Add(48 * time.Hour)
	testsupport.NewJob(t, store, "new", nil)

	archived, err := store.ArchiveTerminal(ctx, now.Add(-24*time.Hour))
	if err != nil || archived != 1 {
		t.Fatalf("expected 1 archived job, got %d %v", archived, err)
	}
	visible, err := store.List(ctx, jobs.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(visible) != 1 || visible[0].Title != "new" {
		t.Fatalf("unexpected visible jobs: %+v", visible)
	}
	all, _ := store.List(ctx, jobs.Filter{IncludeArchived: true})
	if len(all) != 2 {
		t.Fatalf("expected archived job to remain queryable, got %d", len(all))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[jobs.StatusPending] != 1 || stats[jobs.StatusDone] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestStageOrder(t *testing.T) {
	if jobs.StageIngesting.Next() != jobs.StageScripting ||
		jobs.StageScripting.Next() != jobs.StageHumanizing ||
		jobs.StageHumanizing.Next() != jobs.StageDistributionPrep ||
		jobs.StageDistributionPrep.Next() != jobs.StageDone {
		t.Fatal("unexpected stage order")
	}
	if prev, ok := jobs.StageScripting.Previous(); !ok || prev != jobs.StageIngesting {
		t.Fatalf("unexpected predecessor %s", prev)
	}
	if _, ok := jobs.StageIngesting.Previous(); ok {
		t.Fatal("first stage should have no predecessor")
	}
}
