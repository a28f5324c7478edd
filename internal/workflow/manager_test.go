package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"omnireel/internal/cache"
	"omnireel/internal/capability"
	"omnireel/internal/config"
	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/notifications"
	"omnireel/internal/stage"
	"omnireel/internal/testsupport"
)

type scriptedProvider struct {
	name string
	mu   sync.Mutex
	err  error
	hits int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Invoke(_ context.Context, capName string, _ json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits++
	if p.err != nil {
		return nil, p.err
	}
	return json.RawMessage(`{"served_by":"` + p.name + `","capability":"` + capName + `"}`), nil
}

func (p *scriptedProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits
}

// blockingInvoker parks every call until its context ends.
type blockingInvoker struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingInvoker) Invoke(ctx context.Context, _ string, _ any) (capability.Output, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return capability.Output{}, ctx.Err()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) last() notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return ""
	}
	return n.events[len(n.events)-1]
}

// testDescriptors chains the four pipeline stages. Ingestion input depends
// only on the title so identical jobs share its cached result; later stages
// include the job id.
func testDescriptors() []stage.Descriptor {
	build := func(name, prev jobs.Stage, capName string, perJob bool) stage.Descriptor {
		return stage.Descriptor{
			Name:         name,
			Predecessor:  prev,
			Capabilities: []string{capName},
			Plan: func(jc stage.JobContext) ([]stage.Call, error) {
				input := map[string]string{"stage": string(name), "title": jc.Job.Title}
				if perJob {
					input["job"] = jc.Job.ID
				}
				return []stage.Call{{Key: "main", Capability: capName, Input: input, Source: "test:" + string(name)}}, nil
			},
			Combine: func(_ stage.JobContext, replies []stage.Reply) (stage.Combined, error) {
				return stage.Combined{Payload: map[string]string{"provider": replies[0].Output.Provider}}, nil
			},
		}
	}
	return []stage.Descriptor{
		build(jobs.StageIngesting, "", "web-search", false),
		build(jobs.StageScripting, jobs.StageIngesting, "deep-reasoning", true),
		build(jobs.StageHumanizing, jobs.StageScripting, "deep-reasoning", true),
		build(jobs.StageDistributionPrep, jobs.StageHumanizing, "deep-reasoning", true),
	}
}

type harness struct {
	cfg      *config.Config
	store    *jobs.Store
	ledger   *ledger.Ledger
	registry *capability.Registry
	manager  *Manager
	notifier *recordingNotifier
	search   *scriptedProvider
	reason   *scriptedProvider
	now      time.Time
}

func newHarness(t *testing.T, invoker stage.Invoker, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	db := testsupport.MustOpenDB(t, cfg)
	h := &harness{
		cfg:      cfg,
		store:    jobs.NewStore(db),
		ledger:   ledger.New(db),
		notifier: &recordingNotifier{},
		search:   &scriptedProvider{name: "alpha"},
		reason:   &scriptedProvider{name: "beta"},
		now:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	h.registry = capability.NewRegistry()
	h.registry.SetClock(clock)
	limits := capability.Limits{QuotaReset: time.Hour, BreakerFailures: 10, BreakerCooldown: time.Minute, CostPerCall: 0.25}
	for _, p := range []*scriptedProvider{h.search, h.reason} {
		if err := h.registry.Register(p, limits); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := h.registry.Bind("web-search", "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := h.registry.Bind("deep-reasoning", "beta"); err != nil {
		t.Fatal(err)
	}

	if invoker == nil {
		invoker = capability.NewExecutor(h.registry,
			cache.New(context.Background(), cache.NewMemoryBackend(), cache.Options{}),
			capability.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
			capability.WithSleeper(func(context.Context, time.Duration) error { return nil }),
			capability.WithRecorder(LedgerRecorder(h.ledger, nil)),
		)
	}
	stages, err := stage.NewRegistry(testDescriptors()...)
	if err != nil {
		t.Fatalf("stage.NewRegistry: %v", err)
	}
	h.manager = NewManager(cfg, h.store, h.ledger, stage.NewRunner(stages, invoker, nil), nil,
		WithNotifier(h.notifier),
		WithCapabilityLister(h.registry),
		WithClock(clock),
	)
	return h
}

// runOnce claims the next job and processes it synchronously.
func (h *harness) runOnce(t *testing.T) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.store.Claim(ctx, "worker-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil {
		t.Fatal("no runnable job")
	}
	h.manager.processJob(ctx, "worker-1", job)
	stored, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return stored
}

func (h *harness) records(t *testing.T, jobID string, kind ledger.Kind) []ledger.Record {
	t.Helper()
	recs, err := h.ledger.Query(context.Background(), ledger.Filter{JobID: jobID, Kind: kind})
	if err != nil {
		t.Fatalf("ledger.Query: %v", err)
	}
	return recs
}

func TestProcessJobCompletesPipeline(t *testing.T) {
	h := newHarness(t, nil)
	testsupport.NewJob(t, h.store, "Tide pools", map[string]string{"topic": "tide pools"})

	job := h.runOnce(t)
	if job.Status != jobs.StatusDone || job.Stage != jobs.StageDone {
		t.Fatalf("job = %s/%s, want done", job.Status, job.Stage)
	}
	if len(job.Results) != len(jobs.Pipeline()) {
		t.Fatalf("results = %d, want %d", len(job.Results), len(jobs.Pipeline()))
	}
	if got := h.records(t, job.ID, ledger.KindStageCompleted); len(got) != 4 {
		t.Fatalf("stage_completed records = %d, want 4", len(got))
	}
	attempts := h.records(t, job.ID, ledger.KindProviderAttempt)
	if len(attempts) != 4 {
		t.Fatalf("provider_attempt records = %d, want 4", len(attempts))
	}
	if attempts[0].Stage != string(jobs.StageIngesting) || attempts[0].Provider != "alpha" {
		t.Fatalf("first attempt = %+v", attempts[0])
	}
	if h.notifier.last() != notifications.EventJobCompleted {
		t.Fatalf("last notification = %q", h.notifier.last())
	}
	info, err := os.Stat(h.manager.jobLogs.Path(job.ID))
	if err != nil || info.Size() == 0 {
		t.Fatalf("job log missing or empty: %v", err)
	}
}

func TestIdenticalIngestionIsServedFromCache(t *testing.T) {
	h := newHarness(t, nil)
	testsupport.NewJob(t, h.store, "Tide pools", nil)
	testsupport.NewJob(t, h.store, "Tide pools", nil)

	first := h.runOnce(t)
	second := h.runOnce(t)
	if first.ID == second.ID {
		t.Fatal("same job processed twice")
	}

	ingest, _ := second.Result(jobs.StageIngesting)
	if !ingest.CacheHit || ingest.CostEstimate != 0 {
		t.Fatalf("second ingestion = %+v, want cache hit", ingest)
	}
	script, _ := second.Result(jobs.StageScripting)
	if script.CacheHit || script.Provenance.Calls[0].Attempts != 1 {
		t.Fatalf("second scripting = %+v, want fresh call", script.Provenance)
	}
	if h.search.calls() != 1 {
		t.Fatalf("search provider calls = %d, want 1", h.search.calls())
	}
	if got := h.records(t, second.ID, ledger.KindProviderAttempt); len(got) != 3 {
		t.Fatalf("second job attempts = %d, want 3", len(got))
	}
}

func TestQuotaExhaustionBlocksAndResumes(t *testing.T) {
	h := newHarness(t, nil)
	h.reason.setErr(capability.QuotaExhausted("daily cap reached", 0, nil))
	testsupport.NewJob(t, h.store, "Glaciers", nil)

	job := h.runOnce(t)
	if job.Status != jobs.StatusBlocked {
		t.Fatalf("status = %s, want blocked", job.Status)
	}
	if job.ResumeAt == nil || !job.ResumeAt.Equal(h.now.Add(time.Hour)) {
		t.Fatalf("resume_at = %v, want %v", job.ResumeAt, h.now.Add(time.Hour))
	}
	if _, ok := job.Result(jobs.StageIngesting); !ok {
		t.Fatal("ingestion result should survive the block")
	}
	blocked := h.records(t, job.ID, ledger.KindJobBlocked)
	if len(blocked) != 1 || blocked[0].Provider != "beta" || blocked[0].Stage != string(jobs.StageScripting) {
		t.Fatalf("job_blocked records = %+v", blocked)
	}
	var quota int
	for _, rec := range h.records(t, job.ID, ledger.KindProviderAttempt) {
		if rec.Provider == "beta" && strings.Contains(rec.Reason, "daily cap") {
			quota++
		}
	}
	if quota == 0 {
		t.Fatal("quota attempt not recorded")
	}
	if h.notifier.last() != notifications.EventJobBlocked {
		t.Fatalf("last notification = %q", h.notifier.last())
	}

	h.reason.setErr(nil)
	if err := h.registry.Reset("beta"); err != nil {
		t.Fatal(err)
	}
	resumed := h.runOnce(t)
	if resumed.Status != jobs.StatusDone {
		t.Fatalf("resumed status = %s, want done", resumed.Status)
	}
	if h.search.calls() != 1 {
		t.Fatalf("ingestion rerun: search calls = %d", h.search.calls())
	}
}

func TestFatalProviderErrorFailsJob(t *testing.T) {
	h := newHarness(t, nil)
	h.search.setErr(capability.Fatal("invalid api key", nil))
	testsupport.NewJob(t, h.store, "Volcanoes", nil)

	job := h.runOnce(t)
	if job.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.FailedStage != string(jobs.StageIngesting) || job.FailedProvider != "alpha" {
		t.Fatalf("failure = %s/%s", job.FailedStage, job.FailedProvider)
	}
	failed := h.records(t, job.ID, ledger.KindJobFailed)
	if len(failed) != 1 || failed[0].ToStatus != string(jobs.StatusFailed) {
		t.Fatalf("job_failed records = %+v", failed)
	}
	if h.search.calls() != 1 {
		t.Fatalf("fatal error retried: calls = %d", h.search.calls())
	}
	if h.notifier.last() != notifications.EventJobFailed {
		t.Fatalf("last notification = %q", h.notifier.last())
	}
}

func TestDuplicateStageAdoptsStoredResult(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	testsupport.NewJob(t, h.store, "Comets", nil)

	job, err := h.store.Claim(ctx, "worker-1")
	if err != nil || job == nil {
		t.Fatalf("Claim: %v", err)
	}
	// A previous run recorded ingestion after this claim loaded the job.
	if err := h.store.AppendResult(ctx, jobs.StageResult{
		JobID:   job.ID,
		Stage:   jobs.StageIngesting,
		Payload: json.RawMessage(`{"provider":"earlier"}`),
	}); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
	h.manager.processJob(ctx, "worker-1", job)

	stored, err := h.store.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != jobs.StatusDone {
		t.Fatalf("status = %s, want done", stored.Status)
	}
	ingest, _ := stored.Result(jobs.StageIngesting)
	if string(ingest.Payload) != `{"provider":"earlier"}` {
		t.Fatalf("ingestion payload = %s, want the stored one", ingest.Payload)
	}
}

func TestOperatorCancelFailsRunningJob(t *testing.T) {
	inv := &blockingInvoker{started: make(chan struct{})}
	h := newHarness(t, inv)
	h.manager.heartbeat = NewHeartbeatMonitor(h.store, h.manager.logger, time.Second, time.Minute)
	created := testsupport.NewJob(t, h.store, "Auroras", nil)

	go func() {
		<-inv.started
		if _, err := h.store.RequestCancel(context.Background(), created.ID); err != nil {
			t.Errorf("RequestCancel: %v", err)
		}
	}()
	job := h.runOnce(t)
	if job.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "cancelled by operator") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
}

func TestJobTimeoutBlocks(t *testing.T) {
	inv := &blockingInvoker{started: make(chan struct{})}
	h := newHarness(t, inv)
	h.cfg.Workflow.JobTimeout = 1
	testsupport.NewJob(t, h.store, "Deserts", nil)

	job := h.runOnce(t)
	if job.Status != jobs.StatusBlocked {
		t.Fatalf("status = %s, want blocked", job.Status)
	}
	want := h.now.Add(h.cfg.Workflow.BlockedRetryDuration())
	if job.ResumeAt == nil || !job.ResumeAt.Equal(want) {
		t.Fatalf("resume_at = %v, want %v", job.ResumeAt, want)
	}
}

func TestStartRunsWorkersUntilStopped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	created := testsupport.NewJob(t, h.store, "Rivers", nil)

	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.manager.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := h.store.Get(ctx, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status == jobs.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	status := h.manager.Status(ctx)
	if !status.Running || status.JobStats[jobs.StatusDone] != 1 {
		t.Fatalf("status = %+v", status)
	}
	if len(status.StageHealth) == 0 {
		t.Fatal("stage health missing")
	}
	h.manager.Stop()
	if h.manager.Status(ctx).Running {
		t.Fatal("manager still running after Stop")
	}
}

func TestStartFailsWithoutRunner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	m := NewManager(cfg, jobs.NewStore(db), ledger.New(db), nil, nil)
	if err := m.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v", err)
	}
}

func TestClassifyRunErrorPrefersOperatorCancel(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errOperatorCancel)
	err := classifyRunError(ctx, context.Canceled)
	if !errors.Is(err, errOperatorCancel) {
		t.Fatalf("err = %v, want operator cancel", err)
	}
}

// stubbornInvoker answers every call. Its first call waits for the run to be
// cancelled and answers anyway, the way a cache hit ignores ctx.
type stubbornInvoker struct {
	started chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func (s *stubbornInvoker) Invoke(ctx context.Context, capName string, _ any) (capability.Output, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	first := false
	s.once.Do(func() { first = true; close(s.started) })
	if first {
		<-ctx.Done()
	}
	return capability.Output{Payload: json.RawMessage(`{}`), Provider: "cached-" + capName, CacheHit: true}, nil
}

func TestCancelStopsBeforeNextStage(t *testing.T) {
	inv := &stubbornInvoker{started: make(chan struct{})}
	h := newHarness(t, inv)
	h.manager.heartbeat = NewHeartbeatMonitor(h.store, h.manager.logger, time.Second, time.Minute)
	created := testsupport.NewJob(t, h.store, "Glaciers", nil)

	go func() {
		<-inv.started
		if _, err := h.store.RequestCancel(context.Background(), created.ID); err != nil {
			t.Errorf("RequestCancel: %v", err)
		}
	}()
	job := h.runOnce(t)
	if job.Status != jobs.StatusFailed || !strings.Contains(job.ErrorMessage, jobs.CancelMessage) {
		t.Fatalf("status = %s (%q), want failed by operator", job.Status, job.ErrorMessage)
	}
	if len(job.Results) != 1 {
		t.Fatalf("recorded %d stage results, want only ingestion", len(job.Results))
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.calls != 1 {
		t.Fatalf("invoker called %d times after cancel", inv.calls)
	}
}

// cancelThenExhaust flags the job for cancellation and reports exhaustion
// before any heartbeat can notice the flag.
type cancelThenExhaust struct {
	store *jobs.Store
	jobID string
}

func (c *cancelThenExhaust) Invoke(ctx context.Context, capName string, _ any) (capability.Output, error) {
	if _, err := c.store.RequestCancel(ctx, c.jobID); err != nil {
		return capability.Output{}, err
	}
	return capability.Output{}, &capability.ExhaustedError{Capability: capName}
}

func TestCancelledJobIsNotBlocked(t *testing.T) {
	inv := &cancelThenExhaust{}
	h := newHarness(t, inv)
	created := testsupport.NewJob(t, h.store, "Tundra", nil)
	inv.store, inv.jobID = h.store, created.ID

	job := h.runOnce(t)
	if job.Status != jobs.StatusFailed || !strings.Contains(job.ErrorMessage, jobs.CancelMessage) {
		t.Fatalf("status = %s (%q), want failed by operator", job.Status, job.ErrorMessage)
	}
	if recs := h.records(t, created.ID, ledger.KindJobFailed); len(recs) != 1 {
		t.Fatalf("job_failed records = %d, want 1", len(recs))
	}
	if recs := h.records(t, created.ID, ledger.KindJobBlocked); len(recs) != 0 {
		t.Fatalf("job_blocked records = %d, want 0", len(recs))
	}
}
