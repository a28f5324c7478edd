package capability_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omnireel/internal/cache"
	"omnireel/internal/capability"
	"omnireel/internal/services"
)

type fakeProvider struct {
	name  string
	mu    sync.Mutex
	calls int
	// script is consumed one entry per call; the last entry repeats.
	script []error
	delay  time.Duration
	reply  string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Invoke(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls++
	idx := p.calls - 1
	var err error
	if len(p.script) > 0 {
		if idx >= len(p.script) {
			idx = len(p.script) - 1
		}
		err = p.script[idx]
	}
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	reply := p.reply
	if reply == "" {
		reply = `{"provider":"` + p.name + `"}`
	}
	return json.RawMessage(reply), nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	registry *capability.Registry
	executor *capability.Executor
	now      time.Time
	mu       sync.Mutex
	events   []capability.Event
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) recorded() []capability.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capability.Event(nil), f.events...)
}

func newFixture(t *testing.T, withCache bool, providers ...*fakeProvider) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	f.registry = capability.NewRegistry()
	f.registry.SetClock(f.clock)
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		if err := f.registry.Register(p, capability.Limits{QuotaReset: time.Hour, BreakerFailures: 10, BreakerCooldown: time.Minute, CostPerCall: 0.01}); err != nil {
			t.Fatalf("Register: %v", err)
		}
		names = append(names, p.name)
	}
	if err := f.registry.Bind("deep-reasoning", names...); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	var c *cache.Cache
	if withCache {
		c = cache.New(context.Background(), cache.NewMemoryBackend(), cache.Options{Clock: f.clock})
	}
	f.executor = capability.NewExecutor(f.registry, c,
		capability.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		capability.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		capability.WithRecorder(func(_ context.Context, ev capability.Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		}),
	)
	return f
}

func TestInvokeSkipsExhaustedProviderUntilReset(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	c := &fakeProvider{name: "c"}
	f := newFixture(t, false, a, b, c)
	ctx := context.Background()

	if err := f.registry.MarkExhausted("a", f.clock().Add(30*time.Minute)); err != nil {
		t.Fatalf("MarkExhausted: %v", err)
	}

	out, err := f.executor.Invoke(ctx, "deep-reasoning", map[string]string{"prompt": "one"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out.Provider != "b" || a.Calls() != 0 || c.Calls() != 0 {
		t.Fatalf("expected b without touching a or c, got %s (a=%d c=%d)", out.Provider, a.Calls(), c.Calls())
	}
	if out.CacheHit || out.Attempts != 1 || out.Cost != 0.01 {
		t.Fatalf("unexpected output provenance: %+v", out)
	}

	f.advance(29 * time.Minute)
	if _, err := f.executor.Invoke(ctx, "deep-reasoning", map[string]string{"prompt": "two"}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if a.Calls() != 0 {
		t.Fatal("a must stay skipped before its reset time")
	}

	f.advance(2 * time.Minute)
	out, err = f.executor.Invoke(ctx, "deep-reasoning", map[string]string{"prompt": "three"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out.Provider != "a" || a.Calls() != 1 {
		t.Fatalf("expected a to be eligible again after reset, got %s", out.Provider)
	}
	for _, st := range f.registry.Snapshot() {
		if st.Provider == "a" && st.Health != capability.HealthHealthy {
			t.Fatalf("expected a healthy after reset, got %s", st.Health)
		}
	}
}

func TestInvokeRetriesTransientThenFallsBack(t *testing.T) {
	flaky := &fakeProvider{name: "flaky", script: []error{capability.Transient("503", nil)}}
	backup := &fakeProvider{name: "backup"}
	f := newFixture(t, false, flaky, backup)

	out, err := f.executor.Invoke(context.Background(), "deep-reasoning", map[string]string{"prompt": "x"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if flaky.Calls() != 3 {
		t.Fatalf("expected 3 tries on flaky provider, got %d", flaky.Calls())
	}
	if out.Provider != "backup" || out.Attempts != 4 {
		t.Fatalf("unexpected output: %+v", out)
	}
	for _, st := range f.registry.Snapshot() {
		if st.Provider == "flaky" && st.Health != capability.HealthDegraded {
			t.Fatalf("expected flaky degraded, got %s", st.Health)
		}
	}
}

func TestInvokeQuotaMovesOnWithoutRetry(t *testing.T) {
	limited := &fakeProvider{name: "limited", script: []error{capability.QuotaExhausted("429", 10*time.Minute, nil)}}
	backup := &fakeProvider{name: "backup"}
	f := newFixture(t, false, limited, backup)

	out, err := f.executor.Invoke(context.Background(), "deep-reasoning", "q")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if limited.Calls() != 1 || out.Provider != "backup" {
		t.Fatalf("expected one quota call then backup, got %d calls, provider %s", limited.Calls(), out.Provider)
	}
	next := f.registry.NextEligible("limited")
	if !next.Equal(f.clock().Add(10 * time.Minute)) {
		t.Fatalf("expected retry-after hint to set reset time, got %v", next)
	}
}

func TestInvokeFatalAborts(t *testing.T) {
	broken := &fakeProvider{name: "broken", script: []error{capability.Fatal("401 unauthorized", nil)}}
	backup := &fakeProvider{name: "backup"}
	f := newFixture(t, false, broken, backup)

	_, err := f.executor.Invoke(context.Background(), "deep-reasoning", "q")
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	var fatal *capability.FatalError
	if !errors.As(err, &fatal) || fatal.Provider != "broken" {
		t.Fatalf("expected FatalError naming provider, got %v", err)
	}
	if backup.Calls() != 0 {
		t.Fatal("fatal failure must not fall back")
	}
}

func TestInvokeAllQuotaExhausted(t *testing.T) {
	quota := capability.QuotaExhausted("429", 0, nil)
	pro := &fakeProvider{name: "gemini-pro", script: []error{quota}}
	flash := &fakeProvider{name: "gemini-flash", script: []error{quota}}
	f := newFixture(t, false, pro, flash)

	_, err := f.executor.Invoke(context.Background(), "deep-reasoning", "q")
	if !errors.Is(err, services.ErrExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if services.Disposition(err) != "blocked" {
		t.Fatalf("expected exhaustion to block, got %s", services.Disposition(err))
	}
	var exhausted *capability.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T", err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Fatalf("expected both providers listed, got %+v", exhausted.Attempts)
	}
	for _, a := range exhausted.Attempts {
		if a.Outcome != capability.OutcomeQuota || a.Tries != 1 {
			t.Fatalf("unexpected attempt: %+v", a)
		}
	}
	if !exhausted.RetryAt.Equal(f.clock().Add(time.Hour)) {
		t.Fatalf("expected retry at quota reset, got %v", exhausted.RetryAt)
	}

	// A second invocation skips both without calling them.
	_, err = f.executor.Invoke(context.Background(), "deep-reasoning", "q2")
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if pro.Calls() != 1 || flash.Calls() != 1 {
		t.Fatalf("exhausted providers must be skipped, got pro=%d flash=%d", pro.Calls(), flash.Calls())
	}
	for _, a := range exhausted.Attempts {
		if a.Outcome != capability.OutcomeSkipped {
			t.Fatalf("expected skipped attempt, got %+v", a)
		}
	}
}

func TestLocalQuotaWindow(t *testing.T) {
	p := &fakeProvider{name: "p"}
	f := newFixture(t, false)
	if err := f.registry.Register(p, capability.Limits{QuotaPerWindow: 2, QuotaWindow: time.Hour}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.registry.Bind("fast-reasoning", "p"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.executor.Invoke(ctx, "fast-reasoning", i); err != nil {
			t.Fatalf("Invoke %d failed: %v", i, err)
		}
	}
	_, err := f.executor.Invoke(ctx, "fast-reasoning", 3)
	var exhausted *capability.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected local quota to exhaust provider, got %v", err)
	}
	if !exhausted.RetryAt.Equal(f.clock().Add(time.Hour)) {
		t.Fatalf("expected retry at window end, got %v", exhausted.RetryAt)
	}
	f.advance(time.Hour)
	if _, err := f.executor.Invoke(ctx, "fast-reasoning", 4); err != nil {
		t.Fatalf("expected new window after reset, got %v", err)
	}
	if p.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", p.Calls())
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	down := &fakeProvider{name: "down", script: []error{errors.New("connection refused")}}
	f := newFixture(t, false)
	if err := f.registry.Register(down, capability.Limits{BreakerFailures: 2, BreakerCooldown: time.Minute}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.registry.Bind("source.news", "down"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	_, err := f.executor.Invoke(context.Background(), "source.news", "a")
	var exhausted *capability.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if down.Calls() != 2 {
		t.Fatalf("expected breaker to stop retries after 2 failures, got %d", down.Calls())
	}
	if !exhausted.RetryAt.Equal(f.clock().Add(time.Minute)) {
		t.Fatalf("expected retry at breaker cooldown, got %v", exhausted.RetryAt)
	}
}

func TestInvokeCachesAndSharesResults(t *testing.T) {
	slow := &fakeProvider{name: "slow", delay: 30 * time.Millisecond}
	f := newFixture(t, true, slow)
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		shared atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.executor.Invoke(ctx, "deep-reasoning", map[string]string{"prompt": "same"})
			if err != nil {
				t.Errorf("Invoke failed: %v", err)
				return
			}
			if out.Provider != "slow" {
				t.Errorf("unexpected provider %q", out.Provider)
			}
			if out.CacheHit {
				shared.Add(1)
			}
		}()
	}
	wg.Wait()
	if slow.Calls() != 1 {
		t.Fatalf("expected one execution for concurrent identical calls, got %d", slow.Calls())
	}
	if shared.Load() != 5 {
		t.Fatalf("expected 5 callers served from the shared execution, got %d", shared.Load())
	}

	out, err := f.executor.Invoke(ctx, "deep-reasoning", json.RawMessage(`{ "prompt" : "same" }`))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !out.CacheHit || out.Attempts != 0 || slow.Calls() != 1 {
		t.Fatalf("expected cache hit, got %+v", out)
	}
}

func TestCancelledCallerDoesNotAbortSharedExecution(t *testing.T) {
	slow := &fakeProvider{name: "slow", delay: 40 * time.Millisecond}
	f := newFixture(t, true, slow)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.executor.Invoke(ctx, "deep-reasoning", "shared")
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	waiterDone := make(chan capability.Output, 1)
	go func() {
		out, err := f.executor.Invoke(context.Background(), "deep-reasoning", "shared")
		if err != nil {
			t.Errorf("waiter failed: %v", err)
		}
		waiterDone <- out
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled owner, got %v", err)
	}
	out := <-waiterDone
	if out.Provider != "slow" {
		t.Fatalf("expected waiter to receive the shared result, got %+v", out)
	}
	if slow.Calls() != 1 {
		t.Fatalf("expected single execution, got %d", slow.Calls())
	}
}

func TestInvokeRejectsUnboundCapability(t *testing.T) {
	f := newFixture(t, false, &fakeProvider{name: "a"})
	_, err := f.executor.Invoke(context.Background(), "image.synthesis", "x")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEventsRecordEveryAttempt(t *testing.T) {
	limited := &fakeProvider{name: "limited", script: []error{capability.QuotaExhausted("429", 0, nil)}}
	ok := &fakeProvider{name: "ok"}
	f := newFixture(t, false, limited, ok)

	if _, err := f.executor.Invoke(context.Background(), "deep-reasoning", "q"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	events := f.recorded()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].Provider != "limited" || events[0].Outcome != capability.OutcomeQuota {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Provider != "ok" || events[1].Outcome != capability.OutcomeSuccess {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want capability.Outcome
	}{
		{"nil", nil, capability.OutcomeSuccess},
		{"transient", capability.Transient("x", nil), capability.OutcomeTransient},
		{"quota", capability.QuotaExhausted("x", 0, nil), capability.OutcomeQuota},
		{"fatal", capability.Fatal("x", nil), capability.OutcomeFatal},
		{"validation marker", services.Wrap(services.ErrValidation, "", "", "bad", nil), capability.OutcomeFatal},
		{"deadline", context.DeadlineExceeded, capability.OutcomeTransient},
		{"unclassified", errors.New("???"), capability.OutcomeTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := capability.OutcomeOf(tc.err); got != tc.want {
				t.Fatalf("OutcomeOf(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestNextEligibleIgnoresProvidersAvailableNow(t *testing.T) {
	ready := &fakeProvider{name: "ready"}
	resting := &fakeProvider{name: "resting"}
	f := newFixture(t, false, ready, resting)

	if next := f.registry.NextEligible("ready", "resting"); !next.IsZero() {
		t.Fatalf("expected zero with nobody resting, got %v", next)
	}
	until := f.clock().Add(20 * time.Minute)
	if err := f.registry.MarkExhausted("resting", until); err != nil {
		t.Fatal(err)
	}
	if next := f.registry.NextEligible("ready", "resting"); !next.Equal(until) {
		t.Fatalf("expected resting provider's reset %v, got %v", until, next)
	}
}

func TestInvalidateForcesProviderCall(t *testing.T) {
	p := &fakeProvider{name: "p", reply: `{"hook":""}`}
	f := newFixture(t, true, p)
	ctx := context.Background()

	out, err := f.executor.Invoke(ctx, "deep-reasoning", "q")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if _, err := f.executor.Invoke(ctx, "deep-reasoning", "q"); err != nil || p.Calls() != 1 {
		t.Fatalf("expected cached second call, calls=%d err=%v", p.Calls(), err)
	}
	if removed := f.executor.Invalidate(ctx, out.Fingerprint); removed != 1 {
		t.Fatalf("Invalidate removed %d entries", removed)
	}
	again, err := f.executor.Invoke(ctx, "deep-reasoning", "q")
	if err != nil {
		t.Fatalf("Invoke after invalidate: %v", err)
	}
	if p.Calls() != 2 || again.CacheHit {
		t.Fatalf("expected fresh provider call, calls=%d hit=%v", p.Calls(), again.CacheHit)
	}
}
