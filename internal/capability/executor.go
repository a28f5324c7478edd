package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"omnireel/internal/cache"
	"omnireel/internal/logging"
	"omnireel/internal/services"
)

// Policy bounds retries for each provider.
type Policy struct {
	Attempts       int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// Output is a successful capability result with its provenance.
type Output struct {
	Payload     json.RawMessage
	Provider    string
	Fingerprint string
	// CacheHit is set when the payload came from the cache or from another
	// caller's in-flight execution.
	CacheHit bool
	Shared   bool
	Attempts int
	Cost     float64
}

// Event describes one provider attempt or skip for observers.
type Event struct {
	Capability  string
	Provider    string
	Fingerprint string
	Outcome     Outcome
	Try         int
	Reason      string
	Until       time.Time
	Duration    time.Duration
	Err         error
}

// Recorder observes attempts. It runs on the executing goroutine, which may
// outlive the requesting job for shared executions.
type Recorder func(ctx context.Context, ev Event)

// Executor is safe for concurrent use.
type Executor struct {
	registry *Registry
	cache    *cache.Cache
	policy   Policy
	logger   *slog.Logger
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithRecorder installs an attempt observer.
func WithRecorder(rec Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = rec }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logging.NewComponentLogger(logger, "executor") }
}

// WithSleeper overrides backoff sleeps (useful for tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// NewExecutor builds an executor. A nil cache disables caching.
func NewExecutor(registry *Registry, c *cache.Cache, policy Policy, opts ...ExecutorOption) *Executor {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	e := &Executor{
		registry: registry,
		cache:    c,
		policy:   policy,
		logger:   logging.NewComponentLogger(nil, "executor"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the provider registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Cache exposes the artifact cache, which may be nil.
func (e *Executor) Cache() *cache.Cache { return e.cache }

// Invalidate drops cached results a caller found unusable, so later
// invocations with the same input reach a provider again.
func (e *Executor) Invalidate(ctx context.Context, fingerprints ...string) int {
	return e.cache.Invalidate(ctx, fingerprints...)
}

type cachedResult struct {
	Provider string          `json:"provider"`
	Payload  json.RawMessage `json:"payload"`
	Cost     float64         `json:"cost,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
}

// Invoke runs capability with input. The input is canonicalized and
// fingerprinted; a cached result is returned without calling any provider.
// Otherwise the caller either executes the work or joins the execution already
// in flight for the same fingerprint. The execution itself runs detached from
// ctx so cancelling one caller never aborts work another caller is waiting on.
func (e *Executor) Invoke(ctx context.Context, capability string, input any) (Output, error) {
	canonical, err := cache.Canonical(input)
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "", "invoke "+capability, "input is not valid JSON", err)
	}
	fingerprint, err := cache.Fingerprint(capability, json.RawMessage(canonical))
	if err != nil {
		return Output{}, services.Wrap(services.ErrValidation, "", "invoke "+capability, "fingerprint input", err)
	}
	if len(e.registry.Providers(capability)) == 0 {
		return Output{}, services.Wrap(services.ErrConfiguration, "", "invoke "+capability, "no providers bound to capability", nil)
	}

	if out, ok := e.lookup(ctx, fingerprint); ok {
		return out, nil
	}

	flight, granted := e.cache.Reserve(fingerprint)
	if granted {
		// A flight that finished between the lookup and the reservation
		// has already stored its result.
		if out, ok := e.lookup(ctx, fingerprint); ok {
			flight.Share(ctx, encodeResult(out))
			return out, nil
		}
		detached := context.WithoutCancel(ctx)
		go func() {
			out, err := e.execute(detached, capability, fingerprint, json.RawMessage(canonical))
			if err != nil {
				flight.Complete(detached, capability, nil, err)
				return
			}
			flight.Complete(detached, capability, encodeResult(out), nil)
		}()
	}

	raw, err := flight.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Output{}, fmt.Errorf("%s: %w", capability, err)
		}
		return Output{}, err
	}
	out, err := decodeResult(raw)
	if err != nil {
		return Output{}, services.Wrap(services.ErrFatal, "", "invoke "+capability, "decode shared result", err)
	}
	out.Fingerprint = fingerprint
	if !granted {
		out.CacheHit = true
		out.Shared = true
		out.Attempts = 0
		out.Cost = 0
	}
	return out, nil
}

func (e *Executor) lookup(ctx context.Context, fingerprint string) (Output, bool) {
	raw, ok := e.cache.Get(ctx, fingerprint)
	if !ok {
		return Output{}, false
	}
	out, err := decodeResult(raw)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "ignoring undecodable cache entry", "cache_entry_invalid",
			logging.String(logging.FieldFingerprint, fingerprint),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run 'omnireel cache purge' if this repeats"),
			logging.String(logging.FieldImpact, "result recomputed"),
		)
		return Output{}, false
	}
	out.Fingerprint = fingerprint
	out.CacheHit = true
	out.Attempts = 0
	out.Cost = 0
	return out, true
}

// execute walks the provider list in priority order.
func (e *Executor) execute(ctx context.Context, capability, fingerprint string, input json.RawMessage) (Output, error) {
	logger := logging.WithContext(ctx, e.logger).With(
		logging.String(logging.FieldCapability, capability),
		logging.String(logging.FieldFingerprint, fingerprint),
	)
	providers := e.registry.Providers(capability)
	exhausted := &ExhaustedError{Capability: capability}
	totalTries := 0

	for _, name := range providers {
		attempt := Attempt{Provider: name}
	tries:
		for try := 1; try <= e.policy.Attempts; try++ {
			adm := e.registry.admit(name)
			if !adm.allowed {
				if attempt.Tries == 0 {
					attempt.Outcome = OutcomeSkipped
				}
				attempt.Reason = adm.reason
				attempt.Until = adm.until
				e.emit(ctx, Event{Capability: capability, Provider: name, Fingerprint: fingerprint, Outcome: OutcomeSkipped, Try: try, Reason: adm.reason, Until: adm.until})
				break
			}

			attempt.Tries++
			totalTries++
			started := time.Now()
			payload, err := e.call(ctx, adm.provider, capability, input)
			elapsed := time.Since(started)
			outcome := OutcomeOf(err)
			if outcome == OutcomeSuccess && !json.Valid(payload) {
				outcome = OutcomeTransient
				err = Transient("provider returned invalid JSON", nil)
			}
			until := e.registry.record(name, outcome, err)
			ev := Event{Capability: capability, Provider: name, Fingerprint: fingerprint, Outcome: outcome, Try: try, Duration: elapsed, Err: err, Until: until}
			if err != nil {
				ev.Reason = err.Error()
			}
			e.emit(ctx, ev)

			switch outcome {
			case OutcomeSuccess:
				logger.InfoContext(ctx, "capability served",
					logging.String(logging.FieldProvider, name),
					logging.Int("tries", try),
					logging.Duration("elapsed", elapsed),
				)
				return Output{
					Payload:     payload,
					Provider:    name,
					Fingerprint: fingerprint,
					Attempts:    totalTries,
					Cost:        adm.limits.CostPerCall,
				}, nil
			case OutcomeFatal:
				logging.ErrorWithContext(logger, "capability call failed fatally", "provider_fatal",
					logging.String(logging.FieldProvider, name),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the provider credentials and the request payload"),
				)
				return Output{}, &FatalError{Capability: capability, Provider: name, Err: err}
			case OutcomeQuota:
				attempt.Outcome = outcome
				attempt.Reason = "quota exhausted"
				attempt.Until = until
				logging.WarnWithContext(logger, "provider quota exhausted", "provider_exhausted",
					logging.String(logging.FieldProvider, name),
					logging.Time("exhausted_until", until),
					logging.String(logging.FieldErrorHint, "falling back to the next provider"),
					logging.String(logging.FieldImpact, "provider skipped until its quota resets"),
				)
				break tries
			default:
				attempt.Outcome = outcome
				attempt.Reason = err.Error()
				if try == e.policy.Attempts {
					break tries
				}
				delay := e.backoffDelay(try, retryAfterOf(err))
				logger.DebugContext(ctx, "retrying provider",
					logging.String(logging.FieldProvider, name),
					logging.Int("try", try),
					logging.Duration("delay", delay),
					logging.Error(err),
				)
				if err := e.sleep(ctx, delay); err != nil {
					return Output{}, err
				}
			}
		}
		if attempt.Outcome == "" {
			attempt.Outcome = OutcomeSkipped
		}
		exhausted.Attempts = append(exhausted.Attempts, attempt)
	}

	exhausted.RetryAt = e.registry.NextEligible(providers...)
	logging.WarnWithContext(logger, "capability exhausted", "capability_exhausted",
		logging.Int("providers", len(providers)),
		logging.Time("retry_at", exhausted.RetryAt),
		logging.String("reason", exhausted.Error()),
		logging.String(logging.FieldErrorHint, "the job blocks until a provider becomes eligible"),
		logging.String(logging.FieldImpact, "stage cannot complete now"),
	)
	return Output{}, exhausted
}

// call runs one attempt under the per-attempt timeout. A deadline hit counts
// as transient.
func (e *Executor) call(ctx context.Context, p Provider, capability string, input json.RawMessage) (json.RawMessage, error) {
	attemptCtx := ctx
	if e.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()
	}
	payload, err := p.Invoke(attemptCtx, capability, input)
	if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		return nil, Transient(fmt.Sprintf("attempt timed out after %s", e.policy.AttemptTimeout), err)
	}
	return payload, err
}

func (e *Executor) emit(ctx context.Context, ev Event) {
	if e.recorder != nil {
		e.recorder(ctx, ev)
	}
}

// backoffDelay doubles BaseDelay per try up to MaxDelay. A provider hint
// overrides it, still capped by MaxDelay.
func (e *Executor) backoffDelay(try int, hint time.Duration) time.Duration {
	if hint > 0 {
		return e.capDelay(hint)
	}
	base := e.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < try; i++ {
		if e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay/2 {
			delay = e.policy.MaxDelay
			break
		}
		delay *= 2
	}
	return e.capDelay(delay)
}

func (e *Executor) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if e.policy.MaxDelay > 0 && delay > e.policy.MaxDelay {
		return e.policy.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodeResult(out Output) []byte {
	data, _ := json.Marshal(cachedResult{Provider: out.Provider, Payload: out.Payload, Cost: out.Cost, Attempts: out.Attempts})
	return data
}

func decodeResult(raw []byte) (Output, error) {
	var res cachedResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Output{}, err
	}
	return Output{Payload: res.Payload, Provider: res.Provider, Cost: res.Cost, Attempts: res.Attempts}, nil
}
