package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Health is the coarse state of a provider.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthExhausted Health = "exhausted"
)

// Limits bounds how often a provider may be called.
type Limits struct {
	// QuotaPerWindow is the local call budget per QuotaWindow. Zero is unlimited.
	QuotaPerWindow int
	QuotaWindow    time.Duration
	// QuotaReset is how long an exhausted provider rests when the provider
	// gives no Retry-After hint.
	QuotaReset      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	CostPerCall     float64
}

// ProviderState is a snapshot of one provider's health.
type ProviderState struct {
	Provider         string    `json:"provider"`
	Capabilities     []string  `json:"capabilities"`
	Health           Health    `json:"health"`
	ExhaustedUntil   time.Time `json:"exhausted_until,omitempty"`
	WindowStart      time.Time `json:"window_start,omitempty"`
	WindowUsed       int       `json:"window_used"`
	WindowLimit      int       `json:"window_limit"`
	CircuitOpenUntil time.Time `json:"circuit_open_until,omitempty"`
	LastOutcome      Outcome   `json:"last_outcome,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	LastAttempt      time.Time `json:"last_attempt,omitempty"`
	Calls            uint64    `json:"calls"`
	Successes        uint64    `json:"successes"`
	Failures         uint64    `json:"failures"`
	QuotaHits        uint64    `json:"quota_hits"`
}

type entry struct {
	provider Provider
	limits   Limits
	state    ProviderState
	guard    breaker
}

// ErrUnknownProvider is returned when binding or resetting an unregistered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry is safe for concurrent use; one mutex guards every provider's state.
type Registry struct {
	mu        sync.Mutex
	providers map[string]*entry
	order     map[string][]string
	now       func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*entry),
		order:     make(map[string][]string),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now != nil {
		r.now = now
	}
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now()
}

// Register adds a provider. Registering a name twice replaces the provider
// and resets its state.
func (r *Registry) Register(p Provider, limits Limits) error {
	if p == nil || p.Name() == "" {
		return errors.New("register provider: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = &entry{
		provider: p,
		limits:   limits,
		state:    ProviderState{Provider: p.Name(), Health: HealthHealthy, WindowLimit: limits.QuotaPerWindow},
		guard:    breaker{maxFailures: limits.BreakerFailures, cooldown: limits.BreakerCooldown},
	}
	return nil
}

// Bind sets the priority order of providers for a capability.
func (r *Registry) Bind(capability string, providers ...string) error {
	if capability == "" {
		return errors.New("bind capability: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range providers {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("bind %s: %w %q", capability, ErrUnknownProvider, name)
		}
	}
	r.order[capability] = append([]string(nil), providers...)
	return nil
}

// Providers returns the priority order for a capability.
func (r *Registry) Providers(capability string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order[capability]...)
}

// Capabilities lists bound capabilities in name order.
func (r *Registry) Capabilities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for name := range r.order {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// admission is the result of an atomic check-and-consume.
type admission struct {
	provider Provider
	limits   Limits
	allowed  bool
	reason   string
	until    time.Time
}

// admit decides whether name may be called now and, if so, consumes one
// quota unit. Elapsed exhaustion resets the provider to healthy first.
func (r *Registry) admit(name string) admission {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.providers[name]
	if !ok {
		return admission{reason: "not registered"}
	}
	now := r.now()
	st := &e.state
	adm := admission{provider: e.provider, limits: e.limits}

	if st.Health == HealthExhausted {
		if now.Before(st.ExhaustedUntil) {
			adm.reason = "exhausted"
			adm.until = st.ExhaustedUntil
			return adm
		}
		st.Health = HealthHealthy
		st.ExhaustedUntil = time.Time{}
		st.WindowStart = time.Time{}
		st.WindowUsed = 0
	}
	if !e.guard.allow(now) {
		adm.reason = "circuit open"
		adm.until = st.CircuitOpenUntil
		return adm
	}
	if e.limits.QuotaPerWindow > 0 {
		if st.WindowStart.IsZero() || (e.limits.QuotaWindow > 0 && !now.Before(st.WindowStart.Add(e.limits.QuotaWindow))) {
			st.WindowStart = now
			st.WindowUsed = 0
		}
		if st.WindowUsed >= e.limits.QuotaPerWindow {
			var rest time.Duration
			if e.limits.QuotaWindow > 0 {
				rest = st.WindowStart.Add(e.limits.QuotaWindow).Sub(now)
			}
			until := r.exhaustLocked(e, now, rest)
			adm.reason = "local quota spent"
			adm.until = until
			return adm
		}
		st.WindowUsed++
	}
	st.Calls++
	st.LastAttempt = now
	adm.allowed = true
	return adm
}

// record applies an attempt outcome and returns the exhausted-until time when
// the outcome exhausted the provider.
func (r *Registry) record(name string, outcome Outcome, err error) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.providers[name]
	if !ok {
		return time.Time{}
	}
	now := r.now()
	st := &e.state
	st.LastOutcome = outcome
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	switch outcome {
	case OutcomeSuccess:
		st.Successes++
		e.guard.success()
		st.CircuitOpenUntil = time.Time{}
		st.Health = HealthHealthy
	case OutcomeQuota:
		st.QuotaHits++
		st.Failures++
		return r.exhaustLocked(e, now, retryAfterOf(err))
	case OutcomeTransient:
		st.Failures++
		st.Health = HealthDegraded
		if e.guard.failure(now) {
			st.CircuitOpenUntil = e.guard.openUntil
		}
	case OutcomeFatal:
		st.Failures++
	}
	return time.Time{}
}

func (r *Registry) exhaustLocked(e *entry, now time.Time, retryAfter time.Duration) time.Time {
	rest := retryAfter
	if rest <= 0 {
		rest = e.limits.QuotaReset
	}
	if rest <= 0 {
		rest = time.Hour
	}
	e.state.Health = HealthExhausted
	e.state.ExhaustedUntil = now.Add(rest)
	return e.state.ExhaustedUntil
}

// MarkExhausted forces a provider into the exhausted state until the given time.
func (r *Registry) MarkExhausted(name string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	e.state.Health = HealthExhausted
	e.state.ExhaustedUntil = until
	return nil
}

// Reset returns a provider to healthy, clearing quota and breaker state.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	e.guard.success()
	e.state.Health = HealthHealthy
	e.state.ExhaustedUntil = time.Time{}
	e.state.CircuitOpenUntil = time.Time{}
	e.state.WindowStart = time.Time{}
	e.state.WindowUsed = 0
	return nil
}

// NextEligible returns the earliest time any resting provider among names
// leaves the exhausted or open-circuit state. Providers that are eligible now
// are ignored, so zero means none of the named providers is resting.
func (r *Registry) NextEligible(names ...string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var earliest time.Time
	for _, name := range names {
		e, ok := r.providers[name]
		if !ok {
			continue
		}
		var until time.Time
		if e.state.Health == HealthExhausted && now.Before(e.state.ExhaustedUntil) {
			until = e.state.ExhaustedUntil
		}
		if !e.guard.allow(now) && e.guard.openUntil.After(until) {
			until = e.guard.openUntil
		}
		if until.IsZero() {
			continue
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	return earliest
}

// Snapshot returns every provider's state in name order. Exhaustion that has
// already elapsed is reported as healthy.
func (r *Registry) Snapshot() []ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	caps := make(map[string][]string)
	for capability, names := range r.order {
		for _, name := range names {
			caps[name] = append(caps[name], capability)
		}
	}
	out := make([]ProviderState, 0, len(r.providers))
	for name, e := range r.providers {
		st := e.state
		if st.Health == HealthExhausted && !now.Before(st.ExhaustedUntil) {
			st.Health = HealthHealthy
			st.ExhaustedUntil = time.Time{}
		}
		st.Capabilities = caps[name]
		sort.Strings(st.Capabilities)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
