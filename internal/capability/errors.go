package capability

import (
	"fmt"
	"strings"
	"time"

	"omnireel/internal/services"
)

// Attempt summarizes what happened with one provider during an invocation.
type Attempt struct {
	Provider string    `json:"provider"`
	Outcome  Outcome   `json:"outcome"`
	Reason   string    `json:"reason"`
	Tries    int       `json:"tries"`
	Until    time.Time `json:"until,omitempty"`
}

// ExhaustedError reports that no provider could serve a capability. RetryAt
// is the earliest time any provider is expected to be eligible again; zero
// when unknown.
type ExhaustedError struct {
	Capability string
	Attempts   []Attempt
	RetryAt    time.Time
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	msg := fmt.Sprintf("%s: all providers exhausted", e.Capability)
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return services.ErrExhausted }

// LastProvider returns the last provider tried, if any.
func (e *ExhaustedError) LastProvider() string {
	if len(e.Attempts) == 0 {
		return ""
	}
	return e.Attempts[len(e.Attempts)-1].Provider
}

// FatalError reports a failure that aborted an invocation.
type FatalError struct {
	Capability string
	Provider   string
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s via %s: %v", e.Capability, e.Provider, e.Err)
}

func (e *FatalError) Unwrap() []error { return []error{services.ErrFatal, e.Err} }
