package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"omnireel/internal/services"
)

// Provider serves one or more capabilities.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, capability string, input json.RawMessage) (json.RawMessage, error)
}

// Outcome classifies a single provider attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeQuota     Outcome = "quota_exhausted"
	OutcomeFatal     Outcome = "fatal"
	// OutcomeSkipped marks a provider passed over without a call.
	OutcomeSkipped Outcome = "skipped"
)

// ProviderError is how providers report a classified failure.
type ProviderError struct {
	Outcome    Outcome
	StatusCode int
	// RetryAfter is the provider's own hint for when to try again.
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Outcome))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() []error {
	marker := services.ErrTransient
	switch e.Outcome {
	case OutcomeQuota:
		marker = services.ErrQuotaExhausted
	case OutcomeFatal:
		marker = services.ErrFatal
	}
	if e.Err == nil {
		return []error{marker}
	}
	return []error{marker, e.Err}
}

// Transient wraps err as a retryable failure.
func Transient(message string, err error) error {
	return &ProviderError{Outcome: OutcomeTransient, Message: message, Err: err}
}

// QuotaExhausted wraps err as a quota or rate-limit failure.
func QuotaExhausted(message string, retryAfter time.Duration, err error) error {
	return &ProviderError{Outcome: OutcomeQuota, Message: message, RetryAfter: retryAfter, Err: err}
}

// Fatal wraps err as a failure no other provider can fix.
func Fatal(message string, err error) error {
	return &ProviderError{Outcome: OutcomeFatal, Message: message, Err: err}
}

// OutcomeOf classifies an error returned by Provider.Invoke. Unclassified
// errors count as transient so the executor falls back rather than failing
// the job.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Outcome
	}
	switch {
	case errors.Is(err, services.ErrQuotaExhausted):
		return OutcomeQuota
	case errors.Is(err, services.ErrFatal),
		errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrConfiguration):
		return OutcomeFatal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return OutcomeTransient
	}
	return OutcomeTransient
}

func retryAfterOf(err error) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.RetryAfter
	}
	return 0
}
