package services

import (
	"context"
	"errors"
	"strings"

	"omnireel/internal/jobs"
)

var (
	ErrValidation              = errors.New("validation error")
	ErrConfiguration           = errors.New("configuration error")
	ErrNotFound                = errors.New("not found")
	ErrTimeout                 = errors.New("timeout")
	ErrTransient               = errors.New("transient failure")
	ErrQuotaExhausted          = errors.New("quota exhausted")
	ErrExhausted               = errors.New("all providers exhausted")
	ErrConstraintUnsatisfiable = errors.New("constraint unsatisfiable")
	ErrFatal                   = errors.New("fatal stage error")
	ErrCancelled               = errors.New("cancelled")
)

// Error carries stage context alongside a taxonomy marker. Use Wrap to build one.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return e.Marker.Error() + ": " + detail + ": " + e.Cause.Error()
	}
	return e.Marker.Error() + ": " + detail
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// WithHint attaches an operator hint to a services error. Other errors are
// returned unchanged.
func WithHint(err error, hint string) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		svcErr.Hint = strings.TrimSpace(hint)
	}
	return err
}

// ErrorDetails summarises an error for structured logs and persisted failures.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     string
}

// Details classifies err and extracts stage context when present.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err), Message: err.Error()}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Message = svcErr.Message
		details.Hint = svcErr.Hint
		if svcErr.Cause != nil {
			details.Cause = svcErr.Cause.Error()
		}
	}
	if details.Hint == "" {
		details.Hint = defaultHint(details.Kind)
	}
	return details
}

// Kind names the taxonomy bucket of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConstraintUnsatisfiable):
		return "constraint"
	case errors.Is(err, ErrQuotaExhausted):
		return "quota"
	case errors.Is(err, ErrFatal):
		return "fatal"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "fatal"
	}
}

// Disposition maps a stage error to the job status the workflow manager
// should persist after the stage fails. Provider exhaustion and job timeouts
// block the job; everything else is terminal.
func Disposition(err error) jobs.Status {
	switch Kind(err) {
	case "exhausted", "timeout":
		return jobs.StatusBlocked
	default:
		return jobs.StatusFailed
	}
}

func defaultHint(kind string) string {
	switch kind {
	case "exhausted":
		return "providers are exhausted; the job resumes automatically at the next quota reset or via 'omnireel job resume'"
	case "timeout":
		return "job exceeded workflow.job_timeout; it will resume from its last completed stage"
	case "validation":
		return "inspect the job request and upstream stage output"
	case "configuration":
		return "check the capability and provider sections of the config file"
	case "cancelled":
		return "job was cancelled by an operator"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
