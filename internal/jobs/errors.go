package jobs

import "errors"

var (
	// ErrNotFound reports an unknown job identifier.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateStage reports an attempt to record a second result for a stage.
	ErrDuplicateStage = errors.New("stage result already recorded")
	// ErrInvalidTransition reports a transition the job's current status forbids.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrCancelRequested reports a transition refused because an operator
	// asked to cancel the running job; the caller should fail it instead.
	ErrCancelRequested = errors.New("job cancellation requested")
)

// CancelMessage is the failure message of operator-cancelled jobs.
const CancelMessage = "cancelled by operator"
