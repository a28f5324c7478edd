package workflow

import (
	"context"
	"fmt"

	"omnireel/internal/jobs"
	"omnireel/internal/jobspec"
	"omnireel/internal/ledger"
)

// Operator applies operator commands to the job store and records each one
// in the ledger. It needs no running daemon.
type Operator struct {
	store  *jobs.Store
	ledger *ledger.Ledger
}

// NewOperator wraps the shared store and ledger.
func NewOperator(store *jobs.Store, l *ledger.Ledger) *Operator {
	return &Operator{store: store, ledger: l}
}

// Submit creates a pending job from a validated spec.
func (o *Operator) Submit(ctx context.Context, spec jobspec.Spec) (*jobs.Job, error) {
	request, err := spec.Request()
	if err != nil {
		return nil, err
	}
	job, err := o.store.Create(ctx, spec.Title, request)
	if err != nil {
		return nil, err
	}
	if _, err := o.ledger.Append(ctx, ledger.Record{
		JobID:    job.ID,
		Kind:     ledger.KindJobCreated,
		ToStatus: string(jobs.StatusPending),
		Detail:   request,
	}); err != nil {
		return job, fmt.Errorf("record job creation: %w", err)
	}
	return job, nil
}

// Resume returns a blocked job to pending ahead of its resume time.
func (o *Operator) Resume(ctx context.Context, id string) error {
	if err := o.store.Resume(ctx, id); err != nil {
		return err
	}
	_, err := o.ledger.Append(ctx, ledger.Record{
		JobID:      id,
		Kind:       ledger.KindStatusChanged,
		FromStatus: string(jobs.StatusBlocked),
		ToStatus:   string(jobs.StatusPending),
		Reason:     "resumed by operator",
	})
	return err
}

// Cancel fails a pending or blocked job at once, or flags a running job for
// its worker. It returns the status after the call.
func (o *Operator) Cancel(ctx context.Context, id string) (jobs.Status, error) {
	before, err := o.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	status, err := o.store.RequestCancel(ctx, id)
	if err != nil {
		return "", err
	}
	reason := "cancel requested by operator"
	if status == jobs.StatusFailed {
		reason = jobs.CancelMessage
	}
	if _, err := o.ledger.Append(ctx, ledger.Record{
		JobID:      id,
		Kind:       ledger.KindStatusChanged,
		Stage:      string(before.Stage),
		FromStatus: string(before.Status),
		ToStatus:   string(status),
		Reason:     reason,
	}); err != nil {
		return status, err
	}
	return status, nil
}
