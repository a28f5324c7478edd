package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"omnireel/internal/capability"
	"omnireel/internal/jobs"
	"omnireel/internal/logging"
	"omnireel/internal/services"
)

// Invoker runs capability calls. *capability.Executor satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, capability string, input any) (capability.Output, error)
}

// Invalidator is implemented by invokers that can drop cached replies.
type Invalidator interface {
	Invalidate(ctx context.Context, fingerprints ...string) int
}

// Runner executes stage descriptors. It never persists anything itself; the
// caller appends the returned result.
type Runner struct {
	registry *Registry
	invoker  Invoker
	logger   *slog.Logger
	now      func() time.Time
	// parallel bounds concurrent calls within one stage.
	parallel int
}

// NewRunner builds a runner.
func NewRunner(registry *Registry, invoker Invoker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{registry: registry, invoker: invoker, logger: logger, now: time.Now, parallel: 4}
}

// Registry exposes the descriptor registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Run executes one stage: validate, plan, invoke every call, combine, then
// the optional finish hook.
func (r *Runner) Run(ctx context.Context, name jobs.Stage, jc JobContext) (jobs.StageResult, error) {
	d, ok := r.registry.Get(name)
	if !ok {
		return jobs.StageResult{}, services.Wrap(services.ErrConfiguration, string(name), "run", "stage not registered", nil)
	}
	if jc.Job == nil {
		return jobs.StageResult{}, services.Wrap(services.ErrValidation, string(name), "run", "job context is empty", nil)
	}
	if d.Predecessor != "" {
		if _, ok := jc.Prior(d.Predecessor); !ok {
			return jobs.StageResult{}, services.Wrap(services.ErrValidation, string(name), "run",
				fmt.Sprintf("predecessor %s has no result", d.Predecessor), nil)
		}
	}

	stageCtx := services.WithStage(ctx, string(name))
	logger := logging.WithContext(stageCtx, r.logger)
	started := r.now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	if d.Validate != nil {
		if err := d.Validate(jc); err != nil {
			return jobs.StageResult{}, asValidation(name, "validate", err)
		}
	}
	calls, err := d.Plan(jc)
	if err != nil {
		return jobs.StageResult{}, asValidation(name, "plan", err)
	}

	replies, err := r.invokeAll(stageCtx, calls)
	if err != nil {
		return jobs.StageResult{}, err
	}

	combined, err := d.Combine(jc, replies)
	if err != nil {
		r.invalidate(stageCtx, logger, replies)
		return jobs.StageResult{}, asValidation(name, "combine", err)
	}
	if d.Finish != nil {
		if err := d.Finish(stageCtx, jc, &combined); err != nil {
			if isServiceError(err) {
				return jobs.StageResult{}, err
			}
			return jobs.StageResult{}, services.Wrap(services.ErrFatal, string(name), "finish", "finish hook failed", err)
		}
	}

	payload, err := json.Marshal(combined.Payload)
	if err != nil {
		return jobs.StageResult{}, services.Wrap(services.ErrFatal, string(name), "encode", "encode stage payload", err)
	}
	result := jobs.StageResult{
		JobID:      jc.Job.ID,
		Stage:      name,
		Payload:    payload,
		Provenance: jobs.Provenance{Sources: combined.Sources, Notes: combined.Notes},
		Duration:   r.now().Sub(started),
		CreatedAt:  r.now(),
	}
	result.CacheHit = len(replies) > 0
	for _, reply := range replies {
		out := reply.Output
		result.Provenance.Calls = append(result.Provenance.Calls, jobs.CallRecord{
			Capability:  reply.Call.Capability,
			Fingerprint: out.Fingerprint,
			Provider:    out.Provider,
			CacheHit:    out.CacheHit,
			Attempts:    out.Attempts,
			Cost:        out.Cost,
		})
		if reply.Call.Source != "" {
			result.Provenance.Sources = appendUnique(result.Provenance.Sources, reply.Call.Source)
		}
		result.CacheHit = result.CacheHit && out.CacheHit
		result.CostEstimate += out.Cost
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("calls", len(replies)),
		logging.Bool("cache_hit", result.CacheHit),
		logging.Duration("duration", result.Duration),
		logging.Float64("cost_estimate", result.CostEstimate),
	)
	return result, nil
}

// invokeAll runs the planned calls concurrently and returns replies in plan
// order. The first failure cancels the remaining waits.
func (r *Runner) invokeAll(ctx context.Context, calls []Call) ([]Reply, error) {
	replies := make([]Reply, len(calls))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallel)
	for i, call := range calls {
		group.Go(func() error {
			out, err := r.invoker.Invoke(groupCtx, call.Capability, call.Input)
			if err != nil {
				return err
			}
			replies[i] = Reply{Call: call, Output: out}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// invalidate evicts the replies a stage rejected. Otherwise every later job
// with the same input would hit the rejected entry until it expires.
func (r *Runner) invalidate(ctx context.Context, logger *slog.Logger, replies []Reply) {
	inv, ok := r.invoker.(Invalidator)
	if !ok || len(replies) == 0 {
		return
	}
	fingerprints := make([]string, 0, len(replies))
	for _, reply := range replies {
		if reply.Output.Fingerprint != "" {
			fingerprints = append(fingerprints, reply.Output.Fingerprint)
		}
	}
	if removed := inv.Invalidate(ctx, fingerprints...); removed > 0 {
		logging.WarnWithContext(logger, "dropped rejected replies from cache", "cache_invalidated",
			logging.Int("count", removed),
			logging.String(logging.FieldErrorHint, "inspect the provider reply recorded in the ledger"),
			logging.String(logging.FieldImpact, "next attempt calls a provider again"),
		)
	}
}

func asValidation(name jobs.Stage, operation string, err error) error {
	if isServiceError(err) {
		return err
	}
	return services.Wrap(services.ErrValidation, string(name), operation, err.Error(), nil)
}

func isServiceError(err error) bool {
	var svcErr *services.Error
	return errors.As(err, &svcErr)
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
