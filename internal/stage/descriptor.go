package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"omnireel/internal/capability"
	"omnireel/internal/jobs"
)

// JobContext is the read-only view of a job a stage runs against.
type JobContext struct {
	Job         *jobs.Job
	ArtifactDir string
}

// Prior returns the recorded result of an earlier stage.
func (jc JobContext) Prior(stage jobs.Stage) (jobs.StageResult, bool) {
	return jc.Job.Result(stage)
}

// DecodePrior unmarshals an earlier stage's payload into v.
func (jc JobContext) DecodePrior(stage jobs.Stage, v any) error {
	result, ok := jc.Prior(stage)
	if !ok {
		return fmt.Errorf("no %s result recorded", stage)
	}
	return json.Unmarshal(result.Payload, v)
}

// Call is one planned capability invocation. Key identifies the reply to
// Combine; Source is recorded in provenance when set.
type Call struct {
	Key        string
	Capability string
	Input      any
	Source     string
}

// Reply pairs a call with its output.
type Reply struct {
	Call   Call
	Output capability.Output
}

// Combined is the typed stage output before persistence.
type Combined struct {
	Payload any
	Sources []string
	Notes   []string
}

// Descriptor is the data describing one stage. Validate, Plan and Combine
// must not block or touch external systems; Finish may write files and
// records and runs after Combine succeeds.
type Descriptor struct {
	Name         jobs.Stage
	Predecessor  jobs.Stage
	Capabilities []string
	Validate     func(JobContext) error
	Plan         func(JobContext) ([]Call, error)
	Combine      func(JobContext, []Reply) (Combined, error)
	Finish       func(context.Context, JobContext, *Combined) error
}

// Registry selects descriptors by stage name.
type Registry struct {
	descriptors map[jobs.Stage]Descriptor
}

// NewRegistry validates and indexes descriptors. Every predecessor must be
// registered too.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[jobs.Stage]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("stage descriptor without name")
		}
		if d.Plan == nil || d.Combine == nil {
			return nil, fmt.Errorf("stage %s: plan and combine are required", d.Name)
		}
		if _, dup := r.descriptors[d.Name]; dup {
			return nil, fmt.Errorf("stage %s registered twice", d.Name)
		}
		r.descriptors[d.Name] = d
	}
	for _, d := range r.descriptors {
		if d.Predecessor == "" {
			continue
		}
		if _, ok := r.descriptors[d.Predecessor]; !ok {
			return nil, fmt.Errorf("stage %s: predecessor %s not registered", d.Name, d.Predecessor)
		}
	}
	return r, nil
}

// Get returns the descriptor for a stage.
func (r *Registry) Get(name jobs.Stage) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns the registered stage names, sorted.
func (r *Registry) Names() []jobs.Stage {
	out := make([]jobs.Stage, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
