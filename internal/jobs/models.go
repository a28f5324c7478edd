package jobs

import (
	"encoding/json"
	"time"
)

// Status captures the lifecycle of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusBlocked Status = "blocked"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusBlocked, StatusDone, StatusFailed}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status.
func ParseStatus(raw string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == raw {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Stage names a pipeline stage.
type Stage string

const (
	StageIngesting        Stage = "ingesting"
	StageScripting        Stage = "scripting"
	StageHumanizing       Stage = "humanizing"
	StageDistributionPrep Stage = "distribution_prep"
	StageDone             Stage = "done"
)

var pipeline = []Stage{StageIngesting, StageScripting, StageHumanizing, StageDistributionPrep}

// Pipeline returns the ordered work stages.
func Pipeline() []Stage {
	out := make([]Stage, len(pipeline))
	copy(out, pipeline)
	return out
}

// Next returns the stage following s, or StageDone after the last stage.
func (s Stage) Next() Stage {
	for i, stage := range pipeline {
		if stage == s && i+1 < len(pipeline) {
			return pipeline[i+1]
		}
	}
	return StageDone
}

// Previous returns the stage preceding s. The first stage has no predecessor.
func (s Stage) Previous() (Stage, bool) {
	for i, stage := range pipeline {
		if stage == s && i > 0 {
			return pipeline[i-1], true
		}
	}
	return "", false
}

// FirstIncomplete returns the first pipeline stage without a result, or
// StageDone when every stage has completed.
func FirstIncomplete(results []StageResult) Stage {
	done := make(map[Stage]struct{}, len(results))
	for _, r := range results {
		done[r.Stage] = struct{}{}
	}
	for _, stage := range pipeline {
		if _, ok := done[stage]; !ok {
			return stage
		}
	}
	return StageDone
}

// Job is a single pipeline run.
type Job struct {
	ID              string
	Title           string
	Request         json.RawMessage
	Stage           Stage
	Status          Status
	BlockedReason   string
	ResumeAt        *time.Time
	ErrorMessage    string
	FailedStage     string
	FailedProvider  string
	RunCount        int
	CancelRequested bool
	Worker          string
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ArchivedAt      *time.Time
	Results         []StageResult
}

// Result returns the stage result for stage, if recorded.
func (j *Job) Result(stage Stage) (StageResult, bool) {
	if j == nil {
		return StageResult{}, false
	}
	for _, r := range j.Results {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageResult{}, false
}

// CallRecord is the provenance of one capability invocation inside a stage.
type CallRecord struct {
	Capability  string  `json:"capability"`
	Fingerprint string  `json:"fingerprint"`
	Provider    string  `json:"provider"`
	CacheHit    bool    `json:"cache_hit"`
	Attempts    int     `json:"attempts"`
	Cost        float64 `json:"cost"`
}

// Provenance records where a stage result came from.
type Provenance struct {
	Sources []string     `json:"sources,omitempty"`
	Calls   []CallRecord `json:"calls,omitempty"`
	Notes   []string     `json:"notes,omitempty"`
}

// Providers lists the distinct providers that served the calls.
func (p Provenance) Providers() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, call := range p.Calls {
		if call.Provider == "" {
			continue
		}
		if _, ok := seen[call.Provider]; ok {
			continue
		}
		seen[call.Provider] = struct{}{}
		out = append(out, call.Provider)
	}
	return out
}

// StageResult is the immutable output of a completed stage.
type StageResult struct {
	JobID        string
	Stage        Stage
	Seq          int
	Payload      json.RawMessage
	Provenance   Provenance
	CacheHit     bool
	Duration     time.Duration
	CostEstimate float64
	CreatedAt    time.Time
}

// Filter narrows job listings.
type Filter struct {
	Statuses        []Status
	IncludeArchived bool
	Limit           int
}
