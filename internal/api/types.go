package api

import (
	"encoding/json"

	"omnireel/internal/capability"
	"omnireel/internal/cache"
	"omnireel/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Status          string          `json:"status"`
	Stage           string          `json:"stage"`
	NextStage       string          `json:"nextStage,omitempty"`
	BlockedReason   string          `json:"blockedReason,omitempty"`
	ResumeAt        string          `json:"resumeAt,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	FailedStage     string          `json:"failedStage,omitempty"`
	FailedProvider  string          `json:"failedProvider,omitempty"`
	RunCount        int             `json:"runCount"`
	CancelRequested bool            `json:"cancelRequested"`
	Worker          string          `json:"worker,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
	FinishedAt      string          `json:"finishedAt,omitempty"`
	CostEstimate    float64         `json:"costEstimate"`
	Request         json.RawMessage `json:"request,omitempty"`
	Results         []StageResult   `json:"results,omitempty"`
}

// StageResult is one recorded stage output with its provenance.
type StageResult struct {
	Stage        string          `json:"stage"`
	Seq          int             `json:"seq"`
	CacheHit     bool            `json:"cacheHit"`
	CostEstimate float64         `json:"costEstimate"`
	DurationMS   int64           `json:"durationMs"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	Sources      []string        `json:"sources,omitempty"`
	Notes        []string        `json:"notes,omitempty"`
	Calls        []Call          `json:"calls,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Call is the provenance of one capability invocation.
type Call struct {
	Capability  string  `json:"capability"`
	Provider    string  `json:"provider"`
	Fingerprint string  `json:"fingerprint"`
	CacheHit    bool    `json:"cacheHit"`
	Attempts    int     `json:"attempts"`
	Cost        float64 `json:"cost"`
}

// LedgerRecord is a ledger entry.
type LedgerRecord struct {
	Seq        int64           `json:"seq"`
	JobID      string          `json:"jobId,omitempty"`
	Kind       string          `json:"kind"`
	Stage      string          `json:"stage,omitempty"`
	Capability string          `json:"capability,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	FromStatus string          `json:"fromStatus,omitempty"`
	ToStatus   string          `json:"toStatus,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  string          `json:"createdAt"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool              `json:"running"`
	Workers     int               `json:"workers"`
	ActiveJobs  map[string]string `json:"activeJobs"`
	JobStats    map[string]int    `json:"jobStats"`
	LastError   string            `json:"lastError,omitempty"`
	LastJob     *Job              `json:"lastJob,omitempty"`
	StageHealth []stage.Health    `json:"stageHealth"`
}

// Health is the payload of GET /health.
type Health struct {
	Status   string         `json:"status"`
	Workflow WorkflowStatus `json:"workflow"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// LedgerResponse wraps ledger records in sequence order.
type LedgerResponse struct {
	Records []LedgerRecord `json:"records"`
}

// ProvidersResponse lists provider health and bindings.
type ProvidersResponse struct {
	Providers    []capability.ProviderState `json:"providers"`
	Capabilities map[string][]string        `json:"capabilities"`
}

// CacheResponse reports artifact cache counters.
type CacheResponse struct {
	Cache cache.Stats `json:"cache"`
}
