package api

import (
	"time"

	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/workflow"
)

// FromJob converts a job to its API representation. Results are included
// only when loaded on the job.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		Title:           job.Title,
		Status:          string(job.Status),
		Stage:           string(job.Stage),
		BlockedReason:   job.BlockedReason,
		ErrorMessage:    job.ErrorMessage,
		FailedStage:     job.FailedStage,
		FailedProvider:  job.FailedProvider,
		RunCount:        job.RunCount,
		CancelRequested: job.CancelRequested,
		Worker:          job.Worker,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
		Request:         job.Request,
	}
	if job.ResumeAt != nil {
		dto.ResumeAt = formatTime(*job.ResumeAt)
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = formatTime(*job.FinishedAt)
	}
	if !job.Status.IsTerminal() && len(job.Results) > 0 {
		dto.NextStage = string(jobs.FirstIncomplete(job.Results))
	}
	for _, r := range job.Results {
		dto.Results = append(dto.Results, FromStageResult(r))
		dto.CostEstimate += r.CostEstimate
	}
	return dto
}

// FromJobs converts a slice of jobs.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStageResult converts one recorded stage result.
func FromStageResult(r jobs.StageResult) StageResult {
	dto := StageResult{
		Stage:        string(r.Stage),
		Seq:          r.Seq,
		CacheHit:     r.CacheHit,
		CostEstimate: r.CostEstimate,
		DurationMS:   r.Duration.Milliseconds(),
		CreatedAt:    formatTime(r.CreatedAt),
		Sources:      r.Provenance.Sources,
		Notes:        r.Provenance.Notes,
		Payload:      r.Payload,
	}
	for _, c := range r.Provenance.Calls {
		dto.Calls = append(dto.Calls, Call{
			Capability:  c.Capability,
			Provider:    c.Provider,
			Fingerprint: c.Fingerprint,
			CacheHit:    c.CacheHit,
			Attempts:    c.Attempts,
			Cost:        c.Cost,
		})
	}
	return dto
}

// FromLedger converts ledger records.
func FromLedger(records []ledger.Record) []LedgerRecord {
	out := make([]LedgerRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, LedgerRecord{
			Seq:        rec.Seq,
			JobID:      rec.JobID,
			Kind:       string(rec.Kind),
			Stage:      rec.Stage,
			Capability: rec.Capability,
			Provider:   rec.Provider,
			FromStatus: rec.FromStatus,
			ToStatus:   rec.ToStatus,
			Reason:     rec.Reason,
			Detail:     rec.Detail,
			CreatedAt:  formatTime(rec.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts workflow diagnostics. Every job status is
// present in JobStats, zero when no job has it.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		ActiveJobs:  summary.ActiveJobs,
		LastError:   summary.LastError,
		StageHealth: summary.StageHealth,
		JobStats:    make(map[string]int, len(jobs.AllStatuses())),
	}
	for _, s := range jobs.AllStatuses() {
		status.JobStats[string(s)] = summary.JobStats[s]
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		last.Results = nil
		last.Request = nil
		status.LastJob = &last
	}
	return status
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
