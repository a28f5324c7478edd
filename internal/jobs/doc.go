// Package jobs persists pipeline jobs and their stage results in SQLite and
// exposes the transitions that drive a job's lifecycle.
//
// The Store wraps the shared storage.DB and owns claiming (one worker per job),
// heartbeat tracking, stale-run recovery, blocked/resume bookkeeping,
// operator cancellation and retention archiving. Stage results are immutable
// and unique per (job, stage); a resumed job re-enters at the first stage
// without a result, so a completed stage is never recorded twice.
//
// Treat this package as the single source of truth for job semantics; when you
// add new statuses or columns, update storage/schema.sql and bump its version.
package jobs
