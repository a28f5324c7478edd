// Package services defines shared utilities consumed by the stage runners,
// the capability executor and the workflow manager.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, worker names and
//     correlation identifiers for logging and tracing.
//   - The error taxonomy (validation, transient, quota, exhausted, constraint,
//     fatal) plus the Wrap helper and Disposition, which translates a failure
//     into the job status the orchestrator persists (blocked vs failed).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
