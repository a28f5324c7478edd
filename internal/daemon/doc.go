// Package daemon coordinates the long-running omnireel process.
//
// It opens the shared SQLite database and wires the provider registry, the
// artifact cache, the capability executor, the stage pipeline, the workflow
// manager and the reporting API into a single lifecycle, with flock-based
// locking to prevent multiple instances and a directory preflight before
// workers start.
//
// Keep orchestration logic here: stage behavior lives in internal/pipeline
// and job advancement in internal/workflow.
package daemon
