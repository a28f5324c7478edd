// Package logging builds the slog loggers used by the daemon, the CLI and
// per-job log files.
//
// Two handlers are available: a console handler that leads each line with
// the component, job, stage and provider, and a JSON handler with short keys.
// Context helpers tag lines with the job, stage, worker and correlation ids
// carried by services contexts. Tee fans a record out to several handlers,
// which is how a job's lines reach both the daemon log and the job's own file.
package logging
