// Package workflow advances jobs through the stage pipeline.
//
// The Manager runs a pool of workers. Each worker atomically claims the oldest
// runnable job (pending, or blocked with an elapsed resume time), re-enters it
// at the first stage without a recorded result and runs stages through the
// stage runner until the job completes, blocks or fails. Heartbeats keep
// claimed jobs alive and carry operator cancel requests; a maintenance loop
// reclaims jobs whose worker died and archives old terminal jobs.
//
// Every transition, completed stage and provider attempt is appended to the
// ledger. Job outcomes are published through the notifications service.
package workflow
