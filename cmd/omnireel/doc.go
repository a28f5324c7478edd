// Package main hosts the omnireel CLI entrypoint and command graph.
//
// Commands work against the shared SQLite database directly, so submitting,
// resuming and cancelling jobs does not require a running daemon. The
// daemon picks up changes at its next poll. Live views (worker activity,
// provider health) come from the daemon's reporting API when it is enabled.
package main
