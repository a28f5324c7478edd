// Package preflight provides readiness checks for the filesystem paths and
// provider endpoints omnireel depends on.
//
// The daemon runs RunAll before starting workers and refuses to start when a
// directory check fails. The CLI "omnireel preflight" command prints every
// result and, with --network, also probes provider endpoints.
package preflight
