// Package storage owns the SQLite database shared by the job store, ledger,
// artifact cache backend and knowledge store: connection pragmas, the embedded
// schema with its version guard, busy-retry helpers and column codecs.
package storage
