// Package cache is the content-addressed artifact store in front of every
// capability call.
//
// A work unit (capability plus normalized input) is addressed by its
// Fingerprint. Cache keeps an in-memory LRU index over a Backend (SQLite in
// the daemon, memory in tests), expires entries by per-capability TTL, evicts
// least recently used entries once the byte budget is exceeded, and hands out
// single-flight reservations so at most one execution per fingerprint is live.
// Backend failures are logged and degrade to a miss; caching never fails a
// job.
package cache
