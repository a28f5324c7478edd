// Package api serves the read-only reporting API and defines its wire
// types.
//
// Routes (gorilla/mux):
//
//	GET /health                 workflow state and stage readiness
//	GET /v1/jobs                jobs, newest first (?status=, ?limit=, ?archived=1)
//	GET /v1/jobs/{id}           one job with stage results and provenance
//	GET /v1/jobs/{id}/ledger    the job's ledger records
//	GET /v1/ledger              ledger query (?job=, ?kind=, ?stage=, ?provider=, ?since=, ?until=, ?limit=)
//	GET /v1/providers           provider health and capability bindings
//	GET /v1/cache               artifact cache counters
//
// DTOs use camelCase JSON tags; timestamps are RFC3339 with milliseconds.
// Stage payloads and ledger details pass through as raw JSON. When a token
// is configured every request must carry "Authorization: Bearer <token>".
package api
