// Package ledger is the append-only history of job transitions, stage
// provenance and provider outcomes.
//
// Records are never updated or deleted; the schema rejects both with
// triggers. A correction is a new record of kind KindCorrection that refers to
// the record it amends through its detail payload.
package ledger
