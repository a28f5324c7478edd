// Package config loads, normalizes, and validates omnireel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OMNIREEL_<PROVIDER>_API_KEY. The Config type centralizes every knob the
// daemon and CLI need: data directories, worker and retry timing, cache
// budgets, the provider catalogue and its per-capability priority lists, and
// the humanization bounds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, parsed durations, and clear validation errors.
package config
