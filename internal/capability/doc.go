// Package capability routes abstract capability calls ("deep-reasoning",
// "source.papers", "media.render") to ranked, interchangeable providers.
//
// Registry holds the provider catalogue, the priority order per capability,
// and the mutable health of each provider: quota window, exhausted-until time,
// and a consecutive-failure circuit breaker. Executor consults the artifact
// cache, takes a single-flight reservation, then walks the provider list:
// transient failures retry with exponential backoff, quota failures mark the
// provider exhausted and move on, fatal failures abort. When nothing
// succeeds the caller gets an *ExhaustedError naming every provider tried.
package capability
