package capability

import "time"

// breaker opens after maxFailures consecutive failures and stays open for
// cooldown. Callers hold the registry lock.
type breaker struct {
	maxFailures int
	cooldown    time.Duration
	failures    int
	openUntil   time.Time
}

func (b *breaker) allow(now time.Time) bool {
	return b.openUntil.IsZero() || !now.Before(b.openUntil)
}

// failure records a failure and reports whether the breaker just opened.
func (b *breaker) failure(now time.Time) bool {
	if b.maxFailures <= 0 {
		return false
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.openUntil = now.Add(b.cooldown)
		b.failures = 0
		return true
	}
	return false
}

func (b *breaker) success() {
	b.failures = 0
	b.openUntil = time.Time{}
}
