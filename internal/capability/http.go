package capability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClassifyHTTP maps a non-2xx response onto an outcome: 402 and 429 are
// quota, 408 and 5xx are transient, everything else is fatal.
func ClassifyHTTP(status int, retryAfterHeader string, body []byte) error {
	retryAfter, _ := ParseRetryAfter(retryAfterHeader)
	perr := &ProviderError{
		StatusCode: status,
		RetryAfter: retryAfter,
		Message:    snippet(string(body)),
	}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusPaymentRequired:
		perr.Outcome = OutcomeQuota
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		perr.Outcome = OutcomeTransient
	default:
		perr.Outcome = OutcomeFatal
	}
	return perr
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
