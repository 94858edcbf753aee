package ci

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuth means the provider returned 401/403.
var ErrAuth = errors.New("ci: authentication failed")

// ErrNetwork means a transport-level failure, or repeated 5xx after
// exhausting the backoff policy.
var ErrNetwork = errors.New("ci: network error")

// RateLimitedError wraps a 429 (or provider-specific) rate-limit signal,
// carrying the provider's requested retry-after delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ci: rate limited, retry after %s", e.RetryAfter)
}

// UnknownStatusError wraps a 4xx response other than 401/403/429; when a
// job-log fetch fails with it, the orchestrator surfaces it as an Unknown
// issue (severity Medium) for that run.
type UnknownStatusError struct {
	StatusCode int
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("ci: unexpected status %d", e.StatusCode)
}
