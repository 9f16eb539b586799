package delivery

import "time"

// DefaultBackoffBase is the delay before the second attempt; each
// further attempt doubles it.
const DefaultBackoffBase = 2 * time.Second

// DefaultMaxAttempts caps how many times one job is tried.
const DefaultMaxAttempts = 3

// BackoffDelay returns the wait before the attempt following
// attemptCount failed ones: base, 2*base, 4*base, ...
func BackoffDelay(attemptCount int, base time.Duration) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	return base << (attemptCount - 1)
}
