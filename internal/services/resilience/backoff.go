package resilience

import "time"

// Backoff returns the delay before retry attempt n (1-based):
// min(maxDelay, base * 2^(n-1)). Attempts below 1 are treated as the first.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
