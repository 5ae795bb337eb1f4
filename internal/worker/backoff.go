package worker

import "time"

// backoffCap bounds the delay before an automatic retry
const backoffCap = time.Hour

// Backoff returns the delay applied before the next automatic retry:
// min(2^attempt minutes, 1 hour). attempt is 1-based. Deterministic (no
// jitter) so operator-visible retry times are predictable.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		// 2^6 minutes already exceeds the cap
		return backoffCap
	}
	d := time.Duration(1<<uint(attempt)) * time.Minute
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
