package worker

import (
	"math/rand"
	"time"
)

// retryLadder is the fixed ladder of retry intervals indexed by attempt
// number. Attempts beyond the ladder clamp to the last tier.
var retryLadder = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	3 * time.Hour,
	6 * time.Hour,
}

const backoffJitter = 0.2

// RetryDelay returns the wait before retry number attempt (1-based), with
// ±20% random jitter so many entries failing together do not retry as one
// synchronized storm.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(retryLadder) {
		idx = len(retryLadder) - 1
	}

	base := retryLadder[idx]
	jitter := 1 - backoffJitter + 2*backoffJitter*rand.Float64()
	return time.Duration(float64(base) * jitter)
}

// BaseRetryDelay returns the unjittered ladder tier, for tests and display.
func BaseRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(retryLadder) {
		idx = len(retryLadder) - 1
	}
	return retryLadder[idx]
}
