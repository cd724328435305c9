package dispatch

import (
	"math/rand"
	"time"
)

// retryDelay computes the wait before retry attempt n (1-based):
// exponential doubling from the base delay, capped, with ±20% jitter so
// groups that failed together do not retry in lockstep.
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}

	jitter := time.Duration(rand.Int63n(int64(delay)*2/5+1)) - delay/5
	return delay + jitter
}
