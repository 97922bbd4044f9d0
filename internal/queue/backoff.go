package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before attempt n+1 given a 1-indexed
// attempt count n (the number of attempts already made) and a policy.
// n must be >= 1.
//
// Exponential: delay = base * 2^(n-1), so Backoff(n+1) = 2*Backoff(n)
// when uncapped, matching spec.md §8's monotonicity invariant.
// Linear: delay = base * n.
// Fixed: delay = base.
//
// The result is capped at policy.Max when Max > 0, then jittered by a
// random factor in [0, JitterFactor*delay) when JitterFactor > 0.
func Backoff(policy BackoffPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay float64
	switch policy.Kind {
	case BackoffLinear:
		delay = float64(policy.Base) * float64(attempt)
	case BackoffFixed:
		delay = float64(policy.Base)
	default: // BackoffExponential
		delay = float64(policy.Base) * math.Pow(2, float64(attempt-1))
	}
	if policy.Max > 0 && delay > float64(policy.Max) {
		delay = float64(policy.Max)
	}
	if policy.JitterFactor > 0 {
		delay += rand.Float64() * policy.JitterFactor * delay
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
