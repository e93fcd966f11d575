package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds re-dispatch of transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of dispatch attempts, first try
	// included. Values below 1 behave like 1.
	MaxAttempts int

	// InitialDelay seeds the exponential schedule; Factor multiplies it per
	// attempt and MaxDelay caps the result.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Jitter stretches each delay by a random factor in [1.0, 1.5). The
	// stretch is bounded below by 1.0 so consecutive delays stay
	// non-decreasing for growth factors of 1.5 and above.
	Jitter bool
}

// DefaultRetryPolicy returns the stock schedule: three attempts starting at
// one second, doubling to a 30 second cap, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Backoff returns the delay to sleep before retry attempt (1-based counting
// of completed attempts).
func Backoff(p RetryPolicy, attempt int) time.Duration {
	return backoffWithRand(p, attempt, rand.Float64())
}

// backoffWithRand computes the retry delay from an explicit random value in
// [0, 1), making schedules reproducible in tests.
func backoffWithRand(p RetryPolicy, attempt int, randVal float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.Jitter {
		delay *= 1.0 + 0.5*randVal
	}
	if maxDelay := float64(p.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay)
}
