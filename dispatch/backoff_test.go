package dispatch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWithRand_NoJitterIsExactPowers(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2.0}

	assert.Equal(t, time.Second, backoffWithRand(p, 1, 0))
	assert.Equal(t, 2*time.Second, backoffWithRand(p, 2, 0))
	assert.Equal(t, 4*time.Second, backoffWithRand(p, 3, 0))
	assert.Equal(t, 8*time.Second, backoffWithRand(p, 4, 0))
}

func TestBackoffWithRand_JitterBounds(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2.0, Jitter: true}

	low := backoffWithRand(p, 1, 0)
	high := backoffWithRand(p, 1, 0.999999)

	assert.Equal(t, time.Second, low, "zero rand keeps the base delay")
	assert.Less(t, high, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, high, low)
}

func TestBackoffWithRand_CapsAtMaxDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2.0, Jitter: true}

	assert.Equal(t, 30*time.Second, backoffWithRand(p, 20, 0.999999))
	assert.Equal(t, 30*time.Second, backoffWithRand(p, 20, 0))
}

func TestBackoffWithRand_SchedulesAreNonDecreasing(t *testing.T) {
	p := DefaultRetryPolicy()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 100; run++ {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 8; attempt++ {
			d := backoffWithRand(p, attempt, rng.Float64())
			assert.GreaterOrEqual(t, d, prev, "run %d attempt %d", run, attempt)
			prev = d
		}
	}
}

func TestBackoffWithRand_AttemptFloor(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Factor: 2.0}
	assert.Equal(t, backoffWithRand(p, 1, 0), backoffWithRand(p, 0, 0))
}
