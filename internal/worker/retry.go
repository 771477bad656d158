package worker

import (
	"math/rand/v2"
	"time"

	"rollcall/internal/models"
)

// RetryPolicy picks a jittered delay uniformly from [MinDelay, MaxDelay).
// The window does not grow with consecutive failures.
type RetryPolicy struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// NextDelay returns the wait before the next attempt.
func (r RetryPolicy) NextDelay() time.Duration {
	minDelay, maxDelay := r.MinDelay, r.MaxDelay
	if minDelay <= 0 {
		minDelay = models.DefaultBackoffMin
	}
	if maxDelay <= 0 {
		maxDelay = models.DefaultBackoffMax
	}
	if maxDelay <= minDelay {
		return minDelay
	}

	rnd := r.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	f := rnd()
	if f < 0 || f >= 1 {
		f = 0
	}

	d := minDelay + time.Duration(f*float64(maxDelay-minDelay))
	if d >= maxDelay {
		d = maxDelay - 1
	}
	return d
}
