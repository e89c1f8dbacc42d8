// Package retry implements the backoff controller and the resilient
// invoker that wraps every call to the language-model service.
package retry

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth capped at MaxDelay,
// with full jitter applied to each delay.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	rng         func() float64 // uniform [0,1); nil means math/rand
}

// NewBackoff builds a controller. rng is for tests; nil uses math/rand.
func NewBackoff(base, max time.Duration, maxAttempts int, rng func() float64) Backoff {
	if rng == nil {
		rng = rand.Float64
	}
	return Backoff{BaseDelay: base, MaxDelay: max, MaxAttempts: maxAttempts, rng: rng}
}

// Ceiling returns the maximal possible delay for attempt (0-based):
// min(MaxDelay, BaseDelay * 2^attempt). Non-decreasing in attempt.
func (b Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.MaxDelay || d <= 0 { // overflow guard
			return b.MaxDelay
		}
	}
	if d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Delay returns the jittered delay for attempt: uniform(0, Ceiling(attempt)).
func (b Backoff) Delay(attempt int) time.Duration {
	c := b.Ceiling(attempt)
	if c <= 0 {
		return 0
	}
	return time.Duration(b.rng() * float64(c))
}

// Exhausted reports whether attempt (0-based) has used up the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
