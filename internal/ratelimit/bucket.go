// Package ratelimit provides token-bucket admission control for calls to
// the language-model service. One Budget is shared by every pipeline
// instance in a batch; it is an injected handle, never a package singleton.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finreports/stmtsplit/internal/common"
)

// Budget is a token bucket: capacity tokens, refilled continuously at
// refill tokens/second, capped at capacity. Safe for concurrent use.
type Budget struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens per second
	last     time.Time
	clk      func() time.Time
}

// NewBudget builds a full bucket. clk is for tests; nil means time.Now.
func NewBudget(capacity, refillPerSec float64, clk func() time.Time) *Budget {
	if clk == nil {
		clk = time.Now
	}
	return &Budget{
		tokens:   capacity,
		capacity: capacity,
		refill:   refillPerSec,
		last:     clk(),
		clk:      clk,
	}
}

// refillLocked advances the bucket to now. Clock regression is treated as
// no elapsed time.
func (b *Budget) refillLocked(now time.Time) {
	if now.Before(b.last) {
		return
	}
	dt := now.Sub(b.last).Seconds()
	if dt <= 0 {
		return
	}
	b.tokens += dt * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// TryAcquire refills from elapsed time, then either deducts n tokens and
// returns (true, 0), or returns (false, wait) where wait is the time until
// enough tokens will exist.
func (b *Budget) TryAcquire(n float64) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clk())
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	missing := n - b.tokens
	wait := time.Hour // zero refill never recovers; report a long wait
	if b.refill > 0 {
		wait = time.Duration(missing / b.refill * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
	}
	return false, wait
}

// Acquire blocks cooperatively until n tokens are available, the timeout
// elapses, or ctx is cancelled. The wait estimate never shortcuts the
// timeout: each sleep is capped at the time remaining to the deadline, and
// RateLimitTimeout is reported only once the deadline has actually passed,
// so a cancellation arriving anywhere in the window is observed. No lock is
// held while waiting. timeout <= 0 means wait until cancelled.
func (b *Budget) Acquire(ctx context.Context, n float64, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = b.clk().Add(timeout)
	}
	for {
		ok, wait := b.TryAcquire(n)
		if ok {
			return nil
		}
		if !deadline.IsZero() {
			remaining := deadline.Sub(b.clk())
			if remaining <= 0 {
				return common.NewAppError(common.KindRateLimitTimeout,
					fmt.Sprintf("no admission within %s", timeout), nil)
			}
			if wait > remaining {
				wait = remaining
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return common.NewAppError(common.KindCancelled, "admission wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}

// Tokens returns the current level after refill. Diagnostic only.
func (b *Budget) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clk())
	return b.tokens
}

// Capacity returns the configured bucket capacity.
func (b *Budget) Capacity() float64 {
	return b.capacity
}
