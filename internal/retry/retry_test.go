package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/ratelimit"
)

func TestCeilingMonotoneUpToMax(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 5*time.Second, 10, nil)
	prev := time.Duration(0)
	for k := 0; k < 20; k++ {
		c := b.Ceiling(k)
		assert.GreaterOrEqual(t, c, prev, "ceiling must be non-decreasing at attempt %d", k)
		assert.LessOrEqual(t, c, 5*time.Second)
		prev = c
	}
	assert.Equal(t, 100*time.Millisecond, b.Ceiling(0))
	assert.Equal(t, 200*time.Millisecond, b.Ceiling(1))
	assert.Equal(t, 5*time.Second, b.Ceiling(10))
}

func TestDelayFullJitterWithinCeiling(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 5, func() float64 { return 0.5 })
	assert.Equal(t, 500*time.Millisecond, b.Delay(0))
	assert.Equal(t, time.Second, b.Delay(1))
}

func TestExhausted(t *testing.T) {
	b := NewBackoff(time.Millisecond, time.Second, 3, nil)
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))
	assert.True(t, b.Exhausted(4))
}

func newTestInvoker(attempts int) *Invoker {
	budget := ratelimit.NewBudget(1000, 1000, nil)
	inv := NewInvoker(budget, NewBackoff(time.Millisecond, 10*time.Millisecond, attempts, nil), time.Second, nil)
	inv.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return inv
}

func TestInvokeSuccessAfterTransientFailures(t *testing.T) {
	inv := newTestInvoker(4)
	trail := entity.NewAttemptTrail()
	calls := 0
	out, err := Invoke(context.Background(), inv, constants.StageDetect, "analyze", trail, nil,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", common.Transient("service timeout", nil)
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)

	attempts := trail.All()
	require.Len(t, attempts, 3)
	assert.Equal(t, constants.OutcomeRetry, attempts[0].Outcome)
	assert.Equal(t, constants.OutcomeRetry, attempts[1].Outcome)
	assert.Equal(t, constants.OutcomeSuccess, attempts[2].Outcome)
}

func TestInvokeNonRetryableFailsImmediately(t *testing.T) {
	inv := newTestInvoker(5)
	trail := entity.NewAttemptTrail()
	calls := 0
	_, err := Invoke(context.Background(), inv, constants.StageDetect, "analyze", trail, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, common.NewAppError(common.KindAuth, "bad api key", nil)
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth failures must not consume a backoff cycle")
	assert.Equal(t, common.KindAuth, common.KindOf(err))

	attempts := trail.All()
	require.Len(t, attempts, 1)
	assert.Equal(t, constants.OutcomeFatal, attempts[0].Outcome)
	assert.Equal(t, string(common.KindAuth), attempts[0].ErrorKind)
}

func TestInvokeExhaustionIsFatal(t *testing.T) {
	inv := newTestInvoker(3)
	trail := entity.NewAttemptTrail()
	calls := 0
	_, err := Invoke(context.Background(), inv, constants.StageDetect, "analyze", trail, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, common.Transient("still down", nil)
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, common.KindTransient, common.KindOf(err))

	attempts := trail.All()
	require.Len(t, attempts, 3)
	assert.Equal(t, constants.OutcomeFatal, attempts[len(attempts)-1].Outcome)
}

func TestInvokeCancellationPropagates(t *testing.T) {
	inv := newTestInvoker(5)
	trail := entity.NewAttemptTrail()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Invoke(ctx, inv, constants.StageDetect, "analyze", trail, nil,
		func(ctx context.Context) (int, error) {
			cancel() // cancelled mid-flight; the backoff wait must abort
			return 0, common.Transient("timeout", nil)
		})
	require.Error(t, err)
	assert.Equal(t, common.KindCancelled, common.KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.GreaterOrEqual(t, trail.Len(), 1, "partial trail preserved on cancellation")
}

func TestInvokeCustomClassifier(t *testing.T) {
	inv := newTestInvoker(4)
	trail := entity.NewAttemptTrail()
	boom := errors.New("boom 503")
	calls := 0
	_, err := Invoke(context.Background(), inv, constants.StageDetect, "analyze", trail,
		func(err error) common.ErrorKind { return common.KindTransient },
		func(ctx context.Context) (int, error) {
			calls++
			if calls == 2 {
				return 42, nil
			}
			return 0, boom
		})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
