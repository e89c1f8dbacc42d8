package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/finreports/stmtsplit/constants"
	"github.com/finreports/stmtsplit/internal/common"
	"github.com/finreports/stmtsplit/internal/entity"
	"github.com/finreports/stmtsplit/internal/ratelimit"
)

// Classifier maps an operation error to an ErrorKind. The default uses
// common.KindOf.
type Classifier func(error) common.ErrorKind

// Invoker wraps external calls with rate-limit admission and classified
// retry. Every attempt is appended to the document's trail regardless of
// outcome; that is the audit contract.
type Invoker struct {
	budget         *ratelimit.Budget
	backoff        Backoff
	acquireTimeout time.Duration
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewInvoker builds an invoker sharing the given budget.
func NewInvoker(budget *ratelimit.Budget, backoff Backoff, acquireTimeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		budget:         budget,
		backoff:        backoff,
		acquireTimeout: acquireTimeout,
		logger:         logger,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoke runs fn with admission control and backoff. op names the external
// operation for the audit trail; classify may be nil. On exhaustion or a
// non-retryable kind the last error is returned wrapped with its kind.
func Invoke[T any](ctx context.Context, inv *Invoker, stage constants.Stage, op string,
	trail *entity.AttemptTrail, classify Classifier, fn func(context.Context) (T, error)) (T, error) {

	var zero T
	if classify == nil {
		classify = common.KindOf
	}

	for attempt := 0; ; attempt++ {
		if err := inv.budget.Acquire(ctx, 1, inv.acquireTimeout); err != nil {
			kind := common.KindOf(err)
			trail.Append(entity.ProcessingAttempt{
				Stage: stage, Operation: op, Attempt: attempt,
				Outcome: constants.OutcomeFatal, ErrorKind: string(kind), Detail: err.Error(),
			})
			inv.logger.Error("invoke.admission_failed", "op", op, "attempt", attempt, "error", err)
			return zero, err
		}

		out, err := fn(ctx)
		if err == nil {
			trail.Append(entity.ProcessingAttempt{
				Stage: stage, Operation: op, Attempt: attempt, Outcome: constants.OutcomeSuccess,
			})
			return out, nil
		}

		kind := classify(err)
		if !kind.Retryable() || inv.backoff.Exhausted(attempt+1) {
			trail.Append(entity.ProcessingAttempt{
				Stage: stage, Operation: op, Attempt: attempt,
				Outcome: constants.OutcomeFatal, ErrorKind: string(kind), Detail: err.Error(),
			})
			inv.logger.Error("invoke.fatal",
				"op", op, "attempt", attempt, "kind", string(kind), "error", err)
			return zero, common.NewAppError(kind, op+" failed", err)
		}

		delay := inv.backoff.Delay(attempt)
		trail.Append(entity.ProcessingAttempt{
			Stage: stage, Operation: op, Attempt: attempt,
			Outcome: constants.OutcomeRetry, ErrorKind: string(kind), Detail: err.Error(),
		})
		inv.logger.Warn("invoke.retry",
			"op", op, "attempt", attempt, "kind", string(kind),
			"delay_ms", delay.Milliseconds(), "error", err)

		if serr := inv.sleep(ctx, delay); serr != nil {
			trail.Append(entity.ProcessingAttempt{
				Stage: stage, Operation: op, Attempt: attempt + 1,
				Outcome: constants.OutcomeFatal, ErrorKind: string(common.KindCancelled), Detail: serr.Error(),
			})
			return zero, common.NewAppError(common.KindCancelled, "backoff wait cancelled", serr)
		}
	}
}
