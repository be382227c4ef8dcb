package backoff

import (
	"context"
	"time"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
)

type (
	// Operation to retry
	Operation func(ctx context.Context) error

	// IsRetriableFunc defines a function that checks if an error is retriable.
	IsRetriableFunc func(err error) bool
)

// Retry executes op until it succeeds, the policy gives up, the error is not
// retriable or ctx is done. The last operation error is returned.
// If isRetriable is nil, all errors are considered retriable.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(_ error) bool { return true }
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug(ctx, "Operation succeeded after retry", tag.Attempt(attempt+1))
			}
			return nil
		}
		if !isRetriable(err) {
			return err
		}

		interval, perr := policy.ComputeNextInterval(attempt, time.Since(start), err)
		if perr != nil {
			logger.Debug(ctx, "Retry attempts exhausted", tag.Attempt(attempt+1), tag.Error(err))
			return err
		}
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
