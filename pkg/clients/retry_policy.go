package clients

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries with linear backoff: the n-th retry waits n*Step.
type RetryPolicy struct {
	MaxRetries int
	Step       time.Duration

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a linear retry policy.
func NewRetryPolicy(maxRetries int, step time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryPolicy{
		MaxRetries: maxRetries,
		Step:       step,
		sleep:      sleepContext,
	}
}

// Delay returns the wait before retry number n (1-based).
func (rp *RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return rp.Step * time.Duration(n)
}

// ExecuteWithCondition runs fn, retrying while shouldRetry reports true and
// retries remain. fn receives the 1-based attempt number. The last error is
// returned unchanged when retries are exhausted or not allowed.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func(attempt int) error, shouldRetry func(error) bool) (attempts int, err error) {
	for attempt := 1; ; attempt++ {
		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if !shouldRetry(err) || attempt > rp.MaxRetries {
			return attempt, err
		}
		if serr := rp.sleep(ctx, rp.Delay(attempt)); serr != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
