package executor

import (
	"context"
	"time"

	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

// RetryPolicy bounds how often a failing download is attempted
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: utils.DefaultMaxAttempts,
		BaseDelay:   time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}
}

// Delay returns the wait after the failed attempt (counting from 1), as
// api.Backoff computes it from BaseDelay and MaxDelay
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
	}
	return api.Backoff(p.BaseDelay, maxDelay, attempt-1, err)
}

// Do calls fn until it succeeds, returns an error utils.IsRetryable
// rejects, or MaxAttempts is reached. It returns the number of attempts
// made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}
		err = fn(attempt)
		if err == nil || !utils.IsRetryable(err) || attempt == limit {
			return attempt, err
		}
		timer := time.NewTimer(p.Delay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return limit, err
}
