package resolve

import (
	"context"
	"time"
)

// RetryPolicy bounds the eventual-consistency polling of the task listing.
// The schedule is exponential from BaseDelay, capped at MaxDelay. Sleep is a
// seam: tests inject a no-op to run the full budget without waiting.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error

	// OnRetry, when set, observes every wait taken before another listing
	// attempt. The runner binds it to the retry counter.
	OnRetry func(ctx context.Context, attempt int)
}

// DefaultRetryPolicy covers a task moving PROVISIONING→RUNNING on a warm
// cluster without stretching a hopeless wait past half a minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the pause that follows the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Wait blocks for the post-attempt delay, honoring cancellation.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	if p.OnRetry != nil {
		p.OnRetry(ctx, attempt)
	}
	d := p.Delay(attempt)
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
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
