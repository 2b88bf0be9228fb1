package ailink

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum spacing between outbound calls across every
// endpoint. It is a one-token bucket refilled every minSpacing.
type RateLimiter struct {
	limiter *rate.Limiter
	spacing time.Duration

	// Clock and Sleep are injectable for tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter builds a limiter; minSpacing <= 0 disables waiting.
func NewRateLimiter(minSpacing time.Duration) *RateLimiter {
	limit := rate.Inf
	if minSpacing > 0 {
		limit = rate.Every(minSpacing)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, 1),
		spacing: minSpacing,
		Clock:   time.Now,
		Sleep:   sleepContext,
	}
}

// MinSpacing returns the configured spacing.
func (r *RateLimiter) MinSpacing() time.Duration {
	if r == nil {
		return 0
	}
	return r.spacing
}

// WaitIfNeeded blocks until minSpacing has elapsed since the previous call and
// records this call. A context that ends first, or whose deadline falls before
// the slot, aborts the wait and releases the slot.
func (r *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.limiter == nil {
		return nil
	}

	now := r.Clock()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return errors.New("rate limiter cannot grant a slot")
	}

	delay := res.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	if deadline, ok := ctx.Deadline(); ok && now.Add(delay).After(deadline) {
		res.CancelAt(now)
		return context.DeadlineExceeded
	}

	if err := r.Sleep(ctx, delay); err != nil {
		res.CancelAt(r.Clock())
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
