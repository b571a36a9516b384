package ratelimit

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// RetryPolicy retries rate-limit-class failures with capped exponential
// backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// JitterFraction bounds the random extra delay as a fraction of the
	// exponential term.
	JitterFraction float64

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 retries at 1s doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.1,
	}
}

// Delay returns the wait before retry i (0-indexed):
// min(base*2^i + jitter, maxDelay).
func (p RetryPolicy) Delay(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	exp := p.BaseDelay
	for n := 0; n < i && exp < p.MaxDelay; n++ {
		exp *= 2
	}
	if p.JitterFraction > 0 && exp > 0 {
		spread := int64(float64(exp) * p.JitterFraction)
		if spread > 0 {
			exp += time.Duration(rand.Int64N(spread + 1)) // #nosec G404 -- non-cryptographic jitter
		}
	}
	if p.MaxDelay > 0 && exp > p.MaxDelay {
		return p.MaxDelay
	}
	return exp
}

// Do runs fn, retrying it while it fails with a rate-limit-class error, at
// most MaxRetries times. Other errors return at once. When retries run out
// the last error is returned.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || !apperrors.IsRateLimited(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		wait := p.Delay(attempt)
		retryAttempts.Inc()
		logger.DebugContext(ctx, "rate limited, backing off",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
