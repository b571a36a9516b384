package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Gate guards outbound calls for one integration key: window admission,
// a concurrency cap and rate-limit retries.
type Gate struct {
	limiter     *Limiter
	retry       RetryPolicy
	concurrency int64
	logger      *slog.Logger

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewGate creates a gate allowing at most concurrency simultaneous calls
// per key. A nil limiter admits every attempt.
func NewGate(limiter *Limiter, retry RetryPolicy, concurrency int64, logger *slog.Logger) *Gate {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Gate{
		limiter:     limiter,
		retry:       retry,
		concurrency: concurrency,
		logger:      logger,
		sems:        make(map[string]*semaphore.Weighted),
	}
}

// Do runs fn for key. Every attempt, retries included, must be admitted by
// the limiter; a full window is a rate-limit-class error that the retry
// policy backs off on like an upstream quota response.
func (g *Gate) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	sem := g.semaphore(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s slot: %w", key, err)
	}
	defer sem.Release(1)

	inFlight.WithLabelValues(key).Inc()
	defer inFlight.WithLabelValues(key).Dec()

	return g.retry.Do(ctx, g.logger, func(ctx context.Context) error {
		if g.limiter == nil {
			return fn(ctx)
		}
		d, err := g.limiter.Allow(ctx, key)
		if err != nil {
			return apperrors.Unavailable("rate limiter unavailable", err)
		}
		if !d.Allowed {
			return apperrors.RateLimited(fmt.Sprintf("local window for %s full until %s",
				key, d.ResetAt.UTC().Format(time.RFC3339)))
		}
		return fn(ctx)
	})
}

func (g *Gate) semaphore(key string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(g.concurrency)
		g.sems[key] = sem
	}
	return sem
}
