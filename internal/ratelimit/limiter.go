package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// WindowStore counts admissions per key in fixed windows.
type WindowStore interface {
	// Take admits one request for key when fewer than limit were admitted
	// in the current window, starting a new window of length window when
	// the previous one has expired at now.
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// Config holds the per-key admission limits.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultConfig returns the eTIMS quota of 50 requests per minute.
func DefaultConfig() Config {
	return Config{MaxRequests: 50, Window: time.Minute}
}

// Limiter admits at most MaxRequests per Window per key. Rejections never
// reach the network.
type Limiter struct {
	cfg    Config
	store  WindowStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter over store.
func NewLimiter(cfg Config, store WindowStore, logger *slog.Logger) *Limiter {
	return &Limiter{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// WithClock overrides the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether a request for key may proceed now. A store failure
// is returned with allowed=false.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := l.store.Take(ctx, key, l.cfg.MaxRequests, l.cfg.Window, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if !d.Allowed {
		limiterRejections.WithLabelValues(key).Inc()
		l.logger.Debug("rate limit window full",
			slog.String("key", key),
			slog.Int("count", d.Count),
			slog.Time("reset_at", d.ResetAt),
		)
	}
	return d, nil
}
