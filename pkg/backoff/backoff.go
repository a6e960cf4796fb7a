// Package backoff provides exponential backoff and a context-aware retry loop.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // fraction of each delay randomized, 0..1 (default: none)
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	jitter := 0.0
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		jitter = min(max(cfg.Jitter, 0), 1)
	}

	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	if jitter > 0 {
		// Spread within [d*(1-jitter), d].
		d -= d * jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds a Retry loop.
type Policy struct {
	Config
	MaxAttempts int              // total calls including the first; <= 0 means 1
	Retryable   func(error) bool // nil retries every error
}

// Retry calls fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts, or ctx is done. It returns fn's last error.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if sleepErr := Sleep(ctx, Exponential(attempt, &p.Config)); sleepErr != nil {
			return err
		}
	}
	return err
}
