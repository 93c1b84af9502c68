// Package resilience provides retry with backoff, transient-error
// classification and the dead letter queue entry type.
package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig describes how many times to try an operation and how long to
// wait between tries. The wait starts at InitialBackoff and is multiplied by
// Multiplier after every failure, never exceeding MaxBackoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each backoff sleep with the 1-based number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error)
}

// ConstantBackoff waits the same delay between every attempt and retries
// any error. The session controller uses it for whole-crawl restarts.
func ConstantBackoff(maxAttempts int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: delay,
		MaxBackoff:     delay,
		Multiplier:     1,
		ShouldRetry:    func(error) bool { return true },
	}
}

// ExponentialBackoff doubles the delay from initial up to limit.
func ExponentialBackoff(maxAttempts int, initial, limit time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: initial,
		MaxBackoff:     limit,
		Multiplier:     2,
	}
}

// Delay returns the wait after the given zero-based failed attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.InitialBackoff
	if d <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		next := time.Duration(float64(d) * mult)
		if next < d || (c.MaxBackoff > 0 && next >= c.MaxBackoff) {
			d = c.MaxBackoff
			break
		}
		d = next
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// DoVal calls fn until it succeeds, returns an error ShouldRetry rejects,
// runs out of attempts, or ctx is done. On failure it returns the zero value
// and the last error fn produced.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var (
		zero T
		err  error
	)
	for n := 0; n < attempts; n++ {
		var val T
		if val, err = fn(ctx); err == nil {
			return val, nil
		}
		if n == attempts-1 || ctx.Err() != nil || !retryable(err) {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(n+1, err)
		}
		if !wait(ctx, cfg.Delay(n)) {
			break
		}
	}
	return zero, err
}

// wait sleeps for d and reports false if ctx ended first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
