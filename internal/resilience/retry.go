package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the retry wrapper.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first try.
	// Default: 3.
	MaxAttempts int

	// Delay is the base delay before the first retry. Default: 1s.
	Delay time.Duration

	// Backoff multiplies the delay after each attempt. Default: 2.0.
	Backoff float64

	// MaxDelay caps the computed delay. Default: 60s.
	MaxDelay time.Duration

	// JitterFraction adds random jitter as a fraction of the computed
	// delay. Default: 0.25.
	JitterFraction float64

	// ShouldRetry overrides the default IsRetryable check when set.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig matches the collection retry policy: 3 attempts,
// 1 second base delay, factor 2 backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		Delay:          time.Second,
		Backoff:        2.0,
		MaxDelay:       60 * time.Second,
		JitterFraction: 0.25,
	}
}

// Do runs fn under cfg, retrying only retryable errors. Context
// cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal runs fn returning a value under cfg. Same semantics as Do but
// preserves the value from the successful attempt.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(computeDelay(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.Delay) * math.Pow(cfg.Backoff, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each attempt.
func RetryLogger(source, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("source", source),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
