package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry. Zero retries immediately.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool

	// OnRetry is called after each failed attempt that will be retried.
	// attempt is 1-based.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// AttemptsConfig returns a config that makes exactly attempts calls in total
// with no delay between them.
func AttemptsConfig(attempts int) RetryConfig {
	if attempts < 1 {
		attempts = 1
	}
	return RetryConfig{MaxRetries: attempts - 1, Multiplier: 1}
}

// Retry executes a function with exponential backoff retry logic.
// If the context is cancelled, it returns the context error immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function that returns a value with retry logic.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		if delay > 0 {
			waitDelay := delay
			if cfg.Jitter {
				// delay * (0.5 + rand(0, 0.5))
				waitDelay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
			}

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(waitDelay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
