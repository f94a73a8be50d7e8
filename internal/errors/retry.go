package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the first call.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter scales each wait by a random factor in [0.5, 1.0).
	Jitter bool

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns the backoff used for embedding providers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn with exponential backoff.
// If the context is cancelled, it returns the context error immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that return a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
