package catalog

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

const (
	maxRetries        = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
)

var defaultRetry = retryPolicy{attempts: maxRetries, initialDelay: initialRetryDelay}

type retryPolicy struct {
	attempts     int
	initialDelay time.Duration
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// transient marks err as worth another attempt.
func transient(err error) error { return transientError{err: err} }

// do runs fn until it succeeds, fails permanently or runs out of attempts.
func (p retryPolicy) do(ctx context.Context, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) error {
	attempts := max(p.attempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		var te transientError
		if err == nil || !errors.As(err, &te) {
			return err
		}
		lastErr = te.err
		if attempt == attempts {
			break
		}

		delay := p.backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoff is exponential with jitter, capped at maxRetryDelay.
func (p retryPolicy) backoff(attempt int) time.Duration {
	backoff := float64(p.initialDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxRetryDelay) {
		backoff = float64(maxRetryDelay)
	}
	jitter := (rand.Float64() - 0.5) * backoff
	return time.Duration(backoff + jitter)
}
