package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

const maxBackoff = 60 * time.Second

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry executes fn with exponential backoff and full jitter. delay is the initial
// backoff and doubles after each failed attempt, capped at one minute.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}
	meter := otel.Meter("termguard")
	attemptCounter, _ := meter.Int64Counter("termguard_resilience_retry_attempts_total")
	failCounter, _ := meter.Int64Counter("termguard_resilience_retry_fail_total")
	cur := delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn(ctx)
		attemptCounter.Add(ctx, 1)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			failCounter.Add(ctx, 1)
			return zero, perm.err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > maxBackoff {
			cur = maxBackoff
		}
		var sleep time.Duration
		if cur > 0 {
			sleep = time.Duration(rand.Int63n(int64(cur) + 1))
		}
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}
