// Package resilience provides the timeout, retry and fallback wrappers applied
// to every external call in the pipeline. Wrappers compose by nesting; the
// typical stacking is timeout outside retry outside the raw operation.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// Op is any cancellable operation producing a value.
type Op[T any] func(ctx context.Context) (T, error)

// WithTimeout races op against a deadline. On expiry the derived context is
// cancelled and the caller gets a *TimeoutError carrying the operation name
// and the configured limit. Any other failure propagates unchanged.
func WithTimeout[T any](op Op[T], limit time.Duration, name string) Op[T] {
	return func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		type result struct {
			val T
			err error
		}
		done := make(chan result, 1)
		go func() {
			v, err := op(ctx)
			done <- result{v, err}
		}()

		var zero T
		select {
		case r := <-done:
			if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
				return zero, &TimeoutError{Operation: name, Limit: limit}
			}
			return r.val, r.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				slog.Error("operation timed out", "operation", name, "limit", limit)
				return zero, &TimeoutError{Operation: name, Limit: limit}
			}
			return zero, ctx.Err()
		}
	}
}

// WithRetry re-invokes op on retryable failures with exponential backoff:
// backoffFactor * 2^attempt, attempt 0-indexed. maxRetries counts additional
// attempts beyond the first. Non-retryable failures return immediately.
func WithRetry[T any](op Op[T], maxRetries int, backoffFactor float64, retryable func(error) bool) Op[T] {
	return func(ctx context.Context) (T, error) {
		var lastErr error
		var zero T

		for attempt := 0; attempt <= maxRetries; attempt++ {
			v, err := op(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err

			if !retryable(err) || attempt == maxRetries {
				return zero, lastErr
			}

			wait := time.Duration(backoffFactor * math.Pow(2, float64(attempt)) * float64(time.Second))
			slog.Warn("attempt failed, retrying",
				"attempt", attempt+1, "wait", wait, "error", err)

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}
		return zero, lastErr
	}
}

// WithFallback invokes primary and, on any failure, resolves the call with
// fallback instead. A fallback failure is never swallowed silently: it
// surfaces as *ExternalServiceError carrying the operation name and the
// primary error's message.
func WithFallback[T any](primary, fallback Op[T], name string) Op[T] {
	return func(ctx context.Context) (T, error) {
		v, err := primary(ctx)
		if err == nil {
			return v, nil
		}

		slog.Warn("primary failed, using fallback", "operation", name, "error", err)
		fv, ferr := fallback(ctx)
		if ferr != nil {
			slog.Error("fallback also failed", "operation", name, "error", ferr)
			var zero T
			return zero, &ExternalServiceError{Service: name, Detail: err.Error()}
		}
		return fv, nil
	}
}
