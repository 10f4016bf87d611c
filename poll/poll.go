// Package poll implements IVXP's polling engine: exponential backoff with
// jitter and cooperative cancellation driving an arbitrary predicate until
// it reports a result or the attempt budget is exhausted.
package poll

import (
	"context"
	"math/rand"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
)

// Result is what a predicate returns each attempt: either Done is true and
// Value holds the resolved result, or Done is false and polling continues.
type Result[T any] struct {
	Done  bool
	Value T
}

// Continue is the zero-value "keep polling" result for predicate authors.
func Continue[T any]() Result[T] {
	return Result[T]{Done: false}
}

// Options configures the backoff schedule and attempt budget.
type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       float64
}

// DefaultOptions is the polling engine's schedule: 1s initial delay, 30s
// cap, 20 attempts, ±20% jitter. The SSE reconnect loop uses the same
// delays and jitter, with its own retry budget in place of MaxAttempts.
func DefaultOptions() Options {
	return Options{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  20,
		Jitter:       0.2,
	}
}

// Delay computes the backoff delay for attempt k (0-indexed), before jitter:
// min(initialDelay * 2^k, maxDelay).
func Delay(opts Options, k int) time.Duration {
	delay := opts.InitialDelay
	for i := 0; i < k; i++ {
		delay *= 2
		if delay >= opts.MaxDelay {
			return opts.MaxDelay
		}
	}
	if delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	return delay
}

// jitter perturbs delay by up to ±opts.Jitter fraction, clamped to
// opts.InitialDelay as a floor so jitter never produces a non-positive sleep.
func jitter(opts Options, delay time.Duration) time.Duration {
	if opts.Jitter <= 0 {
		return delay
	}
	spread := float64(delay) * opts.Jitter
	offset := (rand.Float64()*2 - 1) * spread
	jittered := time.Duration(float64(delay) + offset)
	if jittered < opts.InitialDelay {
		return opts.InitialDelay
	}
	return jittered
}

// Poll repeatedly calls predicate until it reports Done, ctx is cancelled,
// or opts.MaxAttempts is exceeded. Cancellation is checked before every
// sleep and before every predicate invocation.
func Poll[T any](ctx context.Context, opts Options, predicate func(ctx context.Context, attempt int) (Result[T], error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		if attempt >= opts.MaxAttempts {
			return zero, ivxp.New(ivxp.ErrMaxPollAttempts, "exceeded maximum poll attempts").
				WithDetails(map[string]interface{}{"maxAttempts": opts.MaxAttempts})
		}
		if err := ctx.Err(); err != nil {
			return zero, ivxp.Wrap(ivxp.ErrCancelled, "polling cancelled", err)
		}

		result, err := predicate(ctx, attempt)
		if err != nil {
			return zero, err
		}
		if result.Done {
			return result.Value, nil
		}

		delay := jitter(opts, Delay(opts, attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ivxp.Wrap(ivxp.ErrCancelled, "polling cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}
