// Package poll runs an attempt function until it reports done, re-arming a
// timer from a backoff policy between attempts. A Task stops issuing attempts
// as soon as its context ends.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Func performs one attempt. Returning done=false with a nil error means "not ready yet".
type Func[T any] func(ctx context.Context, attempt int) (value T, done bool, err error)

type Task[T any] struct {
	fn          Func[T]
	backoff     backoff.BackOff
	maxAttempts int
}

// New creates a task. maxAttempts <= 0 leaves only the backoff and the context to stop it.
func New[T any](fn Func[T], b backoff.BackOff, maxAttempts int) *Task[T] {
	return &Task[T]{fn: fn, backoff: b, maxAttempts: maxAttempts}
}

// Constant polls at a fixed interval
func Constant(interval time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(interval)
}

// Exponential grows from initial to max, with jitter
func Exponential(initial, max time.Duration) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0.2,
		Multiplier:          1.5,
		MaxInterval:         max,
	}
	b.Reset()
	return b
}

type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("gave up after %d attempts: %s", e.Attempts, e.Last)
	}
	return fmt.Sprintf("gave up after %d attempts", e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent stops the task on the current attempt
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Run starts from a reset backoff, so a task can be run again after it gave up.
// A result that arrives after ctx ended is discarded.
func (t *Task[T]) Run(ctx context.Context) (T, error) {
	var zero T
	t.backoff.Reset()
	started := time.Now()

	var last error
	for attempt := 1; ; attempt++ {
		value, done, err := t.fn(ctx, attempt)
		if ctx.Err() != nil {
			return zero, context.Cause(ctx)
		}
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return zero, perm.err
			}
			last = err
		} else if done {
			return value, nil
		}

		if t.maxAttempts > 0 && attempt >= t.maxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Elapsed: time.Since(started), Last: last}
		}

		wait := t.backoff.NextBackOff()
		if wait == backoff.Stop {
			return zero, &ExhaustedError{Attempts: attempt, Elapsed: time.Since(started), Last: last}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, context.Cause(ctx)
		case <-timer.C:
		}
	}
}
