package timer

import (
	"context"
	"errors"
	"time"
)

// ErrElapsed is returned when an operation did not finish before its deadline.
var ErrElapsed = errors.New("deadline has elapsed")

type result[T any] struct {
	value T
	err   error
}

// Timeout runs fn and waits at most d for it. fn keeps running in the
// background after the deadline, so callers must make it return (for
// example by closing the reader it blocks on).
func Timeout[T any](ctx context.Context, d time.Duration, fn func() (T, error)) (T, error) {
	done := make(chan result[T], 1)

	go func() {
		v, err := fn()
		done <- result[T]{value: v, err: err}
	}()

	t := time.NewTimer(d)
	defer t.Stop()

	var zero T

	select {
	case r := <-done:
		return r.value, r.err
	case <-t.C:
		return zero, ErrElapsed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Debounce forwards the last value received from in once in has been quiet
// for d. The returned channel closes when in closes or ctx is done; a value
// still pending when in closes is flushed first.
func Debounce[T any](ctx context.Context, in <-chan T, d time.Duration) <-chan T {
	out := make(chan T)

	go func() {
		defer close(out)

		var (
			pending bool
			last    T
			fire    <-chan time.Time
			t       *time.Timer
		)

		stop := func() {
			if t != nil {
				t.Stop()
			}
		}
		defer stop()

		emit := func() bool {
			select {
			case out <- last:
				pending = false
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					if pending {
						emit()
					}

					return
				}

				last = v
				pending = true

				stop()
				t = time.NewTimer(d)
				fire = t.C
			case <-fire:
				fire = nil
				if pending && !emit() {
					return
				}
			}
		}
	}()

	return out
}
