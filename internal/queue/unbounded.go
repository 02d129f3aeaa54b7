// Package queue provides an unbounded FIFO channel replacement.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Unbounded is a FIFO queue whose Push never blocks.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. Values pushed after Close are dropped and false is returned.
func (q *Unbounded[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return false
	}

	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()

	return true
}

// Pop removes the oldest value, blocking until one is available, the queue
// is closed and empty, or ctx is done.
func (q *Unbounded[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0 || q.closed
			q.mu.Unlock()

			if more {
				q.signal()
			}

			return v, nil
		}

		if q.closed {
			q.mu.Unlock()
			q.signal()

			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close stops accepting values. Values already queued can still be popped.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Len returns how many values are waiting.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Chan forwards queued values to a channel until the queue is closed and
// drained or ctx is done.
func (q *Unbounded[T]) Chan(ctx context.Context) <-chan T {
	out := make(chan T)

	go func() {
		defer close(out)

		for {
			v, err := q.Pop(ctx)
			if err != nil {
				return
			}

			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (q *Unbounded[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
