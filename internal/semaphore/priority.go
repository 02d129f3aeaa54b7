// Package semaphore implements a counting semaphore whose waiters are served
// by priority instead of arrival order.
package semaphore

import (
	"container/heap"
	"context"
	"sync"
)

// Priority is a counting semaphore. Waiters with a lower priority number are
// served first; equal priorities are served in arrival order. Only the front
// waiter may take permits, so a large request at the front holds back smaller
// ones behind it.
type Priority struct {
	mu       sync.Mutex
	queue    ticketQueue
	seq      uint64
	acquired int
	limit    int
}

func NewPriority(limit int) *Priority {
	return &Priority{limit: limit}
}

// Acquire blocks until amount permits are granted to this caller or ctx is
// done. A cancelled caller leaves the queue and never holds up later waiters.
func (s *Priority) Acquire(ctx context.Context, priority, amount int) (*Guard, error) {
	s.mu.Lock()
	t := s.push(priority)

	for {
		if g := s.serve(t, amount); g != nil {
			s.mu.Unlock()

			return g, nil
		}

		if s.acquired < s.limit && s.queue[0] != t {
			s.wakeFront()
		}
		s.mu.Unlock()

		select {
		case <-t.wake:
		case <-ctx.Done():
			s.mu.Lock()
			s.abandon(t)
			s.mu.Unlock()

			return nil, ctx.Err()
		}

		s.mu.Lock()
	}
}

// TryAcquire grants amount permits only if the caller would be served right
// now; it never waits.
func (s *Priority) TryAcquire(priority, amount int) (*Guard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.push(priority)
	if g := s.serve(t, amount); g != nil {
		return g, true
	}

	s.abandon(t)

	return nil, false
}

// SetLimit replaces the number of permits. Lowering it below the acquired
// count revokes nothing; new waiters just wait longer.
func (s *Priority) SetLimit(limit int) {
	s.mu.Lock()
	s.limit = limit
	s.wakeFront()
	s.mu.Unlock()
}

func (s *Priority) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.limit
}

func (s *Priority) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.acquired
}

// Waiting returns how many callers are queued.
func (s *Priority) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

func (s *Priority) release(amount int) {
	s.mu.Lock()
	s.acquired -= amount
	s.wakeFront()
	s.mu.Unlock()
}

func (s *Priority) push(priority int) *ticket {
	s.seq++
	t := &ticket{
		priority: priority,
		seq:      s.seq,
		wake:     make(chan struct{}, 1),
	}
	heap.Push(&s.queue, t)

	return t
}

// serve must be called with mu held.
func (s *Priority) serve(t *ticket, amount int) *Guard {
	if s.queue.Len() == 0 || s.queue[0] != t || s.acquired+amount > s.limit {
		return nil
	}

	heap.Pop(&s.queue)
	s.acquired += amount

	if s.acquired < s.limit {
		s.wakeFront()
	}

	return &Guard{s: s, amount: amount}
}

// abandon must be called with mu held.
func (s *Priority) abandon(t *ticket) {
	if t.index < 0 {
		return
	}

	front := s.queue[0] == t
	heap.Remove(&s.queue, t.index)

	if front {
		s.wakeFront()
	}
}

// wakeFront must be called with mu held.
func (s *Priority) wakeFront() {
	if s.queue.Len() == 0 {
		return
	}

	select {
	case s.queue[0].wake <- struct{}{}:
	default:
	}
}

// Guard holds permits until Release or Forget.
type Guard struct {
	s      *Priority
	amount int
	once   sync.Once
}

// Release returns the permits. Calling it again does nothing.
func (g *Guard) Release() {
	g.once.Do(func() { g.s.release(g.amount) })
}

// Forget keeps the permits acquired forever and returns how many there were.
func (g *Guard) Forget() int {
	g.once.Do(func() {})

	return g.amount
}

func (g *Guard) Amount() int { return g.amount }

type ticket struct {
	priority int
	seq      uint64
	index    int
	wake     chan struct{}
}

type ticketQueue []*ticket

func (q ticketQueue) Len() int { return len(q) }

func (q ticketQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}

	return q[i].seq < q[j].seq
}

func (q ticketQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *ticketQueue) Push(x any) {
	t := x.(*ticket)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *ticketQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]

	return t
}
