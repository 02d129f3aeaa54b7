package observer

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Observers is an append-only slot table of callbacks. Slot indices stay
// stable after removal so handles can disconnect at any time.
//
// Callbacks run while the table is locked: a callback must not connect to or
// disconnect from the same table.
type Observers[T any] struct {
	t *table[T]
}

type table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	live  int
}

type slot[T any] struct {
	value T
	used  bool
}

// New returns an empty observer table.
func New[T any]() *Observers[T] {
	return &Observers[T]{t: &table[T]{}}
}

// Connect appends the observer and returns a handle that removes it.
func (o *Observers[T]) Connect(observer T) *Handle[T] {
	o.t.mu.Lock()
	index := len(o.t.slots)
	o.t.slots = append(o.t.slots, slot[T]{value: observer, used: true})
	o.t.live++
	o.t.mu.Unlock()

	h := &Handle[T]{
		table: weak.Make(o.t),
		index: index,
	}
	h.present.Store(true)

	return h
}

// Emit calls fn for every connected observer in connection order.
func (o *Observers[T]) Emit(fn func(T)) {
	o.t.mu.Lock()
	defer o.t.mu.Unlock()

	if o.t.live == 0 {
		return
	}

	for i := range o.t.slots {
		if o.t.slots[i].used {
			fn(o.t.slots[i].value)
		}
	}
}

// Len returns the number of connected observers.
func (o *Observers[T]) Len() int {
	o.t.mu.Lock()
	defer o.t.mu.Unlock()

	return o.t.live
}

func (t *table[T]) remove(index int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	if index >= len(t.slots) || !t.slots[index].used {
		return zero, false
	}

	value := t.slots[index].value
	t.slots[index] = slot[T]{}
	t.live--

	return value, true
}

// Handle identifies one connected observer. It only holds a weak reference
// to its table, so it never keeps the subject alive.
type Handle[T any] struct {
	table   weak.Pointer[table[T]]
	present atomic.Bool
	index   int
}

// Disconnect removes the observer and returns it. Only the first call removes
// anything; later calls and calls after the table was collected return false.
func (h *Handle[T]) Disconnect() (T, bool) {
	var zero T
	if h == nil || !h.present.CompareAndSwap(true, false) {
		return zero, false
	}

	t := h.table.Value()
	if t == nil {
		return zero, false
	}

	return t.remove(h.index)
}

// IsDisconnected reports whether the observer is no longer in its table.
func (h *Handle[T]) IsDisconnected() bool {
	if h == nil || !h.present.Load() {
		return true
	}

	return h.table.Value() == nil
}

// Any erases the callback type so owners that do not know T can keep the
// handle around and disconnect it later.
func (h *Handle[T]) Any() AnyHandle {
	return anyHandle[T]{h: h}
}

// AnyHandle is a type-erased observer handle, safe to move across goroutines.
type AnyHandle interface {
	Disconnect()
	IsDisconnected() bool
}

type anyHandle[T any] struct {
	h *Handle[T]
}

func (a anyHandle[T]) Disconnect() {
	a.h.Disconnect()
}

func (a anyHandle[T]) IsDisconnected() bool {
	return a.h.IsDisconnected()
}

// Group collects type-erased handles and disconnects them together.
type Group struct {
	mu      sync.Mutex
	handles []AnyHandle
}

// Add stores h in the group.
func (g *Group) Add(h AnyHandle) {
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
}

// Disconnect disconnects every handle added so far.
func (g *Group) Disconnect() {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	for _, h := range handles {
		h.Disconnect()
	}
}
