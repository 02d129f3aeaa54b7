package download

import (
	"context"
	"sync"

	"github.com/italolelis/manga_downloader/internal/observer"
)

// Watcher lets a goroutine block until a download reaches some state.
type Watcher struct {
	info   *Info
	handle *observer.Handle[Observer]

	mu      sync.Mutex
	changed chan struct{}
}

// Watch subscribes to info. Call Close when done.
func Watch(info *Info) *Watcher {
	w := &Watcher{
		info:    info,
		changed: make(chan struct{}),
	}
	w.handle = info.ConnectOnly(func(Msg) { w.notify() })

	return w
}

func (w *Watcher) notify() {
	w.mu.Lock()
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

func (w *Watcher) wait() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.changed
}

// WaitStatus returns the first status for which match returns true.
func (w *Watcher) WaitStatus(ctx context.Context, match func(Status) bool) (Status, error) {
	for {
		changed := w.wait()

		if status := w.info.Status(); match(status) {
			return status, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
}

// WaitOrder returns the first order for which match returns true.
func (w *Watcher) WaitOrder(ctx context.Context, match func(int64) bool) (int64, error) {
	for {
		changed := w.wait()

		if order := w.info.Order(); match(order) {
			return order, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (w *Watcher) Close() {
	w.handle.Disconnect()
}
