// Package download holds the observable download model: a download owns its
// chapters, a chapter owns its images, and every level has its own status and
// observers.
package download

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/observer"
)

// MsgKind tells which field of a download changed.
type MsgKind int

const (
	StatusChanged MsgKind = iota
	OrderChanged
)

// Msg is delivered to download observers.
type Msg struct {
	Kind   MsgKind
	Status Status
	Order  int64
}

type Observer func(Msg)

// Info is one manga download.
//
// Observers run synchronously while the download is locked: they must not
// change the download they observe. Hand the message off instead.
type Info struct {
	id       int64
	order    atomic.Int64
	module   *module.Handle
	title    string
	path     string
	url      *url.URL
	chapters []*ChapterInfo

	setMu     sync.Mutex
	mu        sync.RWMutex
	status    Status
	observers *observer.Observers[Observer]
}

// Params describes a download being created or restored.
type Params struct {
	ID       int64
	Order    int64
	Module   *module.Handle
	Title    string
	Path     string
	URL      *url.URL
	Status   Status
	Chapters []*ChapterInfo
}

func New(p Params) *Info {
	info := &Info{
		id:        p.ID,
		module:    p.Module,
		title:     p.Title,
		path:      p.Path,
		url:       p.URL,
		chapters:  p.Chapters,
		status:    p.Status,
		observers: observer.New[Observer](),
	}
	info.order.Store(p.Order)

	return info
}

func (d *Info) ID() int64 { return d.id }

// Order is the admission key: lower orders are scheduled first.
func (d *Info) Order() int64 { return d.order.Load() }

func (d *Info) Title() string { return d.title }

func (d *Info) Path() string { return d.path }

// URL is the page the download was requested from, nil when unknown.
func (d *Info) URL() *url.URL { return d.url }

func (d *Info) Module() *module.Handle { return d.module }

func (d *Info) ModuleID() module.ID { return d.module.ID() }

// Chapters returns the chapters in download order. The slice is shared and
// must not be modified.
func (d *Info) Chapters() []*ChapterInfo { return d.chapters }

func (d *Info) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.status
}

// SetStatus stores status and notifies observers.
func (d *Info) SetStatus(status Status) {
	d.setMu.Lock()
	defer d.setMu.Unlock()

	d.mu.Lock()
	d.status = status
	d.mu.Unlock()

	d.observers.Emit(func(fn Observer) { fn(Msg{Kind: StatusChanged, Status: status}) })
}

// CompareAndSetStatus stores next only if the current status equals current.
func (d *Info) CompareAndSetStatus(current, next Status) bool {
	d.setMu.Lock()
	defer d.setMu.Unlock()

	d.mu.Lock()
	if d.status != current {
		d.mu.Unlock()

		return false
	}

	d.status = next
	d.mu.Unlock()

	d.observers.Emit(func(fn Observer) { fn(Msg{Kind: StatusChanged, Status: next}) })

	return true
}

// Resume moves an unfinished download to Waiting (resume) or Paused.
func (d *Info) Resume(resume bool) {
	d.setMu.Lock()
	defer d.setMu.Unlock()

	d.mu.Lock()
	if d.status.IsFinished() {
		d.mu.Unlock()

		return
	}

	status := d.status.Resume(resume)
	d.status = status
	d.mu.Unlock()

	d.observers.Emit(func(fn Observer) { fn(Msg{Kind: StatusChanged, Status: status}) })
}

// SetOrder changes the admission key and notifies observers.
func (d *Info) SetOrder(order int64) {
	d.setMu.Lock()
	defer d.setMu.Unlock()

	d.order.Store(order)

	d.observers.Emit(func(fn Observer) { fn(Msg{Kind: OrderChanged, Order: order}) })
}

// WaitModule blocks until the download's module is registered.
func (d *Info) WaitModule(ctx context.Context) (module.Module, error) {
	return d.module.Wait(ctx)
}

// Connect replays the current status and order to fn, then subscribes it.
// No change can slip in between the replay and the subscription.
func (d *Info) Connect(fn Observer) *observer.Handle[Observer] {
	d.setMu.Lock()
	defer d.setMu.Unlock()

	fn(Msg{Kind: StatusChanged, Status: d.Status()})
	fn(Msg{Kind: OrderChanged, Order: d.Order()})

	return d.observers.Connect(fn)
}

// ConnectOnly subscribes fn without replaying the current state.
func (d *Info) ConnectOnly(fn Observer) *observer.Handle[Observer] {
	return d.observers.Connect(fn)
}
