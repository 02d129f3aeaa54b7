package module

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/timer"
)

// DefaultPollInterval is how often a waiting handle asks its registry.
const DefaultPollInterval = 100 * time.Millisecond

// Handle is a lazily resolved module reference. A handle either starts
// resolved or waits for a module id to show up in a registry; once resolved
// it never asks the registry again.
type Handle struct {
	id       ID
	lock     chan struct{}
	module   Module
	lookup   Lookup
	interval time.Duration
	resolved atomic.Pointer[resolvedModule]
}

type resolvedModule struct {
	m Module
}

// Resolved returns a handle bound to m.
func Resolved(m Module) *Handle {
	h := &Handle{
		id:     m.ID(),
		lock:   make(chan struct{}, 1),
		module: m,
	}
	h.resolved.Store(&resolvedModule{m: m})

	return h
}

// Waiting returns a handle that resolves id through lookup.
func Waiting(lookup Lookup, id ID) *Handle {
	return &Handle{
		id:       id,
		lock:     make(chan struct{}, 1),
		lookup:   lookup,
		interval: DefaultPollInterval,
	}
}

// WithPollInterval changes how often the registry is polled.
func (h *Handle) WithPollInterval(d time.Duration) *Handle {
	h.interval = d

	return h
}

func (h *Handle) ID() ID {
	return h.id
}

// Module returns the module if the handle is already resolved.
func (h *Handle) Module() (Module, bool) {
	r := h.resolved.Load()
	if r == nil {
		return nil, false
	}

	return r.m, true
}

// Wait returns the module, polling the registry until it is registered.
// Concurrent callers are serialized so only one of them polls.
func (h *Handle) Wait(ctx context.Context) (Module, error) {
	select {
	case h.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-h.lock }()

	if h.module != nil {
		return h.module, nil
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.Debug("waiting for module", "module_uuid", h.id)

	for {
		if m, ok := h.lookup.GetByID(h.id); ok {
			h.module = m
			h.lookup = nil
			h.resolved.Store(&resolvedModule{m: m})

			logger.Debug("module resolved", "module_uuid", h.id, "module_name", m.Name())

			return m, nil
		}

		if err := timer.Sleep(ctx, h.interval); err != nil {
			return nil, err
		}
	}
}
