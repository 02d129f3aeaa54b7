// Package scheduler promotes queued downloads to downloading while the number
// of running downloads stays under a limit.
package scheduler

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/observer"
	"github.com/italolelis/manga_downloader/internal/queue"
	"github.com/italolelis/manga_downloader/internal/telemetry"
	"github.com/italolelis/manga_downloader/internal/timer"
)

// DefaultDebounce collapses bursts of status changes into one reschedule.
const DefaultDebounce = 100 * time.Millisecond

// DownloadSource announces every existing and future download once.
type DownloadSource interface {
	ConnectDownloads(fn func(*download.Info)) observer.AnyHandle
}

// Option holds the settings the scheduler reads on every tick.
type Option struct {
	downloadLimit atomic.Int64
}

// NewOption returns an option without a download limit.
func NewOption() *Option {
	o := &Option{}
	o.downloadLimit.Store(math.MaxInt64)

	return o
}

func (o *Option) DownloadLimit() int64 {
	return o.downloadLimit.Load()
}

// SetDownloadLimit changes how many downloads may run at once. Running
// downloads are never demoted.
func (o *Option) SetDownloadLimit(limit int64) {
	if limit < 0 {
		limit = 0
	}

	o.downloadLimit.Store(limit)
}

type eventKind int

const (
	eventQueued eventKind = iota
	eventRemoved
	eventOrderChanged
	eventReschedule
)

type event struct {
	kind eventKind
	info *download.Info
}

// Scheduler is the only component that moves downloads from Queue to
// Downloading.
type Scheduler struct {
	source    DownloadSource
	option    *Option
	debounce  time.Duration
	telemetry *telemetry.Telemetry
	events    *queue.Unbounded[event]
}

type Opt func(*Scheduler)

func WithDebounce(d time.Duration) Opt {
	return func(s *Scheduler) { s.debounce = d }
}

func WithTelemetry(t *telemetry.Telemetry) Opt {
	return func(s *Scheduler) {
		if t != nil {
			s.telemetry = t
		}
	}
}

func New(source DownloadSource, option *Option, opts ...Opt) *Scheduler {
	s := &Scheduler{
		source:    source,
		option:    option,
		debounce:  DefaultDebounce,
		telemetry: &telemetry.Telemetry{},
		events:    queue.NewUnbounded[event](),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Scheduler) Option() *Option {
	return s.option
}

// Reschedule asks for a new admission pass, e.g. after the limit changed.
func (s *Scheduler) Reschedule() {
	s.events.Push(event{kind: eventReschedule})
}

// Run subscribes to every download and schedules until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "scheduler")

	var handles observer.Group
	defer handles.Disconnect()

	sourceHandle := s.source.ConnectDownloads(func(info *download.Info) {
		h := info.Connect(func(msg download.Msg) {
			switch msg.Kind {
			case download.StatusChanged:
				if msg.Status.IsQueued() || msg.Status.IsDownloading() {
					s.events.Push(event{kind: eventQueued, info: info})
				} else {
					s.events.Push(event{kind: eventRemoved, info: info})
				}
			case download.OrderChanged:
				s.events.Push(event{kind: eventOrderChanged, info: info})
			}
		})
		handles.Add(h.Any())
	})
	defer sourceHandle.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ticks never blocks the event loop; a dropped tick is covered by the
	// pass the debouncer is already delivering.
	ticks := make(chan struct{}, 1)
	reschedule := timer.Debounce(ctx, ticks, s.debounce)

	var working []*download.Info

	logger.Debug("scheduler started", "download_limit", s.option.DownloadLimit())

	events := s.events.Chan(ctx)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ctxErr(ctx)
			}

			switch ev.kind {
			case eventQueued:
				working = append(working, ev.info)
			case eventRemoved:
				working = slices.DeleteFunc(working, func(it *download.Info) bool { return it == ev.info })
			case eventOrderChanged, eventReschedule:
			}

			select {
			case ticks <- struct{}{}:
			default:
			}
		case _, ok := <-reschedule:
			if !ok {
				return ctxErr(ctx)
			}

			working = s.schedule(ctx, working)
		}
	}
}

// schedule runs one admission pass and returns the cleaned working set.
func (s *Scheduler) schedule(ctx context.Context, working []*download.Info) []*download.Info {
	logger := logctx.LoggerFromContext(ctx)

	slices.SortStableFunc(working, func(a, b *download.Info) int {
		switch {
		case a.Order() < b.Order():
			return -1
		case a.Order() > b.Order():
			return 1
		default:
			return 0
		}
	})

	seen := make(map[*download.Info]struct{}, len(working))
	working = slices.DeleteFunc(working, func(it *download.Info) bool {
		if _, ok := seen[it]; ok {
			return true
		}

		seen[it] = struct{}{}

		return false
	})

	var downloading int64
	for _, it := range working {
		if it.Status().IsDownloading() {
			downloading++
		}
	}

	limit := s.option.DownloadLimit()

	logger.Debug("rescheduling downloads", "working", len(working), "downloading", downloading, "download_limit", limit)

	for _, it := range working {
		if downloading >= limit {
			break
		}

		if it.CompareAndSetStatus(download.Queued(), download.Downloading()) {
			logger.Debug("promoting download", "download_id", it.ID(), "order", it.Order())
			s.telemetry.RecordSchedulerPromotion()

			downloading++
		}
	}

	return working
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
