package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// Downloader performs the work of one download once it is admitted.
type Downloader interface {
	Download(ctx context.Context, info *download.Info) error
}

// errInterrupted is a cancellation: telemetry records it as interrupted.
var errInterrupted = fmt.Errorf("download interrupted: %w", context.Canceled)

type runnerState int

const (
	stateIdle runnerState = iota
	stateWaitModule
	stateQueued
	stateDownloading
)

func (s runnerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateWaitModule:
		return "wait_module"
	case stateQueued:
		return "queued"
	case stateDownloading:
		return "downloading"
	default:
		return "unknown"
	}
}

// TaskRunner drives one download through
// idle -> waiting for module -> queued -> downloading -> finished or error.
// It never promotes itself to Downloading; the scheduler does.
type TaskRunner struct {
	downloader Downloader
	telemetry  *telemetry.Telemetry
}

func NewTaskRunner(downloader Downloader, t *telemetry.Telemetry) *TaskRunner {
	if t == nil {
		t = &telemetry.Telemetry{}
	}

	return &TaskRunner{downloader: downloader, telemetry: t}
}

// Run blocks until info is finished or ctx is done.
func (r *TaskRunner) Run(ctx context.Context, info *download.Info) error {
	args := []any{"download_id", info.ID(), "module_uuid", info.ModuleID()}
	if info.URL() != nil {
		args = append(args, "url", info.URL().String())
	}

	ctx, logger := logctx.With(ctx, args...)

	w := download.Watch(info)
	defer w.Close()

	state := stateIdle

	for {
		if ctx.Err() != nil {
			return nil
		}

		logger.Debug("task runner state", "state", state.String(), "status", info.Status().String())

		switch state {
		case stateIdle:
			status, err := w.WaitStatus(ctx, func(s download.Status) bool { return s.IsResumed() || s.IsFinished() })
			if err != nil {
				return nil
			}

			if status.IsFinished() {
				logger.Debug("download is finished, stopping runner")

				return nil
			}

			if info.CompareAndSetStatus(status, download.Waiting()) {
				state = stateWaitModule
			}

		case stateWaitModule:
			err := r.interruptible(ctx, w, notStatus(download.StateWaiting), func(ctx context.Context) error {
				_, err := info.WaitModule(ctx)

				return err
			})

			state = stateIdle

			if err == nil && info.CompareAndSetStatus(download.Waiting(), download.Queued()) {
				state = stateQueued
			}

		case stateQueued:
			status, err := w.WaitStatus(ctx, func(s download.Status) bool { return !s.IsQueued() })
			if err != nil {
				return nil
			}

			state = stateIdle
			if status.IsDownloading() {
				state = stateDownloading
			}

		case stateDownloading:
			r.download(ctx, w, info)

			state = stateIdle
		}
	}
}

func (r *TaskRunner) download(ctx context.Context, w *download.Watcher, info *download.Info) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Debug("download started")

	start := time.Now()

	err := r.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		return r.interruptible(ctx, w, leftDownloading, func(ctx context.Context) error {
			return r.downloader.Download(ctx, info)
		})
	})

	switch {
	case ctx.Err() != nil:
	case errors.Is(err, errInterrupted):
		logger.Debug("download interrupted", "status", info.Status().String())
	case err != nil:
		logger.Error("download failed", "err", err)

		info.CompareAndSetStatus(download.Downloading(), download.Error(err.Error()))
	default:
		if info.CompareAndSetStatus(download.Downloading(), download.Finished()) {
			logger.Info("download finished", "title", info.Title(), "duration", time.Since(start).String())
		}
	}
}

// interruptible runs fn with a context that is cancelled as soon as the
// status of the download matches stop. It returns errInterrupted in that case.
func (r *TaskRunner) interruptible(
	ctx context.Context,
	w *download.Watcher,
	stop func(download.Status) bool,
	fn func(ctx context.Context) error,
) error {
	runCtx, cancel := context.WithCancelCause(ctx)

	watching := make(chan struct{})

	go func() {
		defer close(watching)

		if _, err := w.WaitStatus(runCtx, stop); err == nil {
			cancel(errInterrupted)
		}
	}()

	err := fn(runCtx)

	cancel(nil)
	<-watching

	if errors.Is(context.Cause(runCtx), errInterrupted) {
		return errInterrupted
	}

	return err
}

func notStatus(state download.State) func(download.Status) bool {
	return func(s download.Status) bool { return s.State() != state }
}

// leftDownloading matches the statuses that abandon an in-flight download.
func leftDownloading(s download.Status) bool {
	return s.IsPaused() || s.IsError() || s.IsFinished()
}
