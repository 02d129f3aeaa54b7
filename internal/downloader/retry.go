package downloader

import (
	"context"

	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
)

// ShouldRetry is asked after every failed attempt, attempt starting at 1.
type ShouldRetry func(attempt int, err error) bool

// AttemptLimit allows limit attempts in total. Cancellation and unsupported
// urls stop right away.
func AttemptLimit(limit int) ShouldRetry {
	return func(attempt int, err error) bool {
		return attempt < limit && !module.IsFatal(err)
	}
}

// Retry runs fn until it succeeds, ctx is done or shouldRetry says stop. The
// last error is returned.
func Retry[T any](ctx context.Context, shouldRetry ShouldRetry, fn func(ctx context.Context) (T, error)) (T, error) {
	logger := logctx.LoggerFromContext(ctx)

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if ctx.Err() != nil || !shouldRetry(attempt, err) {
			logger.Error("attempt failed, stopping", "attempt", attempt, "err", err)

			return v, err
		}

		logger.Error("attempt failed, retrying", "attempt", attempt, "err", err)
	}
}
