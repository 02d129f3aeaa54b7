// Package cleanup sweeps the download directory for partial image files left
// behind by interrupted or crashed downloads.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// Result summarizes one sweep.
type Result struct {
	Removed int
	// Bytes is the size of every file kept under the directory.
	Bytes int64
}

// RemoveStalePartials deletes partial image files under dir that were last
// written more than keep ago. Fresh partials may belong to a running
// download and are kept.
func RemoveStalePartials(ctx context.Context, dir string, keep time.Duration) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var result Result

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // removed while walking
			}

			return err
		}

		if !strings.HasSuffix(path, downloader.PartialSuffix) || now.Sub(info.ModTime()) <= keep {
			result.Bytes += info.Size()

			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete stale partial file", "file", path, "err", err)

			return err
		}

		logger.Info("deleted stale partial file", "file", path, "size", humanize.Bytes(uint64(info.Size())))
		result.Removed++

		return nil
	})

	return result, err
}

// Run sweeps dir every interval until ctx is done.
func Run(ctx context.Context, dir string, interval, keep time.Duration, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx)

	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down")

			return
		case <-ticker.C:
			result, err := RemoveStalePartials(ctx, dir, keep)
			if err != nil {
				logger.Error("failed to remove stale partial files", "err", err)
				tel.RecordSystemError("cleanup", "sweep")

				continue
			}

			tel.RecordDiskUsage(result.Bytes)

			logger.Debug("cleanup sweep finished",
				"removed", result.Removed,
				"disk_usage", humanize.Bytes(uint64(result.Bytes)),
			)
		}
	}
}
