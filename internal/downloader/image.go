package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/downloader/progress"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/semaphore"
	"github.com/italolelis/manga_downloader/internal/telemetry"
	"github.com/italolelis/manga_downloader/internal/timer"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	// DefaultRetryLimit is the number of attempts made for one image.
	DefaultRetryLimit = 10
	// DefaultReadTimeout bounds every single read of an image body.
	DefaultReadTimeout = 10 * time.Second

	chunkSize        = 1024
	progressInterval = 512 * 1024
)

// ImageDownloader writes one image to disk, retrying failed attempts.
type ImageDownloader struct {
	retryLimit  int
	readTimeout time.Duration
	gate        *semaphore.Priority
	instanceID  string
	telemetry   *telemetry.Telemetry
}

type ImageOption func(*ImageDownloader)

func WithRetryLimit(limit int) ImageOption {
	return func(d *ImageDownloader) { d.retryLimit = limit }
}

func WithReadTimeout(timeout time.Duration) ImageOption {
	return func(d *ImageDownloader) { d.readTimeout = timeout }
}

// WithGate makes every image fetch hold one permit of gate. Downloads with a
// lower order get permits first.
func WithGate(gate *semaphore.Priority) ImageOption {
	return func(d *ImageDownloader) { d.gate = gate }
}

func WithInstanceID(id string) ImageOption {
	return func(d *ImageDownloader) { d.instanceID = id }
}

func WithTelemetry(t *telemetry.Telemetry) ImageOption {
	return func(d *ImageDownloader) {
		if t != nil {
			d.telemetry = t
		}
	}
}

func NewImageDownloader(opts ...ImageOption) *ImageDownloader {
	d := &ImageDownloader{
		retryLimit:  DefaultRetryLimit,
		readTimeout: DefaultReadTimeout,
		instanceID:  GenerateInstanceID(),
		telemetry:   &telemetry.Telemetry{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches image unless its file already exists. priority orders the
// request against images of other downloads when a gate is set.
func (d *ImageDownloader) Download(ctx context.Context, mod module.Module, image *download.ImageInfo, priority int) error {
	desc := image.Image()
	ctx, logger := logctx.With(ctx, "image_id", desc.ID, "image_path", image.Path())

	exists, err := fileExists(image.Path())
	if err != nil {
		return fmt.Errorf("failed to check image file: %w", err)
	}

	if exists {
		logger.Debug("image already downloaded, skipping")
		image.SetStatus(download.Finished())

		return nil
	}

	if d.gate != nil {
		guard, err := d.gate.Acquire(ctx, priority, 1)
		if err != nil {
			image.SetStatus(download.Paused())

			return err
		}
		defer guard.Release()
	}

	image.SetStatus(download.Downloading())

	attempts := 0
	written, err := Retry(ctx, AttemptLimit(d.retryLimit), func(ctx context.Context) (int64, error) {
		attempts++
		if attempts > 1 {
			d.telemetry.RecordImageRetry(mod.Name())
		}

		return d.fetch(ctx, mod, image, logger)
	})
	if err != nil {
		if ctx.Err() != nil {
			image.SetStatus(download.Paused())

			return ctx.Err()
		}

		image.SetStatus(download.Error(err.Error()))
		d.telemetry.RecordImageDownload(mod.Name(), "error", 0)

		return fmt.Errorf("failed to download image %s: %w", desc.ID, err)
	}

	logger.Debug("downloaded image", "size", humanize.Bytes(uint64(written)), "attempts", attempts)
	d.telemetry.RecordImageDownload(mod.Name(), "success", written)
	image.SetStatus(download.Finished())

	return nil
}

func (d *ImageDownloader) fetch(ctx context.Context, mod module.Module, image *download.ImageInfo, logger *slog.Logger) (int64, error) {
	body, err := mod.DownloadImage(ctx, image.Image())
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(image.Path()), dirPerm); err != nil {
		return 0, fmt.Errorf("failed to create image directory: %w", err)
	}

	partial := partialPath(image.Path(), d.instanceID)

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create image file: %w", err)
	}

	pr := progress.NewReader(body, -1, progressInterval, func(read, _ int64) {
		logger.Debug("image progress", "downloaded", humanize.Bytes(uint64(read)))
	})

	written, err := d.copyChunks(ctx, out, pr, body)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close image file: %w", closeErr)
	}

	if err != nil {
		_ = os.Remove(partial)

		return 0, err
	}

	if err := os.Rename(partial, image.Path()); err != nil {
		_ = os.Remove(partial)

		return 0, fmt.Errorf("failed to move image into place: %w", err)
	}

	return written, nil
}

// copyChunks reads r in small chunks, each read bounded by the read timeout.
// When a read times out body is closed to unblock it.
func (d *ImageDownloader) copyChunks(ctx context.Context, w io.Writer, r io.Reader, body io.Closer) (int64, error) {
	var written int64

	for {
		buf := make([]byte, chunkSize)

		n, err := timer.Timeout(ctx, d.readTimeout, func() (int, error) {
			return r.Read(buf)
		})

		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write image file: %w", werr)
			}

			written += int64(n)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return written, nil
		case errors.Is(err, timer.ErrElapsed):
			_ = body.Close()

			return written, fmt.Errorf("reading image body: %w", err)
		default:
			return written, fmt.Errorf("reading image body: %w", err)
		}
	}
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}
