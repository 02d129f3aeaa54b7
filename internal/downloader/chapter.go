package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/queue"
	"golang.org/x/sync/errgroup"
)

// ChapterDownloader downloads the images of a chapter while the module is
// still listing them.
type ChapterDownloader struct {
	images *ImageDownloader
}

func NewChapterDownloader(images *ImageDownloader) *ChapterDownloader {
	return &ChapterDownloader{images: images}
}

// Download lists and fetches every image of chapter. A finished chapter is
// left alone. A listing error aborts images still pending, and an image
// error aborts the listing.
func (d *ChapterDownloader) Download(ctx context.Context, mod module.Module, chapter *download.ChapterInfo, priority int) error {
	if chapter.Status().IsFinished() {
		return nil
	}

	ctx, logger := logctx.With(ctx, "chapter_id", chapter.ChapterID())

	logger.Debug("downloading chapter", "chapter_title", chapter.Title(), "chapter_path", chapter.Path())

	if err := os.MkdirAll(chapter.Path(), dirPerm); err != nil {
		chapter.SetStatus(download.Error(err.Error()))

		return fmt.Errorf("failed to create chapter directory: %w", err)
	}

	chapter.SetStatus(download.Downloading())

	pending := queue.NewUnbounded[*download.ImageInfo]()

	wg, gctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		defer pending.Close()

		sink := module.SinkFunc(func(image module.ImageDescriptor) {
			pending.Push(chapter.AppendImage(image))
		})

		if err := mod.GetChapterImages(gctx, chapter.ChapterID(), sink); err != nil {
			return fmt.Errorf("failed to get chapter images: %w", err)
		}

		return nil
	})

	wg.Go(func() error {
		for {
			image, err := pending.Pop(gctx)
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}

			if err != nil {
				return err
			}

			if err := d.images.Download(gctx, mod, image, priority); err != nil {
				return err
			}
		}
	})

	if err := wg.Wait(); err != nil {
		if ctx.Err() != nil {
			chapter.SetStatus(download.Paused())

			return ctx.Err()
		}

		chapter.SetStatus(download.Error(err.Error()))

		return err
	}

	chapter.SetStatus(download.Finished())
	logger.Debug("finished chapter", "images", len(chapter.Images()))

	return nil
}
