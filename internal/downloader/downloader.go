// Package downloader drives downloads: the task runner walks a download
// through its statuses and the task, chapter and image downloaders do the
// actual I/O.
package downloader

import (
	"context"
	"fmt"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/logctx"
)

// TaskDownloader downloads the chapters of a download one after the other.
type TaskDownloader struct {
	chapters *ChapterDownloader
}

func NewTaskDownloader(chapters *ChapterDownloader) *TaskDownloader {
	return &TaskDownloader{chapters: chapters}
}

// Download fetches every unfinished chapter of info. It does not touch the
// status of info itself.
func (d *TaskDownloader) Download(ctx context.Context, info *download.Info) error {
	logger := logctx.LoggerFromContext(ctx)

	mod, err := info.WaitModule(ctx)
	if err != nil {
		return err
	}

	priority := int(info.Order())

	for _, chapter := range info.Chapters() {
		if err := d.chapters.Download(ctx, mod, chapter, priority); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("failed to download chapter %s: %w", chapter.ChapterID(), err)
		}
	}

	logger.Debug("downloaded all chapters", "chapters", len(info.Chapters()))

	return nil
}
