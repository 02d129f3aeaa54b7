package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
)

type loadOptions struct {
	pollInterval time.Duration
}

type LoadOption func(*loadOptions)

// WithPollInterval changes how often restored module handles look for their
// module.
func WithPollInterval(d time.Duration) LoadOption {
	return func(o *loadOptions) { o.pollInterval = d }
}

// LoadDownloads rebuilds every stored download. Module handles wait for
// their module to be pushed into lookup; downloads that were running come
// back as Waiting.
func LoadDownloads(ctx context.Context, repo DownloadReadRepository, lookup module.Lookup, opts ...LoadOption) ([]*download.Info, error) {
	logger := logctx.LoggerFromContext(ctx)

	options := loadOptions{pollInterval: module.DefaultPollInterval}
	for _, opt := range opts {
		opt(&options)
	}

	records, err := repo.GetDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load downloads: %w", err)
	}

	infos := make([]*download.Info, 0, len(records))

	for _, record := range records {
		chapters, err := loadChapters(ctx, repo, record.ID)
		if err != nil {
			return nil, err
		}

		var u *url.URL
		if record.URL != "" {
			if u, err = url.Parse(record.URL); err != nil {
				logger.Warn("ignoring invalid stored url", "download_id", record.ID, "url", record.URL, "err", err)

				u = nil
			}
		}

		infos = append(infos, download.New(download.Params{
			ID:       record.ID,
			Order:    record.Order,
			Module:   module.Waiting(lookup, record.ModuleID).WithPollInterval(options.pollInterval),
			Title:    record.Title,
			Path:     record.Path,
			URL:      u,
			Status:   DecodeStatus(record.Status),
			Chapters: chapters,
		}))
	}

	logger.Info("downloads restored", "count", len(infos))

	return infos, nil
}

func loadChapters(ctx context.Context, repo DownloadReadRepository, downloadID int64) ([]*download.ChapterInfo, error) {
	records, err := repo.GetChapters(ctx, downloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapters of download %d: %w", downloadID, err)
	}

	chapters := make([]*download.ChapterInfo, 0, len(records))

	for _, record := range records {
		chapter := download.NewChapter(record.ChapterID, record.Title, record.Path, DecodeStatus(record.Status))

		images, err := repo.GetImages(ctx, downloadID, record.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to load images of download %d: %w", downloadID, err)
		}

		if len(images) > 0 {
			infos := make([]*download.ImageInfo, 0, len(images))

			for _, image := range images {
				desc := module.ImageDescriptor{ID: image.ImageID, Name: image.Name, Extension: image.Extension}
				infos = append(infos, download.NewImage(desc, image.Path, DecodeStatus(image.Status)))
			}

			chapter.SetImages(infos)
		}

		chapters = append(chapters, chapter)
	}

	return chapters, nil
}
