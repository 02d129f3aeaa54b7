package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/manga_downloader/internal/storage"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) GetModules(ctx context.Context) ([]storage.ModuleRecord, error) {
	var result []storage.ModuleRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_modules", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetModules(ctx)

		return err
	})

	return result, err
}

// GetDownloads retrieves all downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) GetChapters(ctx context.Context, downloadID int64) ([]storage.ChapterRecord, error) {
	var result []storage.ChapterRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_chapters", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetChapters(ctx, downloadID)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) GetImages(ctx context.Context, downloadID int64, chapterPosition int) ([]storage.ImageRecord, error) {
	var result []storage.ImageRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_images", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetImages(ctx, downloadID, chapterPosition)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) SaveModule(ctx context.Context, record storage.ModuleRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_module", func(ctx context.Context) error {
		return r.repo.SaveModule(ctx, record)
	})
}

func (r *InstrumentedDownloadRepository) SaveDownload(ctx context.Context, record storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_download", func(ctx context.Context) error {
		return r.repo.SaveDownload(ctx, record)
	})
}

// UpdateDownloadStatus updates download status with telemetry.
func (r *InstrumentedDownloadRepository) UpdateDownloadStatus(ctx context.Context, id int64, status string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_download_status", func(ctx context.Context) error {
		return r.repo.UpdateDownloadStatus(ctx, id, status)
	})
}

func (r *InstrumentedDownloadRepository) UpdateDownloadOrder(ctx context.Context, id int64, order int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_download_order", func(ctx context.Context) error {
		return r.repo.UpdateDownloadOrder(ctx, id, order)
	})
}

func (r *InstrumentedDownloadRepository) SaveChapter(ctx context.Context, record storage.ChapterRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_chapter", func(ctx context.Context) error {
		return r.repo.SaveChapter(ctx, record)
	})
}

func (r *InstrumentedDownloadRepository) UpdateChapterStatus(ctx context.Context, downloadID int64, position int, status string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_chapter_status", func(ctx context.Context) error {
		return r.repo.UpdateChapterStatus(ctx, downloadID, position, status)
	})
}

func (r *InstrumentedDownloadRepository) SaveImage(ctx context.Context, record storage.ImageRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_image", func(ctx context.Context) error {
		return r.repo.SaveImage(ctx, record)
	})
}

func (r *InstrumentedDownloadRepository) UpdateImageStatus(ctx context.Context, downloadID int64, chapterPosition, position int, status string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_image_status", func(ctx context.Context) error {
		return r.repo.UpdateImageStatus(ctx, downloadID, chapterPosition, position, status)
	})
}
