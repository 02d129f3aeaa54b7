package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/italolelis/manga_downloader/internal/storage"
)

type DownloadReadRepository struct {
	db *sql.DB
}

func NewDownloadReadRepository(dbConn *sql.DB) *DownloadReadRepository {
	return &DownloadReadRepository{db: dbConn}
}

func (r *DownloadReadRepository) GetModules(ctx context.Context) ([]storage.ModuleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT uuid, name FROM modules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []storage.ModuleRecord

	for rows.Next() {
		var (
			record storage.ModuleRecord
			id     string
		)

		if err := rows.Scan(&id, &record.Name); err != nil {
			return nil, err
		}

		if record.UUID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid module uuid %q: %w", id, err)
		}

		modules = append(modules, record)
	}

	return modules, rows.Err()
}

// GetDownloads returns every download ordered by its admission order.
func (r *DownloadReadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			d.id,
			m.uuid,
			m.name,
			d.title,
			d.url,
			d.path,
			d.status,
			d."order"
		FROM downloads d
		JOIN modules m ON m.id = d.module_id
		ORDER BY d."order", d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		var (
			record   storage.DownloadRecord
			moduleID string
			rawURL   sql.NullString
		)

		err := rows.Scan(&record.ID, &moduleID, &record.ModuleName, &record.Title, &rawURL, &record.Path, &record.Status, &record.Order)
		if err != nil {
			return nil, err
		}

		if record.ModuleID, err = uuid.Parse(moduleID); err != nil {
			return nil, fmt.Errorf("invalid module uuid %q: %w", moduleID, err)
		}

		record.URL = ""
		if rawURL.Valid {
			record.URL = rawURL.String
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

func (r *DownloadReadRepository) GetChapters(ctx context.Context, downloadID int64) ([]storage.ChapterRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position, chapter_id, title, path, status
		FROM download_chapters
		WHERE download_id = ?
		ORDER BY position`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []storage.ChapterRecord

	for rows.Next() {
		record := storage.ChapterRecord{DownloadID: downloadID}

		if err := rows.Scan(&record.Position, &record.ChapterID, &record.Title, &record.Path, &record.Status); err != nil {
			return nil, err
		}

		chapters = append(chapters, record)
	}

	return chapters, rows.Err()
}

func (r *DownloadReadRepository) GetImages(ctx context.Context, downloadID int64, chapterPosition int) ([]storage.ImageRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.position, i.image_id, i.name, i.extension, i.path, i.status
		FROM download_chapter_images i
		JOIN download_chapters c ON c.id = i.download_chapter_id
		WHERE c.download_id = ? AND c.position = ?
		ORDER BY i.position`, downloadID, chapterPosition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []storage.ImageRecord

	for rows.Next() {
		var name sql.NullString

		record := storage.ImageRecord{DownloadID: downloadID, ChapterPosition: chapterPosition}

		if err := rows.Scan(&record.Position, &record.ImageID, &name, &record.Extension, &record.Path, &record.Status); err != nil {
			return nil, err
		}

		if name.Valid {
			record.Name = name.String
		}

		images = append(images, record)
	}

	return images, rows.Err()
}
