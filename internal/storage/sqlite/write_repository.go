package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/italolelis/manga_downloader/internal/storage"
)

// DownloadWriteRepository implements storage.DownloadWriteRepository
// and stores download records in SQLite. Every save is an upsert so the same
// record can be written again after a restart.
type DownloadWriteRepository struct {
	db *sql.DB
}

func NewDownloadWriteRepository(db *sql.DB) *DownloadWriteRepository {
	return &DownloadWriteRepository{db: db}
}

func (r *DownloadWriteRepository) SaveModule(ctx context.Context, record storage.ModuleRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO modules (uuid, name) VALUES (?, ?)
		ON CONFLICT(uuid) DO UPDATE SET name = excluded.name`,
		record.UUID.String(), record.Name,
	)

	return err
}

// SaveDownload inserts or updates a download. A module row is created for
// unknown module ids so the foreign key always holds.
func (r *DownloadWriteRepository) SaveDownload(ctx context.Context, record storage.DownloadRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO modules (uuid, name) VALUES (?, ?) ON CONFLICT(uuid) DO NOTHING`,
		record.ModuleID.String(), record.ModuleName,
	)
	if err != nil {
		return err
	}

	var rawURL sql.NullString
	if record.URL != "" {
		rawURL = sql.NullString{String: record.URL, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO downloads (id, module_id, title, url, status, path, "order")
		VALUES (?, (SELECT id FROM modules WHERE uuid = ?), ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			status = excluded.status,
			path = excluded.path,
			"order" = excluded."order"`,
		record.ID, record.ModuleID.String(), record.Title, rawURL, record.Status, record.Path, record.Order,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *DownloadWriteRepository) UpdateDownloadStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE downloads SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "download", id)
}

func (r *DownloadWriteRepository) UpdateDownloadOrder(ctx context.Context, id int64, order int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE downloads SET "order" = ? WHERE id = ?`, order, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "download", id)
}

func (r *DownloadWriteRepository) SaveChapter(ctx context.Context, record storage.ChapterRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_chapters (download_id, position, title, chapter_id, status, path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id, position) DO UPDATE SET
			title = excluded.title,
			chapter_id = excluded.chapter_id,
			status = excluded.status,
			path = excluded.path`,
		record.DownloadID, record.Position, record.Title, record.ChapterID, record.Status, record.Path,
	)

	return err
}

func (r *DownloadWriteRepository) UpdateChapterStatus(ctx context.Context, downloadID int64, position int, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE download_chapters SET status = ? WHERE download_id = ? AND position = ?`,
		status, downloadID, position,
	)
	if err != nil {
		return err
	}

	return expectAffected(res, "chapter", downloadID)
}

func (r *DownloadWriteRepository) SaveImage(ctx context.Context, record storage.ImageRecord) error {
	var name sql.NullString
	if record.Name != "" {
		name = sql.NullString{String: record.Name, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO download_chapter_images (download_chapter_id, position, image_id, extension, name, path, status)
		SELECT id, ?, ?, ?, ?, ?, ?
		FROM download_chapters
		WHERE download_id = ? AND position = ?
		ON CONFLICT(download_chapter_id, position) DO UPDATE SET
			image_id = excluded.image_id,
			extension = excluded.extension,
			name = excluded.name,
			path = excluded.path,
			status = excluded.status`,
		record.Position, record.ImageID, record.Extension, name, record.Path, record.Status,
		record.DownloadID, record.ChapterPosition,
	)
	if err != nil {
		return err
	}

	return expectAffected(res, "chapter", record.DownloadID)
}

func (r *DownloadWriteRepository) UpdateImageStatus(ctx context.Context, downloadID int64, chapterPosition, position int, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE download_chapter_images SET status = ?
		WHERE position = ? AND download_chapter_id = (
			SELECT id FROM download_chapters WHERE download_id = ? AND position = ?
		)`,
		status, position, downloadID, chapterPosition,
	)
	if err != nil {
		return err
	}

	return expectAffected(res, "image", downloadID)
}

func expectAffected(res sql.Result, kind string, downloadID int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%s of download %d: %w", kind, downloadID, storage.ErrNotFound)
	}

	return nil
}
