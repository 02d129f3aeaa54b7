package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/italolelis/manga_downloader/internal/storage"
	"github.com/italolelis/manga_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *DownloadRepository {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewDownloadRepository(db)
}

func TestInitDB_MigratesOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "downloads.db")

	db, err := InitDB(path)
	require.NoError(t, err)

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM __migration`).Scan(&rows))
	assert.Equal(t, len(migrations), rows)
}

func TestDownloadRepository_SaveAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	moduleID := uuid.New()
	require.NoError(t, repo.SaveModule(ctx, storage.ModuleRecord{UUID: moduleID, Name: "first"}))
	require.NoError(t, repo.SaveModule(ctx, storage.ModuleRecord{UUID: moduleID, Name: "renamed"}))

	modules, err := repo.GetModules(ctx)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "renamed", modules[0].Name)

	record := storage.DownloadRecord{
		ID:       1,
		ModuleID: moduleID,
		Title:    "Title",
		URL:      "https://manga.test/title/1",
		Path:     "/downloads/Title",
		Status:   "Paused",
		Order:    1,
	}
	require.NoError(t, repo.SaveDownload(ctx, record))
	require.NoError(t, repo.SaveDownload(ctx, storage.DownloadRecord{ID: 2, ModuleID: moduleID, Title: "Other", Path: "/o", Status: "Resumed", Order: 2}))

	require.NoError(t, repo.UpdateDownloadStatus(ctx, 1, "Finished"))
	require.NoError(t, repo.UpdateDownloadOrder(ctx, 1, 5))

	downloads, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, downloads, 2)
	assert.Equal(t, int64(2), downloads[0].ID)
	assert.Equal(t, "", downloads[0].URL)

	record.Status = "Finished"
	record.Order = 5
	record.ModuleName = "renamed"
	assert.Equal(t, record, downloads[1])

	require.ErrorIs(t, repo.UpdateDownloadStatus(ctx, 99, "Paused"), storage.ErrNotFound)
}

func TestDownloadRepository_SaveDownloadCreatesUnknownModule(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	moduleID := uuid.New()
	require.NoError(t, repo.SaveDownload(ctx, storage.DownloadRecord{ID: 1, ModuleID: moduleID, ModuleName: "late", Title: "T", Path: "/t", Status: "Resumed"}))

	modules, err := repo.GetModules(ctx)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, moduleID, modules[0].UUID)
	assert.Equal(t, "late", modules[0].Name)
}

func TestDownloadRepository_ChaptersAndImages(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.SaveDownload(ctx, storage.DownloadRecord{ID: 1, ModuleID: uuid.New(), Title: "T", Path: "/t", Status: "Resumed"}))

	for i, id := range []string{"c1", "c2"} {
		require.NoError(t, repo.SaveChapter(ctx, storage.ChapterRecord{
			DownloadID: 1,
			Position:   i + 1,
			ChapterID:  id,
			Title:      "Chapter " + id,
			Path:       "/t/" + id,
			Status:     "Resumed",
		}))
	}

	require.NoError(t, repo.UpdateChapterStatus(ctx, 1, 2, "Error(boom)"))
	require.ErrorIs(t, repo.UpdateChapterStatus(ctx, 1, 3, "Paused"), storage.ErrNotFound)

	image := storage.ImageRecord{
		DownloadID:      1,
		ChapterPosition: 2,
		Position:        1,
		ImageID:         "p1",
		Extension:       "jpg",
		Path:            "/t/c2/00001.jpg",
		Status:          "Resumed",
	}
	require.NoError(t, repo.SaveImage(ctx, image))
	require.NoError(t, repo.SaveImage(ctx, image))
	require.NoError(t, repo.UpdateImageStatus(ctx, 1, 2, 1, "Finished"))

	require.ErrorIs(t, repo.SaveImage(ctx, storage.ImageRecord{DownloadID: 1, ChapterPosition: 9, Position: 1, ImageID: "x", Extension: "jpg", Path: "/x", Status: "Resumed"}), storage.ErrNotFound)
	require.ErrorIs(t, repo.UpdateImageStatus(ctx, 1, 1, 1, "Finished"), storage.ErrNotFound)

	chapters, err := repo.GetChapters(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, "c1", chapters[0].ChapterID)
	assert.Equal(t, "Error(boom)", chapters[1].Status)

	images, err := repo.GetImages(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, images, 1)

	image.Status = "Finished"
	assert.Equal(t, image, images[0])

	empty, err := repo.GetImages(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInstrumentedDownloadRepository(t *testing.T) {
	ctx := context.Background()

	db, err := InitDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	repo := NewInstrumentedDownloadRepository(db, &telemetry.Telemetry{})

	var _ storage.DownloadReadRepository = repo
	var _ storage.DownloadWriteRepository = repo

	require.NoError(t, repo.SaveDownload(ctx, storage.DownloadRecord{ID: 1, ModuleID: uuid.New(), Title: "T", Path: "/t", Status: "Paused"}))
	require.NoError(t, repo.UpdateDownloadStatus(ctx, 1, "Resumed"))

	downloads, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, "Resumed", downloads[0].Status)
}
