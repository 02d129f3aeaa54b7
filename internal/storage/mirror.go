package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/engine"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/observer"
	"github.com/italolelis/manga_downloader/internal/queue"
)

type writeOp struct {
	name string
	fn   func(ctx context.Context, repo DownloadWriteRepository) error
}

// Mirror copies engine state into a repository. Observers only enqueue
// writes; a single goroutine started by Run applies them in order.
type Mirror struct {
	repo DownloadWriteRepository
	ops  *queue.Unbounded[writeOp]

	mu      sync.Mutex
	images  map[*download.ImageInfo]struct{}
	handles observer.Group
}

func NewMirror(repo DownloadWriteRepository) *Mirror {
	return &Mirror{
		repo:   repo,
		ops:    queue.NewUnbounded[writeOp](),
		images: make(map[*download.ImageInfo]struct{}),
	}
}

// Attach saves every module and download of state, current and future, and
// follows their changes.
func (m *Mirror) Attach(state *engine.State) {
	h := state.Connect(func(msg engine.Msg) {
		switch msg.Kind {
		case engine.ModulePushed:
			record := ModuleRecord{UUID: msg.Module.ID(), Name: msg.Module.Name()}

			m.enqueue("save_module", func(ctx context.Context, repo DownloadWriteRepository) error {
				return repo.SaveModule(ctx, record)
			})
		case engine.DownloadCreated:
			m.watchDownload(msg.Download)
		}
	})

	m.handles.Add(h.Any())
}

// Run applies queued writes until ctx is done or Close is called. Writes
// still queued at that point are flushed before Run returns.
func (m *Mirror) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		op, err := m.ops.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}

		if err != nil {
			m.Close()

			return m.flush(context.WithoutCancel(ctx))
		}

		if err := op.fn(ctx, m.repo); err != nil {
			logger.Error("failed to mirror download state", "operation", op.name, "err", err)
		}
	}
}

// Close stops following the engine. Run returns once the queue is drained.
func (m *Mirror) Close() {
	m.handles.Disconnect()
	m.ops.Close()
}

func (m *Mirror) flush(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		op, err := m.ops.Pop(ctx)
		if err != nil {
			return nil
		}

		if err := op.fn(ctx, m.repo); err != nil {
			logger.Error("failed to mirror download state", "operation", op.name, "err", err)
		}
	}
}

func (m *Mirror) enqueue(name string, fn func(ctx context.Context, repo DownloadWriteRepository) error) {
	m.ops.Push(writeOp{name: name, fn: fn})
}

// watchDownload subscribes first and snapshots second, so a change racing
// with the snapshot is written after it.
func (m *Mirror) watchDownload(info *download.Info) {
	id := info.ID()

	h := info.ConnectOnly(func(msg download.Msg) {
		switch msg.Kind {
		case download.StatusChanged:
			status := EncodeStatus(msg.Status)

			m.enqueue("update_download_status", func(ctx context.Context, repo DownloadWriteRepository) error {
				return repo.UpdateDownloadStatus(ctx, id, status)
			})
		case download.OrderChanged:
			order := msg.Order

			m.enqueue("update_download_order", func(ctx context.Context, repo DownloadWriteRepository) error {
				return repo.UpdateDownloadOrder(ctx, id, order)
			})
		}
	})
	m.handles.Add(h.Any())

	record := downloadRecord(info)

	m.enqueue("save_download", func(ctx context.Context, repo DownloadWriteRepository) error {
		return repo.SaveDownload(ctx, record)
	})

	for i, chapter := range info.Chapters() {
		m.watchChapter(id, i+1, chapter)
	}
}

func (m *Mirror) watchChapter(downloadID int64, position int, chapter *download.ChapterInfo) {
	h := chapter.ConnectOnly(func(msg download.ChapterMsg) {
		switch msg.Kind {
		case download.ChapterStatusChanged:
			status := EncodeStatus(msg.Status)

			m.enqueue("update_chapter_status", func(ctx context.Context, repo DownloadWriteRepository) error {
				return repo.UpdateChapterStatus(ctx, downloadID, position, status)
			})
		case download.ChapterImagesChanged:
			m.watchImages(downloadID, position, msg.Images)
		}
	})
	m.handles.Add(h.Any())

	record := ChapterRecord{
		DownloadID: downloadID,
		Position:   position,
		ChapterID:  chapter.ChapterID(),
		Title:      chapter.Title(),
		Path:       chapter.Path(),
		Status:     EncodeStatus(chapter.Status()),
	}

	m.enqueue("save_chapter", func(ctx context.Context, repo DownloadWriteRepository) error {
		return repo.SaveChapter(ctx, record)
	})

	m.watchImages(downloadID, position, chapter.Images())
}

// watchImages saves and follows the images not seen before.
func (m *Mirror) watchImages(downloadID int64, chapterPosition int, images []*download.ImageInfo) {
	for i, image := range images {
		m.mu.Lock()
		_, seen := m.images[image]
		m.images[image] = struct{}{}
		m.mu.Unlock()

		if seen {
			continue
		}

		position := i + 1

		h := image.ConnectOnly(func(status download.Status) {
			encoded := EncodeStatus(status)

			m.enqueue("update_image_status", func(ctx context.Context, repo DownloadWriteRepository) error {
				return repo.UpdateImageStatus(ctx, downloadID, chapterPosition, position, encoded)
			})
		})
		m.handles.Add(h.Any())

		desc := image.Image()
		record := ImageRecord{
			DownloadID:      downloadID,
			ChapterPosition: chapterPosition,
			Position:        position,
			ImageID:         desc.ID,
			Name:            desc.Name,
			Extension:       desc.Extension,
			Path:            image.Path(),
			Status:          EncodeStatus(image.Status()),
		}

		m.enqueue("save_image", func(ctx context.Context, repo DownloadWriteRepository) error {
			return repo.SaveImage(ctx, record)
		})
	}
}

func downloadRecord(info *download.Info) DownloadRecord {
	record := DownloadRecord{
		ID:       info.ID(),
		ModuleID: info.ModuleID(),
		Title:    info.Title(),
		Path:     info.Path(),
		Status:   EncodeStatus(info.Status()),
		Order:    info.Order(),
	}

	if mod, ok := info.Module().Module(); ok {
		record.ModuleName = mod.Name()
	}

	if info.URL() != nil {
		record.URL = info.URL().String()
	}

	return record
}
