package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/module"
)

var ErrNotFound = errors.New("record not found")

// ModuleRecord represents a module a download was created with.
type ModuleRecord struct {
	UUID module.ID
	Name string
}

// DownloadRecord represents a stored download.
type DownloadRecord struct {
	ID         int64
	ModuleID   module.ID
	ModuleName string
	Title      string
	URL        string
	Path       string
	Status     string
	Order      int64
}

// ChapterRecord is keyed by its download and its position in the download.
type ChapterRecord struct {
	DownloadID int64
	Position   int
	ChapterID  string
	Title      string
	Path       string
	Status     string
}

// ImageRecord is keyed by its chapter and its position in the chapter.
type ImageRecord struct {
	DownloadID      int64
	ChapterPosition int
	Position        int
	ImageID         string
	Name            string
	Extension       string
	Path            string
	Status          string
}

type DownloadReadRepository interface {
	GetModules(ctx context.Context) ([]ModuleRecord, error)
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
	GetChapters(ctx context.Context, downloadID int64) ([]ChapterRecord, error)
	GetImages(ctx context.Context, downloadID int64, chapterPosition int) ([]ImageRecord, error)
}

type DownloadWriteRepository interface {
	SaveModule(ctx context.Context, record ModuleRecord) error
	SaveDownload(ctx context.Context, record DownloadRecord) error
	UpdateDownloadStatus(ctx context.Context, id int64, status string) error
	UpdateDownloadOrder(ctx context.Context, id int64, order int64) error
	SaveChapter(ctx context.Context, record ChapterRecord) error
	UpdateChapterStatus(ctx context.Context, downloadID int64, position int, status string) error
	SaveImage(ctx context.Context, record ImageRecord) error
	UpdateImageStatus(ctx context.Context, downloadID int64, chapterPosition, position int, status string) error
}

const (
	statusResumed  = "Resumed"
	statusPaused   = "Paused"
	statusFinished = "Finished"
	statusError    = "Error"
)

// EncodeStatus turns a status into its stored form. Every in-progress status
// is stored as Resumed.
func EncodeStatus(s download.Status) string {
	switch s.State() {
	case download.StatePaused:
		return statusPaused
	case download.StateFinished:
		return statusFinished
	case download.StateError:
		return statusError + "(" + s.Message() + ")"
	default:
		return statusResumed
	}
}

// DecodeStatus parses a stored status. Resumed comes back as Waiting and
// anything unknown becomes an error status.
func DecodeStatus(s string) download.Status {
	switch s {
	case statusResumed:
		return download.Waiting()
	case statusPaused:
		return download.Paused()
	case statusFinished:
		return download.Finished()
	}

	name, rest, ok := strings.Cut(s, "(")
	if ok && name == statusError {
		if message, ok := strings.CutSuffix(rest, ")"); ok {
			return download.Error(message)
		}
	}

	return download.Error("cannot parse status: " + s)
}
