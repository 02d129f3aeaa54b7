// Package moduletest provides a configurable in-memory module for tests.
package moduletest

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/italolelis/manga_downloader/internal/module"
)

// Fake implements module.Module. Unset funcs fall back to serving nothing.
type Fake struct {
	UUID     uuid.UUID
	ModName  string
	Host     string
	InfoFunc func(ctx context.Context, u *url.URL) (*module.MangaInfo, error)

	// Images maps a chapter id to the images GetChapterImages pushes.
	Images       map[string][]module.ImageDescriptor
	ImagesFunc   func(ctx context.Context, chapterID string, sink module.ImageSink) error
	ImageBytes   map[string][]byte
	DownloadFunc func(ctx context.Context, image module.ImageDescriptor) (io.ReadCloser, error)

	mu             sync.Mutex
	downloadCalls  atomic.Int64
	chapterCalls   atomic.Int64
	requestedPages []string
}

// New returns a Fake with the given id served from http://localhost.
func New(id uuid.UUID) *Fake {
	return &Fake{
		UUID:       id,
		ModName:    "fake",
		Host:       "http://localhost",
		Images:     map[string][]module.ImageDescriptor{},
		ImageBytes: map[string][]byte{},
	}
}

func (f *Fake) ID() module.ID { return f.UUID }

func (f *Fake) Name() string { return f.ModName }

func (f *Fake) Domain() *url.URL {
	u, _ := url.Parse(f.Host)

	return u
}

func (f *Fake) GetInfo(ctx context.Context, u *url.URL) (*module.MangaInfo, error) {
	if f.InfoFunc != nil {
		return f.InfoFunc(ctx, u)
	}

	return &module.MangaInfo{}, nil
}

func (f *Fake) GetChapterImages(ctx context.Context, chapterID string, sink module.ImageSink) error {
	f.chapterCalls.Add(1)

	if f.ImagesFunc != nil {
		return f.ImagesFunc(ctx, chapterID, sink)
	}

	for _, img := range f.Images[chapterID] {
		sink.Add(img)
	}

	return nil
}

func (f *Fake) DownloadImage(ctx context.Context, image module.ImageDescriptor) (io.ReadCloser, error) {
	f.downloadCalls.Add(1)

	f.mu.Lock()
	f.requestedPages = append(f.requestedPages, image.ID)
	f.mu.Unlock()

	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, image)
	}

	return io.NopCloser(bytes.NewReader(f.ImageBytes[image.ID])), nil
}

// DownloadCalls returns how many times DownloadImage was invoked.
func (f *Fake) DownloadCalls() int { return int(f.downloadCalls.Load()) }

// ChapterCalls returns how many times GetChapterImages was invoked.
func (f *Fake) ChapterCalls() int { return int(f.chapterCalls.Load()) }

// RequestedImages returns the image ids passed to DownloadImage in call order.
func (f *Fake) RequestedImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.requestedPages))
	copy(out, f.requestedPages)

	return out
}
