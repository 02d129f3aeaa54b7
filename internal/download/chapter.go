package download

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/observer"
)

// ChapterMsgKind tells which field of a chapter changed.
type ChapterMsgKind int

const (
	ChapterStatusChanged ChapterMsgKind = iota
	ChapterImagesChanged
)

// ChapterMsg is delivered to chapter observers. Images is only set for
// ChapterImagesChanged and is a snapshot of the whole list.
type ChapterMsg struct {
	Kind   ChapterMsgKind
	Status Status
	Images []*ImageInfo
}

type ChapterObserver func(ChapterMsg)

// ChapterInfo is one chapter of a download. Its images are filled in while
// the module enumerates them.
type ChapterInfo struct {
	chapterID string
	title     string
	path      string

	setMu     sync.Mutex
	mu        sync.RWMutex
	status    Status
	images    []*ImageInfo
	observers *observer.Observers[ChapterObserver]
}

func NewChapter(chapterID, title, path string, status Status) *ChapterInfo {
	return &ChapterInfo{
		chapterID: chapterID,
		title:     title,
		path:      path,
		status:    status,
		observers: observer.New[ChapterObserver](),
	}
}

// ChapterID is the module's id for the chapter.
func (c *ChapterInfo) ChapterID() string { return c.chapterID }

// Title is the display title, not necessarily the module's chapter title.
func (c *ChapterInfo) Title() string { return c.title }

// Path is the directory the chapter images are written to.
func (c *ChapterInfo) Path() string { return c.path }

func (c *ChapterInfo) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

func (c *ChapterInfo) SetStatus(status Status) {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	c.observers.Emit(func(fn ChapterObserver) {
		fn(ChapterMsg{Kind: ChapterStatusChanged, Status: status})
	})
}

// Images returns a copy of the image list.
func (c *ChapterInfo) Images() []*ImageInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*ImageInfo, len(c.images))
	copy(out, c.images)

	return out
}

// SetImages replaces the image list.
func (c *ChapterInfo) SetImages(images []*ImageInfo) {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	c.mu.Lock()
	c.images = images
	c.mu.Unlock()

	c.emitImages()
}

// AppendImage creates the ImageInfo for the next page of the chapter,
// stores it and returns it. An image with the same id is returned as is.
func (c *ChapterInfo) AppendImage(image module.ImageDescriptor) *ImageInfo {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	c.mu.Lock()
	for _, existing := range c.images {
		if existing.image.ID == image.ID {
			c.mu.Unlock()

			return existing
		}
	}

	info := NewImage(image, filepath.Join(c.path, ImageFileName(len(c.images)+1, image.Extension)), Waiting())
	c.images = append(c.images, info)
	c.mu.Unlock()

	c.emitImages()

	return info
}

func (c *ChapterInfo) emitImages() {
	images := c.Images()

	c.observers.Emit(func(fn ChapterObserver) {
		fn(ChapterMsg{Kind: ChapterImagesChanged, Images: images})
	})
}

// Connect replays the status and the image list to fn, then subscribes it.
func (c *ChapterInfo) Connect(fn ChapterObserver) *observer.Handle[ChapterObserver] {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	fn(ChapterMsg{Kind: ChapterStatusChanged, Status: c.Status()})
	fn(ChapterMsg{Kind: ChapterImagesChanged, Images: c.Images()})

	return c.observers.Connect(fn)
}

// ConnectOnly subscribes fn without replaying the current state.
func (c *ChapterInfo) ConnectOnly(fn ChapterObserver) *observer.Handle[ChapterObserver] {
	return c.observers.Connect(fn)
}

// ImageFileName names the n-th (1 based) image of a chapter.
func ImageFileName(n int, extension string) string {
	return fmt.Sprintf("%05d.%s", n, extension)
}
