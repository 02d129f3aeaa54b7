package download

import (
	"sync"

	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/observer"
)

// ImageObserver is notified whenever the image status changes.
type ImageObserver func(Status)

// ImageInfo is one page of a chapter.
type ImageInfo struct {
	image module.ImageDescriptor
	path  string

	setMu     sync.Mutex
	mu        sync.RWMutex
	status    Status
	observers *observer.Observers[ImageObserver]
}

func NewImage(image module.ImageDescriptor, path string, status Status) *ImageInfo {
	return &ImageInfo{
		image:     image,
		path:      path,
		status:    status,
		observers: observer.New[ImageObserver](),
	}
}

func (i *ImageInfo) Image() module.ImageDescriptor { return i.image }

// Path is the destination file of the image.
func (i *ImageInfo) Path() string { return i.path }

func (i *ImageInfo) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.status
}

func (i *ImageInfo) SetStatus(status Status) {
	i.setMu.Lock()
	defer i.setMu.Unlock()

	i.mu.Lock()
	i.status = status
	i.mu.Unlock()

	i.observers.Emit(func(fn ImageObserver) { fn(status) })
}

// Connect replays the current status to fn and subscribes it.
func (i *ImageInfo) Connect(fn ImageObserver) *observer.Handle[ImageObserver] {
	i.setMu.Lock()
	defer i.setMu.Unlock()

	fn(i.Status())

	return i.observers.Connect(fn)
}

// ConnectOnly subscribes fn without replaying the current status.
func (i *ImageInfo) ConnectOnly(fn ImageObserver) *observer.Handle[ImageObserver] {
	return i.observers.Connect(fn)
}
