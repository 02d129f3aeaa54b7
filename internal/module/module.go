package module

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a module. It never changes for a given source.
type ID = uuid.UUID

// Module knows how to fetch manga metadata and chapter images from one source.
type Module interface {
	ID() ID
	Name() string
	Domain() *url.URL

	GetInfo(ctx context.Context, u *url.URL) (*MangaInfo, error)
	// GetChapterImages pushes every image of the chapter into sink as soon as
	// it is discovered.
	GetChapterImages(ctx context.Context, chapterID string, sink ImageSink) error
	// DownloadImage opens the image body. The caller closes it.
	DownloadImage(ctx context.Context, image ImageDescriptor) (io.ReadCloser, error)
}

// ImageSink receives image descriptors while a chapter is enumerated.
type ImageSink interface {
	Add(image ImageDescriptor)
}

// SinkFunc adapts a function to ImageSink.
type SinkFunc func(ImageDescriptor)

func (f SinkFunc) Add(image ImageDescriptor) { f(image) }

// ImageDescriptor points at one remote image.
type ImageDescriptor struct {
	ID        string
	Name      string
	Extension string
}

type MangaType string

const (
	MangaTypeSeries    MangaType = "Series"
	MangaTypeAnthology MangaType = "Anthology"
)

type MangaInfo struct {
	ID        string
	Title     string
	Summary   string
	Authors   []string
	Artists   []string
	Genres    []string
	CoverLink string
	Type      MangaType
	Chapters  []ChapterInfo
}

type ChapterInfo struct {
	ID        string
	Title     string
	Chapter   string
	Volume    string
	Scanlator string
	Language  string
}

// String renders the chapter as "Vol. 1 Chapter 2: Title [Group] [en]".
func (c ChapterInfo) String() string {
	var b strings.Builder

	if c.Volume != "" {
		fmt.Fprintf(&b, "Vol. %s ", c.Volume)
	}

	if c.Chapter != "" {
		fmt.Fprintf(&b, "Chapter %s", c.Chapter)
	}

	if c.Title != "" {
		fmt.Fprintf(&b, ": %s", c.Title)
	}

	if c.Scanlator != "" {
		fmt.Fprintf(&b, " [%s]", c.Scanlator)
	}

	fmt.Fprintf(&b, " [%s]", c.Language)

	return b.String()
}

// DomainOf strips everything but scheme and host from u.
func DomainOf(u *url.URL) string {
	if u == nil {
		return ""
	}

	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
