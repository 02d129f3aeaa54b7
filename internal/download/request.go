package download

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/italolelis/manga_downloader/internal/module"
)

// Request asks the engine to download some chapters of a manga.
type Request struct {
	Module   module.Module
	Manga    *module.MangaInfo
	Chapters []module.ChapterInfo
	// Path is the directory of the manga; chapters get a sub directory each.
	Path   string
	URL    *url.URL
	Resume bool
}

// FromRequest builds a download with the given id and order. Chapter
// directories are named after the sanitized chapter titles.
func FromRequest(id, order int64, req Request, opt *Option) *Info {
	status := Paused()
	if req.Resume {
		status = Waiting()
	}

	handle := module.Resolved(req.Module)

	chapters := make([]*ChapterInfo, 0, len(req.Chapters))
	for _, ch := range req.Chapters {
		title := ch.String()
		chapters = append(chapters, NewChapter(ch.ID, title, filepath.Join(req.Path, opt.SanitizeFilename(title)), status))
	}

	title := ""
	if req.Manga != nil {
		title = req.Manga.Title
	}

	return New(Params{
		ID:       id,
		Order:    order,
		Module:   handle,
		Title:    title,
		Path:     req.Path,
		URL:      req.URL,
		Status:   status,
		Chapters: chapters,
	})
}

var (
	invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots     = regexp.MustCompile(`[. ]+$`)
	repeatedSpaces   = regexp.MustCompile(`\s+`)
	reservedNames    = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[0-9]|lpt[0-9])(\..*)?$`)
)

// Option holds settings used when laying out downloads on disk. The zero
// value is not usable; use NewOption.
type Option struct {
	mu          sync.RWMutex
	replacement string
}

func NewOption() *Option {
	return &Option{replacement: "_"}
}

// SetSanitizeReplacement changes what invalid characters are replaced with.
func (o *Option) SetSanitizeReplacement(replacement string) {
	o.mu.Lock()
	o.replacement = replacement
	o.mu.Unlock()
}

// SanitizeFilename makes name usable as a single path element on every
// platform we write to.
func (o *Option) SanitizeFilename(name string) string {
	o.mu.RLock()
	replacement := o.replacement
	o.mu.RUnlock()

	name = invalidFileChars.ReplaceAllString(name, replacement)
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = trailingDots.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)

	if reservedNames.MatchString(name) {
		name = replacement + name
	}

	if name == "" || name == "." || name == ".." {
		return replacement
	}

	return name
}
