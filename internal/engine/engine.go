// Package engine wires the download state, the scheduler and the task
// runners together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/scheduler"
)

var ErrChapterNotFound = errors.New("chapter not found")

// Engine runs one task runner per download and the scheduler that admits
// them.
type Engine struct {
	state       *State
	scheduler   *scheduler.Scheduler
	runner      *downloader.TaskRunner
	downloadDir string
}

func New(state *State, sched *scheduler.Scheduler, runner *downloader.TaskRunner, downloadDir string) *Engine {
	return &Engine{
		state:       state,
		scheduler:   sched,
		runner:      runner,
		downloadDir: downloadDir,
	}
}

func (e *Engine) State() *State { return e.state }

// Run blocks until ctx is done. Every download, existing or created later,
// gets its own runner goroutine.
func (e *Engine) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runners sync.WaitGroup

	handle := e.state.ConnectDownloads(func(info *download.Info) {
		runners.Add(1)

		go func() {
			defer runners.Done()

			if err := e.runner.Run(ctx, info); err != nil {
				logger.Error("task runner stopped", "download_id", info.ID(), "err", err)
			}
		}()
	})

	logger.Info("engine started", "downloads", len(e.state.Downloads()), "download_limit", e.scheduler.Option().DownloadLimit())

	err := e.scheduler.Run(ctx)

	handle.Disconnect()
	cancel()
	runners.Wait()

	logger.Info("engine stopped")

	return err
}

// SetDownloadLimit changes how many downloads run at once and reschedules.
func (e *Engine) SetDownloadLimit(limit int64) {
	e.scheduler.Option().SetDownloadLimit(limit)
	e.scheduler.Reschedule()
}

func (e *Engine) DownloadLimit() int64 {
	return e.scheduler.Option().DownloadLimit()
}

// Download looks up the module serving rawURL, fetches the manga and creates
// a download for the chosen chapters, or every chapter when none are given.
func (e *Engine) Download(ctx context.Context, rawURL string, chapterIDs []string, resume bool) (*download.Info, error) {
	logger := logctx.LoggerFromContext(ctx)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &module.URLParseError{Input: rawURL, Err: err}
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, &module.URLParseError{Input: rawURL, Err: errors.New("absolute url required")}
	}

	mod, ok := e.state.Registry().GetByURL(u)
	if !ok {
		return nil, &module.UnsupportedURLError{URL: rawURL}
	}

	manga, err := mod.GetInfo(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to get manga info: %w", err)
	}

	chapters, err := selectChapters(manga.Chapters, chapterIDs)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(e.downloadDir, e.state.Option().SanitizeFilename(manga.Title))

	info := e.state.DownloadRequest(download.Request{
		Module:   mod,
		Manga:    manga,
		Chapters: chapters,
		Path:     path,
		URL:      u,
		Resume:   resume,
	})

	logger.Info("download created",
		"download_id", info.ID(),
		"title", manga.Title,
		"module_name", mod.Name(),
		"chapters", len(chapters),
		"resume", resume,
	)

	return info, nil
}

func selectChapters(all []module.ChapterInfo, ids []string) ([]module.ChapterInfo, error) {
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]module.ChapterInfo, len(all))
	for _, ch := range all {
		byID[ch.ID] = ch
	}

	selected := make([]module.ChapterInfo, 0, len(ids))
	var missing []string

	for _, id := range ids {
		ch, ok := byID[id]
		if !ok {
			missing = append(missing, id)

			continue
		}

		selected = append(selected, ch)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrChapterNotFound, strings.Join(missing, ", "))
	}

	return selected, nil
}
