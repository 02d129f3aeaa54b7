package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/module/moduletest"
	"github.com/italolelis/manga_downloader/internal/semaphore"
	"github.com/italolelis/manga_downloader/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = &module.RequestError{URL: "http://localhost/image", Message: "connection reset"}

func newDownload(t *testing.T, mod module.Module, chapterIDs ...string) *download.Info {
	t.Helper()

	dir := t.TempDir()

	chapters := make([]*download.ChapterInfo, 0, len(chapterIDs))
	for _, id := range chapterIDs {
		chapters = append(chapters, download.NewChapter(id, "Chapter "+id, filepath.Join(dir, id), download.Waiting()))
	}

	return download.New(download.Params{
		ID:       1,
		Order:    1,
		Module:   module.Resolved(mod),
		Title:    "Title",
		Path:     dir,
		Status:   download.Paused(),
		Chapters: chapters,
	})
}

func newTaskDownloader(opts ...ImageOption) *TaskDownloader {
	opts = append([]ImageOption{WithReadTimeout(time.Second), WithInstanceID("test")}, opts...)

	return NewTaskDownloader(NewChapterDownloader(NewImageDownloader(opts...)))
}

func TestTaskDownloader_EndToEnd(t *testing.T) {
	mod := moduletest.New(uuid.New())
	mod.Images["1"] = []module.ImageDescriptor{{ID: "p1", Extension: "jpg"}}
	mod.ImageBytes["p1"] = []byte("testtest")

	info := newDownload(t, mod, "1")

	require.NoError(t, newTaskDownloader().Download(context.Background(), info))

	chapter := info.Chapters()[0]
	assert.True(t, chapter.Status().IsFinished())

	images := chapter.Images()
	require.Len(t, images, 1)
	assert.True(t, images[0].Status().IsFinished())
	assert.Equal(t, filepath.Join(chapter.Path(), "00001.jpg"), images[0].Path())

	data, err := os.ReadFile(images[0].Path())
	require.NoError(t, err)
	assert.Equal(t, "testtest", string(data))

	entries, err := os.ReadDir(chapter.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "partial files must not be left behind")
}

func TestTaskDownloader_SkipsFinishedChapters(t *testing.T) {
	mod := moduletest.New(uuid.New())
	mod.Images["1"] = []module.ImageDescriptor{{ID: "p1", Extension: "jpg"}}

	info := newDownload(t, mod, "1")
	info.Chapters()[0].SetStatus(download.Finished())

	require.NoError(t, newTaskDownloader().Download(context.Background(), info))
	assert.Equal(t, 0, mod.ChapterCalls())
}

func TestImageDownloader_SkipsExistingFile(t *testing.T) {
	mod := moduletest.New(uuid.New())

	path := filepath.Join(t.TempDir(), "00001.jpg")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	image := download.NewImage(module.ImageDescriptor{ID: "p1", Extension: "jpg"}, path, download.Waiting())

	require.NoError(t, NewImageDownloader().Download(context.Background(), mod, image, 0))

	assert.Equal(t, 0, mod.DownloadCalls())
	assert.True(t, image.Status().IsFinished())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func failingModule(failures int) *moduletest.Fake {
	mod := moduletest.New(uuid.New())
	mod.Images["1"] = []module.ImageDescriptor{{ID: "p1", Extension: "png"}}

	var calls atomic.Int64
	mod.DownloadFunc = func(context.Context, module.ImageDescriptor) (io.ReadCloser, error) {
		if int(calls.Add(1)) <= failures {
			return nil, errTransient
		}

		return io.NopCloser(strings.NewReader("image")), nil
	}

	return mod
}

func TestImageDownloader_Retry(t *testing.T) {
	const limit = 4

	tests := []struct {
		name     string
		failures int
		finished bool
	}{
		{name: "no failure", failures: 0, finished: true},
		{name: "below limit", failures: limit - 1, finished: true},
		{name: "at limit", failures: limit, finished: false},
		{name: "above limit", failures: limit + 3, finished: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := failingModule(tt.failures)
			info := newDownload(t, mod, "1")

			err := newTaskDownloader(WithRetryLimit(limit)).Download(context.Background(), info)

			chapter := info.Chapters()[0]
			if tt.finished {
				require.NoError(t, err)
				assert.True(t, chapter.Status().IsFinished())
				assert.Equal(t, tt.failures+1, mod.DownloadCalls())

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, errTransient)
			assert.True(t, chapter.Status().IsError())
			assert.Equal(t, limit, mod.DownloadCalls())
		})
	}
}

type stallingReader struct {
	first   bool
	closed  chan struct{}
	onClose func()
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if !r.first {
		r.first = true

		return copy(p, "partial"), nil
	}

	<-r.closed

	return 0, errors.New("read on closed body")
}

func (r *stallingReader) Close() error {
	r.onClose()

	return nil
}

func TestImageDownloader_ReadTimeout(t *testing.T) {
	mod := moduletest.New(uuid.New())

	var closes atomic.Int64
	mod.DownloadFunc = func(context.Context, module.ImageDescriptor) (io.ReadCloser, error) {
		closed := make(chan struct{})
		var once atomic.Bool

		return &stallingReader{closed: closed, onClose: func() {
			closes.Add(1)
			if once.CompareAndSwap(false, true) {
				close(closed)
			}
		}}, nil
	}

	path := filepath.Join(t.TempDir(), "00001.jpg")
	image := download.NewImage(module.ImageDescriptor{ID: "p1", Extension: "jpg"}, path, download.Waiting())

	d := NewImageDownloader(WithReadTimeout(10*time.Millisecond), WithRetryLimit(2), WithInstanceID("test"))

	err := d.Download(context.Background(), mod, image, 0)
	require.ErrorIs(t, err, timer.ErrElapsed)
	assert.True(t, image.Status().IsError())
	assert.Equal(t, 2, mod.DownloadCalls())
	assert.GreaterOrEqual(t, closes.Load(), int64(2))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(partialPath(path, "test"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestImageDownloader_GateOrdersByPriority(t *testing.T) {
	gate := semaphore.NewPriority(1)
	held, ok := gate.TryAcquire(0, 1)
	require.True(t, ok)

	mod := moduletest.New(uuid.New())
	mod.ImageBytes["p1"] = []byte("a")
	dir := t.TempDir()

	d := NewImageDownloader(WithGate(gate), WithInstanceID("test"))

	image := download.NewImage(module.ImageDescriptor{ID: "p1", Extension: "jpg"}, filepath.Join(dir, "1.jpg"), download.Waiting())

	done := make(chan error, 1)
	go func() { done <- d.Download(context.Background(), mod, image, 5) }()

	require.Eventually(t, func() bool { return gate.Waiting() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, mod.DownloadCalls())

	held.Release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, mod.DownloadCalls())
	assert.Equal(t, 0, gate.Acquired())
}

func TestChapterDownloader_ListingErrorAbortsChapter(t *testing.T) {
	mod := moduletest.New(uuid.New())
	mod.ImagesFunc = func(_ context.Context, _ string, sink module.ImageSink) error {
		sink.Add(module.ImageDescriptor{ID: "p1", Extension: "jpg"})

		return &module.ExternalError{Err: errors.New("error")}
	}
	mod.ImageBytes["p1"] = []byte("x")

	info := newDownload(t, mod, "1")

	err := newTaskDownloader().Download(context.Background(), info)
	require.Error(t, err)

	var external *module.ExternalError
	assert.ErrorAs(t, err, &external)
	assert.True(t, info.Chapters()[0].Status().IsError())
}

func TestRetry_StopsOnFatal(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), AttemptLimit(10), func(context.Context) (int, error) {
		calls++

		return 0, &module.UnsupportedURLError{URL: "x"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), AttemptLimit(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}

		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func runRunner(t *testing.T, r *TaskRunner, info *download.Info) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = r.Run(ctx, info)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return cancel
}

func waitStatus(t *testing.T, info *download.Info, match func(download.Status) bool) {
	t.Helper()

	require.Eventually(t, func() bool { return match(info.Status()) }, 2*time.Second, 2*time.Millisecond,
		"status is %s", info.Status())
}

func TestTaskRunner_Status(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	reg := module.NewRegistry()

	info := download.New(download.Params{
		ID:     1,
		Module: module.Waiting(reg, id).WithPollInterval(5 * time.Millisecond),
		Path:   t.TempDir(),
		Status: download.Paused(),
	})

	runRunner(t, NewTaskRunner(newTaskDownloader(), nil), info)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, info.Status().IsPaused())

	info.Resume(true)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, info.Status().IsWaiting())

	require.NoError(t, reg.Push(moduletest.New(id)))
	waitStatus(t, info, download.Status.IsQueued)

	info.SetStatus(download.Downloading())
	waitStatus(t, info, download.Status.IsFinished)
}

func TestTaskRunner_Error(t *testing.T) {
	mod := moduletest.New(uuid.New())
	mod.ImagesFunc = func(context.Context, string, module.ImageSink) error {
		return &module.ExternalError{Err: errors.New("error")}
	}

	info := newDownload(t, mod, "1")
	info.SetStatus(download.Downloading())

	runRunner(t, NewTaskRunner(newTaskDownloader(), nil), info)

	waitStatus(t, info, download.Status.IsQueued)
	info.SetStatus(download.Downloading())

	waitStatus(t, info, download.Status.IsError)
	assert.Contains(t, info.Status().Message(), "error")

	info.Resume(true)
	waitStatus(t, info, download.Status.IsQueued)
}

type blockingDownloader struct {
	started chan struct{}
	stopped chan error
}

func (b *blockingDownloader) Download(ctx context.Context, _ *download.Info) error {
	b.started <- struct{}{}
	<-ctx.Done()
	b.stopped <- ctx.Err()

	return ctx.Err()
}

func TestTaskRunner_PauseAbandonsDownload(t *testing.T) {
	mod := moduletest.New(uuid.New())
	info := newDownload(t, mod)
	info.Resume(true)

	b := &blockingDownloader{started: make(chan struct{}, 1), stopped: make(chan error, 1)}
	runRunner(t, NewTaskRunner(b, nil), info)

	waitStatus(t, info, download.Status.IsQueued)
	info.SetStatus(download.Downloading())

	select {
	case <-b.started:
	case <-time.After(time.Second):
		t.Fatal("download did not start")
	}

	info.Resume(false)

	select {
	case err := <-b.stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("download was not abandoned")
	}

	time.Sleep(20 * time.Millisecond)
	assert.True(t, info.Status().IsPaused())

	info.Resume(true)
	waitStatus(t, info, download.Status.IsQueued)
}

type gatedDownloader struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedDownloader) Download(ctx context.Context, _ *download.Info) error {
	g.started <- struct{}{}

	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestTaskRunner_ResumeDuringDownloadKeepsIt(t *testing.T) {
	info := newDownload(t, moduletest.New(uuid.New()))
	info.Resume(true)

	g := &gatedDownloader{started: make(chan struct{}, 1), release: make(chan struct{})}
	runRunner(t, NewTaskRunner(g, nil), info)

	waitStatus(t, info, download.Status.IsQueued)
	info.SetStatus(download.Downloading())

	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("download did not start")
	}

	info.Resume(true)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, info.Status().IsDownloading())

	close(g.release)
	waitStatus(t, info, download.Status.IsFinished)

	select {
	case <-g.started:
		t.Fatal("download was restarted")
	default:
	}
}

func TestTaskRunner_PauseWhileWaitingForModule(t *testing.T) {
	info := download.New(download.Params{
		ID:     1,
		Module: module.Waiting(module.NewRegistry(), uuid.New()).WithPollInterval(5 * time.Millisecond),
		Status: download.Waiting(),
	})

	runRunner(t, NewTaskRunner(newTaskDownloader(), nil), info)

	time.Sleep(20 * time.Millisecond)
	info.Resume(false)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, info.Status().IsPaused())
}

func TestTaskRunner_StopsWhenFinished(t *testing.T) {
	info := newDownload(t, moduletest.New(uuid.New()))
	info.SetStatus(download.Finished())

	done := make(chan error, 1)
	go func() { done <- NewTaskRunner(newTaskDownloader(), nil).Run(context.Background(), info) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner kept running on a finished download")
	}
}

func TestCopyChunks_WritesEverything(t *testing.T) {
	d := NewImageDownloader()

	src := bytes.Repeat([]byte("0123456789"), 300)

	var out bytes.Buffer
	n, err := d.copyChunks(context.Background(), &out, bytes.NewReader(src), io.NopCloser(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(len(src)), n)
	assert.Equal(t, src, out.Bytes())
}
