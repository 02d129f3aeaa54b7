package module

import (
	"context"
	"io"
	"net/url"

	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// InstrumentedModule wraps a Module with telemetry.
type InstrumentedModule struct {
	Module

	telemetry *telemetry.Telemetry
}

// Instrument wraps m so every call is traced and counted per module name.
func Instrument(m Module, tel *telemetry.Telemetry) *InstrumentedModule {
	return &InstrumentedModule{Module: m, telemetry: tel}
}

func (m *InstrumentedModule) GetInfo(ctx context.Context, u *url.URL) (*MangaInfo, error) {
	var result *MangaInfo

	err := m.telemetry.InstrumentModuleOperation(ctx, m.Name(), "get_info", func(ctx context.Context) error {
		var err error
		result, err = m.Module.GetInfo(ctx, u)

		return err
	})

	return result, err
}

func (m *InstrumentedModule) GetChapterImages(ctx context.Context, chapterID string, sink ImageSink) error {
	return m.telemetry.InstrumentModuleOperation(ctx, m.Name(), "get_chapter_images", func(ctx context.Context) error {
		return m.Module.GetChapterImages(ctx, chapterID, sink)
	})
}

// DownloadImage only covers opening the body; reading it is recorded by the
// image downloader.
func (m *InstrumentedModule) DownloadImage(ctx context.Context, image ImageDescriptor) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := m.telemetry.InstrumentModuleOperation(ctx, m.Name(), "download_image", func(ctx context.Context) error {
		var err error
		body, err = m.Module.DownloadImage(ctx, image)

		return err
	})

	return body, err
}
