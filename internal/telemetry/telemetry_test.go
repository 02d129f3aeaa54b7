package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry_ZeroValueIsNoop(t *testing.T) {
	tel := &Telemetry{}

	assert.NotPanics(t, func() {
		tel.RecordHTTPRequest(http.MethodGet, "/downloads", "2xx", time.Millisecond)
		tel.IncrementHTTPInFlight()
		tel.DecrementHTTPInFlight()
		tel.RecordDownload("success", time.Second)
		tel.RecordImageDownload("fake", "success", 10)
		tel.RecordImageRetry("fake")
		tel.RecordSchedulerPromotion()
		tel.RecordModuleOperation("fake", "get_info", "error")
		tel.RecordDBOperation("save_download", "success", time.Millisecond)
		tel.RecordDiskUsage(100)
		tel.RecordSystemError("cleanup", "walk")
	})

	calls := 0
	err := tel.InstrumentDownload(context.Background(), func(context.Context) error {
		calls++

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err = tel.InstrumentModuleOperation(context.Background(), "fake", "get_info", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, tel.Shutdown(context.Background()))

	var nilTel *Telemetry
	require.NoError(t, nilTel.Shutdown(context.Background()))
	require.NoError(t, nilTel.InstrumentDBOperation(context.Background(), "get", func(context.Context) error { return nil }))
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tel.Tracer())
}

func TestNew_ExportsMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "manga_downloader_test", ServiceVersion: "test"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	require.NoError(t, tel.InstrumentDownload(ctx, func(context.Context) error { return nil }))
	tel.RecordImageDownload("fake", "success", 42)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "downloads_total")
	assert.Contains(t, string(body), "image_bytes_total")
	assert.Contains(t, string(body), "images_total")
	assert.Contains(t, string(body), "download_duration_seconds_bucket")
	assert.NotContains(t, string(body), "_ratio")
	assert.NotContains(t, string(body), "image_bytes_bytes")
}

func TestOperationStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{context.Canceled, "interrupted"},
		{fmt.Errorf("stopped: %w", context.Canceled), "interrupted"},
		{errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, operationStatus(tt.err))
	}
}

func TestRequestID(t *testing.T) {
	var seen string

	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		assert.NotNil(t, logctx.LoggerFromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	assert.Equal(t, "", GetRequestID(context.Background()))
}

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	assert.Same(t, rw, wrapResponseWriter(rw))

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rw.status)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, int64(5), rw.bytesWritten)
}

func TestRoutePattern(t *testing.T) {
	var pattern string

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			pattern = routePattern(req)
		})
	})
	r.Get("/downloads/{id}", func(http.ResponseWriter, *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/downloads/7", nil))
	assert.Equal(t, "/downloads/{id}", pattern)

	assert.Equal(t, "unmatched", routePattern(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestGetStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", getStatusClass(http.StatusCreated))
	assert.Equal(t, "3xx", getStatusClass(http.StatusFound))
	assert.Equal(t, "4xx", getStatusClass(http.StatusNotFound))
	assert.Equal(t, "5xx", getStatusClass(http.StatusBadGateway))
}
