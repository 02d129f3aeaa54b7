package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

// NewRouter mounts the download API behind the request id, logging and
// telemetry middlewares. Metrics are served unauthenticated on /metrics.
func NewRouter(h *DownloadHandler, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	if tel != nil {
		r.Method(http.MethodGet, "/metrics", tel.Handler())
	}

	r.Mount("/", h.Routes())

	return r
}
