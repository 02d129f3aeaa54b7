package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/engine"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
)

type ChapterResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	Images         int    `json:"images"`
	FinishedImages int    `json:"finished_images"`
}

type DownloadResponse struct {
	ID       int64             `json:"id"`
	ModuleID string            `json:"module_id"`
	Title    string            `json:"title"`
	URL      string            `json:"url,omitempty"`
	Path     string            `json:"path"`
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Order    int64             `json:"order"`
	Chapters []ChapterResponse `json:"chapters"`
}

type CreateDownloadRequest struct {
	URL      string   `json:"url"`
	Chapters []string `json:"chapters"`
	Paused   bool     `json:"paused"`
}

type OrderRequest struct {
	Order int64 `json:"order"`
}

type LimitRequest struct {
	Limit int64 `json:"limit"`
}

type LimitResponse struct {
	Limit int64 `json:"limit"`
}

type ModuleResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DownloadHandler exposes the engine over HTTP.
type DownloadHandler struct {
	engine   *engine.Engine
	username string
	password string
}

// NewDownloadHandler creates the handler. Basic auth is enforced only when a
// username is set.
func NewDownloadHandler(e *engine.Engine, username, password string) *DownloadHandler {
	return &DownloadHandler{
		engine:   e,
		username: username,
		password: password,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/downloads", h.HandleList)
	r.Post("/downloads", h.HandleCreate)
	r.Get("/downloads/{id}", h.HandleGet)
	r.Post("/downloads/{id}/resume", h.HandleResume)
	r.Post("/downloads/{id}/pause", h.HandlePause)
	r.Put("/downloads/{id}/order", h.HandleOrder)
	r.Get("/scheduler/limit", h.HandleGetLimit)
	r.Put("/scheduler/limit", h.HandleSetLimit)
	r.Get("/modules", h.HandleModules)

	return r
}

func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	downloads := h.engine.State().Downloads()

	resp := make([]DownloadResponse, 0, len(downloads))
	for _, info := range downloads {
		resp = append(resp, toDownloadResponse(info))
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookup(w, r)
	if !ok {
		return
	}

	writeJSON(w, r, http.StatusOK, toDownloadResponse(info))
}

// HandleCreate resolves the url with the registered modules and creates a
// download for the requested chapters, or all of them.
func (h *DownloadHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req CreateDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.URL == "" {
		writeError(w, r, http.StatusBadRequest, "url is required")

		return
	}

	info, err := h.engine.Download(r.Context(), req.URL, req.Chapters, !req.Paused)
	if err != nil {
		logger.Warn("failed to create download", "url", req.URL, "err", err)
		writeError(w, r, statusForError(err), err.Error())

		return
	}

	writeJSON(w, r, http.StatusCreated, toDownloadResponse(info))
}

func (h *DownloadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.resume(w, r, true)
}

func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.resume(w, r, false)
}

func (h *DownloadHandler) resume(w http.ResponseWriter, r *http.Request, resume bool) {
	info, ok := h.lookup(w, r)
	if !ok {
		return
	}

	info.Resume(resume)

	logctx.LoggerFromContext(r.Context()).Info("download status changed by request",
		"download_id", info.ID(),
		"resume", resume,
		"status", info.Status().String(),
	)

	writeJSON(w, r, http.StatusOK, toDownloadResponse(info))
}

func (h *DownloadHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	info, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	info.SetOrder(req.Order)

	writeJSON(w, r, http.StatusOK, toDownloadResponse(info))
}

func (h *DownloadHandler) HandleGetLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LimitResponse{Limit: h.engine.DownloadLimit()})
}

func (h *DownloadHandler) HandleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.Limit < 0 {
		writeError(w, r, http.StatusBadRequest, "limit must not be negative")

		return
	}

	h.engine.SetDownloadLimit(req.Limit)

	writeJSON(w, r, http.StatusOK, LimitResponse{Limit: h.engine.DownloadLimit()})
}

func (h *DownloadHandler) HandleModules(w http.ResponseWriter, r *http.Request) {
	modules := h.engine.State().Registry().Modules()

	resp := make([]ModuleResponse, 0, len(modules))
	for _, m := range modules {
		resp = append(resp, ModuleResponse{
			ID:     m.ID().String(),
			Name:   m.Name(),
			Domain: module.DomainOf(m.Domain()),
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *DownloadHandler) lookup(w http.ResponseWriter, r *http.Request) (*download.Info, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid download id")

		return nil, false
	}

	info, ok := h.engine.State().Download(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "download not found")

		return nil, false
	}

	return info, true
}

func (h *DownloadHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="manga_downloader"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func toDownloadResponse(info *download.Info) DownloadResponse {
	status := info.Status()

	resp := DownloadResponse{
		ID:       info.ID(),
		ModuleID: info.ModuleID().String(),
		Title:    info.Title(),
		Path:     info.Path(),
		Status:   status.State().String(),
		Error:    status.Message(),
		Order:    info.Order(),
		Chapters: make([]ChapterResponse, 0, len(info.Chapters())),
	}

	if info.URL() != nil {
		resp.URL = info.URL().String()
	}

	for _, ch := range info.Chapters() {
		chStatus := ch.Status()
		images := ch.Images()

		finished := 0
		for _, img := range images {
			if img.Status().IsFinished() {
				finished++
			}
		}

		resp.Chapters = append(resp.Chapters, ChapterResponse{
			ID:             ch.ChapterID(),
			Title:          ch.Title(),
			Status:         chStatus.State().String(),
			Error:          chStatus.Message(),
			Images:         len(images),
			FinishedImages: finished,
		})
	}

	return resp
}

func statusForError(err error) int {
	var (
		unsupported *module.UnsupportedURLError
		parseErr    *module.URLParseError
		requestErr  *module.RequestError
	)

	switch {
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrChapterNotFound):
		return http.StatusNotFound
	case errors.As(err, &requestErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, ErrorResponse{Error: message})
}
