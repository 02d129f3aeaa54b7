package mangadex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mangaID = "a96676e5-8ae2-425e-b549-7f15dd34a6d8"

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var feedCalls atomic.Int64

	mux := http.NewServeMux()

	mux.HandleFunc("/manga/"+mangaID, func(w http.ResponseWriter, r *http.Request) {
		assert.ElementsMatch(t, []string{"author", "artist", "cover_art"}, r.URL.Query()["includes[]"])

		writeJSON(t, w, http.StatusOK, map[string]any{
			"result": "ok",
			"data": map[string]any{
				"id": mangaID,
				"attributes": map[string]any{
					"title":                  map[string]string{"ja": "Komi-san", "en": "Komi Can't Communicate"},
					"description":            map[string]string{"fr": "Résumé"},
					"tags":                   []any{map[string]any{"attributes": map[string]any{"name": map[string]string{"en": "Comedy"}}}},
					"contentRating":          "safe",
					"publicationDemographic": "shounen",
				},
				"relationships": []any{
					map[string]any{"type": "author", "attributes": map[string]string{"name": "Oda Tomohito"}},
					map[string]any{"type": "artist", "attributes": map[string]string{"name": "Oda Tomohito"}},
					map[string]any{"type": "cover_art", "attributes": map[string]string{"fileName": "cover.jpg"}},
				},
			},
		})
	})

	// Two pages of two chapters, the second page half full.
	chapters := []map[string]any{
		{"id": "ch-1", "attributes": map[string]any{"chapter": "1", "volume": "1", "title": "Start", "translatedLanguage": "en"}},
		{"id": "ch-2", "attributes": map[string]any{"chapter": "2", "volume": "1", "translatedLanguage": "en"}, "relationships": []any{
			map[string]any{"type": "scanlation_group", "attributes": map[string]string{"name": "Group A"}},
			map[string]any{"type": "scanlation_group", "attributes": map[string]string{"name": "Group B"}},
		}},
		{"id": "ch-3", "attributes": map[string]any{"chapter": "3", "translatedLanguage": "en"}},
	}

	mux.HandleFunc("/manga/"+mangaID+"/feed", func(w http.ResponseWriter, r *http.Request) {
		feedCalls.Add(1)

		assert.Equal(t, []string{"en"}, r.URL.Query()["translatedLanguage[]"])

		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)

		end := min(offset+2, len(chapters))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"result": "ok",
			"data":   chapters[offset:end],
			"limit":  2,
			"offset": offset,
			"total":  len(chapters),
		})
	})

	var server *httptest.Server

	mux.HandleFunc("/at-home/server/ch-1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"result":  "ok",
			"baseUrl": server.URL + "/",
			"chapter": map[string]any{"hash": "abc", "data": []string{"1-x.png", "2-y.jpg"}},
		})
	})

	mux.HandleFunc("/at-home/server/missing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{
			"result": "error",
			"errors": []any{map[string]string{"title": "not_found", "detail": "Chapter not found"}},
		})
	})

	mux.HandleFunc("/at-home/server/soft-error", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"result": "error",
			"errors": []any{map[string]string{"detail": "first"}, map[string]string{"detail": "second"}},
		})
	})

	mux.HandleFunc("/data/abc/1-x.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("png bytes"))
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server, &feedCalls
}

func newTestClient(server *httptest.Server) *Client {
	return New(
		WithAPIURL(server.URL),
		WithCoverURL("https://covers.test"),
		WithRate(0),
	)
}

func TestClient_Identity(t *testing.T) {
	c := New()

	assert.Equal(t, ID, c.ID())
	assert.Equal(t, "MangaDex", c.Name())
	assert.Equal(t, "https://mangadex.org", module.DomainOf(c.Domain()))
}

func TestClient_GetInfo(t *testing.T) {
	server, feedCalls := newTestServer(t)
	c := newTestClient(server)

	u, err := url.Parse("https://mangadex.org/title/" + mangaID + "/komi-san")
	require.NoError(t, err)

	info, err := c.GetInfo(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, mangaID, info.ID)
	assert.Equal(t, "Komi Can't Communicate", info.Title)
	assert.Equal(t, "Résumé", info.Summary)
	assert.Equal(t, []string{"Oda Tomohito"}, info.Authors)
	assert.Equal(t, []string{"Oda Tomohito"}, info.Artists)
	assert.Equal(t, []string{"Comedy", "safe", "shounen"}, info.Genres)
	assert.Equal(t, "https://covers.test/"+mangaID+"/cover.jpg", info.CoverLink)
	assert.Equal(t, module.MangaTypeSeries, info.Type)

	assert.Equal(t, int64(2), feedCalls.Load())
	require.Len(t, info.Chapters, 3)
	assert.Equal(t, module.ChapterInfo{ID: "ch-1", Title: "Start", Chapter: "1", Volume: "1", Language: "en"}, info.Chapters[0])
	assert.Equal(t, "Group A, Group B", info.Chapters[1].Scanlator)
	assert.Equal(t, "ch-3", info.Chapters[2].ID)
}

func TestClient_GetInfoInvalidURL(t *testing.T) {
	c := New(WithRate(0))

	u, err := url.Parse("https://mangadex.org/titles")
	require.NoError(t, err)

	_, err = c.GetInfo(context.Background(), u)

	var parseErr *module.URLParseError
	require.ErrorAs(t, err, &parseErr)
	assert.False(t, module.IsFatal(err))
}

func TestClient_GetChapterImages(t *testing.T) {
	server, _ := newTestServer(t)
	c := newTestClient(server)

	var images []module.ImageDescriptor

	err := c.GetChapterImages(context.Background(), "ch-1", module.SinkFunc(func(d module.ImageDescriptor) {
		images = append(images, d)
	}))
	require.NoError(t, err)

	assert.Equal(t, []module.ImageDescriptor{
		{ID: server.URL + "/data/abc/1-x.png", Extension: "png"},
		{ID: server.URL + "/data/abc/2-y.jpg", Extension: "jpg"},
	}, images)
}

func TestClient_APIErrors(t *testing.T) {
	server, _ := newTestServer(t)
	c := newTestClient(server)

	tests := []struct {
		chapterID string
		message   string
	}{
		{"missing", "Chapter not found"},
		{"soft-error", "first,second"},
	}

	for _, tt := range tests {
		t.Run(tt.chapterID, func(t *testing.T) {
			err := c.GetChapterImages(context.Background(), tt.chapterID, module.SinkFunc(func(module.ImageDescriptor) {
				t.Fatal("no image expected")
			}))

			var reqErr *module.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.message, reqErr.Message)
			assert.Equal(t, server.URL+"/at-home/server/"+tt.chapterID, reqErr.URL)
		})
	}
}

func TestClient_DownloadImage(t *testing.T) {
	server, _ := newTestServer(t)
	c := newTestClient(server)

	body, err := c.DownloadImage(context.Background(), module.ImageDescriptor{ID: server.URL + "/data/abc/1-x.png"})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	_, err = c.DownloadImage(context.Background(), module.ImageDescriptor{ID: server.URL + "/data/abc/404.png"})

	var reqErr *module.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Message, "404")
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c := New(WithAPIURL("http://127.0.0.1:0"), WithRate(0.001))

	// The first request consumes the single token.
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.GetChapterImages(ctx, "ch-1", module.SinkFunc(func(module.ImageDescriptor) {}))
	require.Error(t, err)
}

func TestLocalized(t *testing.T) {
	assert.Equal(t, "en", localized(map[string]string{"en": "en", "ja": "ja"}))
	assert.Equal(t, "ja", localized(map[string]string{"ja": "ja", "ko": "ko"}))
	assert.Equal(t, "de", localized(map[string]string{"ko": "ko", "de": "de"}))
	assert.Equal(t, "", localized(nil))
}
