package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/engine"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/module/moduletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := &DiscordNotifier{WebhookURL: server.URL}
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, map[string]string{"content": "hello"}, got)
}

func TestDiscordNotifier_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	require.Error(t, (&DiscordNotifier{}).Notify(context.Background(), "x"))

	err := (&DiscordNotifier{WebhookURL: server.URL}).Notify(context.Background(), "x")
	require.EqualError(t, err, "webhook failed with status 400")
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Notify(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, content)

	return nil
}

func (r *recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.messages...)
}

func TestDownloadNotifier(t *testing.T) {
	state := engine.NewState(nil, nil)
	mod := moduletest.New(uuid.New())

	first := state.DownloadRequest(download.Request{Module: mod, Manga: &module.MangaInfo{Title: "First"}, Resume: true})

	rec := &recorder{}
	n := NewDownloadNotifier(rec)
	n.Attach(state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	second := state.DownloadRequest(download.Request{Module: mod, Manga: &module.MangaInfo{Title: "Second"}, Resume: true})

	first.SetStatus(download.Downloading())
	first.SetStatus(download.Finished())
	second.SetStatus(download.Error("network down"))
	second.SetStatus(download.Paused())

	require.Eventually(t, func() bool { return len(rec.Messages()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		"✅ Download finished: First (1)",
		"❌ Download failed: Second (2): network down",
	}, rec.Messages())

	n.Close()
	require.NoError(t, <-done)
}
