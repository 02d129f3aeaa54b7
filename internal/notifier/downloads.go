package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/engine"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/observer"
	"github.com/italolelis/manga_downloader/internal/queue"
)

type event struct {
	downloadID int64
	content    string
}

// DownloadNotifier sends a message whenever a download finishes or fails.
type DownloadNotifier struct {
	notifier Notifier
	events   *queue.Unbounded[event]
	handles  observer.Group
}

func NewDownloadNotifier(n Notifier) *DownloadNotifier {
	return &DownloadNotifier{
		notifier: n,
		events:   queue.NewUnbounded[event](),
	}
}

// Attach follows the status of every current and future download of state.
// Only transitions seen after Attach are reported.
func (n *DownloadNotifier) Attach(state *engine.State) {
	h := state.Connect(func(msg engine.Msg) {
		if msg.Kind != engine.DownloadCreated {
			return
		}

		info := msg.Download

		dh := info.ConnectOnly(func(m download.Msg) {
			if m.Kind != download.StatusChanged {
				return
			}

			if content, ok := message(info, m.Status); ok {
				n.events.Push(event{downloadID: info.ID(), content: content})
			}
		})

		n.handles.Add(dh.Any())
	})

	n.handles.Add(h.Any())
}

// Run delivers queued messages until ctx is done or Close is called.
func (n *DownloadNotifier) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		ev, err := n.events.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
			return nil
		}

		if err != nil {
			return err
		}

		if err := n.notifier.Notify(ctx, ev.content); err != nil {
			logger.Error("failed to send notification", "download_id", ev.downloadID, "err", err)
		}
	}
}

func (n *DownloadNotifier) Close() {
	n.handles.Disconnect()
	n.events.Close()
}

func message(info *download.Info, status download.Status) (string, bool) {
	switch {
	case status.IsFinished():
		return fmt.Sprintf("✅ Download finished: %s (%d)", info.Title(), info.ID()), true
	case status.IsError():
		return fmt.Sprintf("❌ Download failed: %s (%d): %s", info.Title(), info.ID(), status.Message()), true
	default:
		return "", false
	}
}
