package engine

import (
	"sync"

	"github.com/italolelis/manga_downloader/internal/download"
	"github.com/italolelis/manga_downloader/internal/module"
	"github.com/italolelis/manga_downloader/internal/observer"
)

type MsgKind int

const (
	ModulePushed MsgKind = iota
	DownloadCreated
)

// Msg is delivered to engine observers. Module is set for ModulePushed and
// Download for DownloadCreated.
type Msg struct {
	Kind     MsgKind
	Module   module.Module
	Download *download.Info
}

type Observer func(Msg)

// State owns the module registry and every download known to the engine.
type State struct {
	registry *module.Registry
	option   *download.Option

	mu        sync.Mutex
	downloads []*download.Info
	nextID    int64
	observers *observer.Observers[Observer]
}

func NewState(registry *module.Registry, option *download.Option) *State {
	if registry == nil {
		registry = module.NewRegistry()
	}

	if option == nil {
		option = download.NewOption()
	}

	return &State{
		registry:  registry,
		option:    option,
		nextID:    1,
		observers: observer.New[Observer](),
	}
}

func (s *State) Registry() *module.Registry { return s.registry }

func (s *State) Option() *download.Option { return s.option }

// PushModule registers m. Downloads waiting for its id resolve on their next
// poll.
func (s *State) PushModule(m module.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.registry.Push(m); err != nil {
		return err
	}

	s.observers.Emit(func(fn Observer) { fn(Msg{Kind: ModulePushed, Module: m}) })

	return nil
}

// DownloadRequest creates a download for req. Downloads get increasing ids
// and start with their id as order.
func (s *State) DownloadRequest(req download.Request) *download.Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	info := download.FromRequest(id, id, req, s.option)
	s.add(info)

	return info
}

// Restore adds downloads loaded from storage. New ids continue after the
// highest restored id.
func (s *State) Restore(infos ...*download.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range infos {
		if info.ID() >= s.nextID {
			s.nextID = info.ID() + 1
		}

		s.add(info)
	}
}

// add must be called with mu held.
func (s *State) add(info *download.Info) {
	s.downloads = append(s.downloads, info)
	s.observers.Emit(func(fn Observer) { fn(Msg{Kind: DownloadCreated, Download: info}) })
}

// Downloads returns every download in creation order.
func (s *State) Downloads() []*download.Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*download.Info, len(s.downloads))
	copy(out, s.downloads)

	return out
}

func (s *State) Download(id int64) (*download.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range s.downloads {
		if info.ID() == id {
			return info, true
		}
	}

	return nil, false
}

// Connect replays every module and download to fn, then subscribes it.
func (s *State) Connect(fn Observer) *observer.Handle[Observer] {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.registry.Modules() {
		fn(Msg{Kind: ModulePushed, Module: m})
	}

	for _, info := range s.downloads {
		fn(Msg{Kind: DownloadCreated, Download: info})
	}

	return s.observers.Connect(fn)
}

// ConnectOnly subscribes fn to future events.
func (s *State) ConnectOnly(fn Observer) *observer.Handle[Observer] {
	return s.observers.Connect(fn)
}

// ConnectDownloads calls fn for every existing and future download.
func (s *State) ConnectDownloads(fn func(*download.Info)) observer.AnyHandle {
	return s.Connect(func(msg Msg) {
		if msg.Kind == DownloadCreated {
			fn(msg.Download)
		}
	}).Any()
}
