// Package discovery finds other devices on the local network segment.
//
// Devices exchange JSON Announcements over a Transport, normally an IPv4
// multicast group. A registered device announces itself periodically and
// answers queries; Search sends a query and collects the answers.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/wire"
)

// Kind is the type of an Announcement.
type Kind string

const (
	KindQuery    Kind = "query"
	KindAnnounce Kind = "announce"
	KindBye      Kind = "bye"
)

// Announcement is one discovery datagram.
type Announcement struct {
	Kind     Kind          `json:"kind"`
	SyncInfo wire.SyncInfo `json:"syncInfo"`
}

// Event is an announcement received from another device.
type Event struct {
	Kind Kind
	Info wire.SyncInfo
}

type Config struct {
	// Interval between announcements of a registered device.
	Interval time.Duration
}

type Service struct {
	tr   Transport
	self func(ctx context.Context) wire.SyncInfo
	cfg  Config
	log  logging.Logger

	startOnce sync.Once
	stop      context.CancelFunc
	loopDone  chan struct{}

	mu         sync.Mutex
	registered bool
	unregister context.CancelFunc
	subs       map[chan Event]struct{}
}

// New creates a discovery service; self returns the current own SyncInfo.
func New(tr Transport, self func(ctx context.Context) wire.SyncInfo, cfg Config, log logging.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Service{
		tr:       tr,
		self:     self,
		cfg:      cfg,
		log:      log.With("module", "discovery"),
		loopDone: make(chan struct{}),
		subs:     make(map[chan Event]struct{}),
	}
}

func (s *Service) start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		go s.readLoop(ctx)
	})
}

func (s *Service) readLoop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		payload, err := s.tr.Recv()
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return
			}
			s.log.Warn(ctx, "discovery receive failed", "error", err)
			continue
		}
		var a Announcement
		if err := json.Unmarshal(payload, &a); err != nil {
			s.log.Debug(ctx, "ignoring malformed announcement", "error", err)
			continue
		}
		s.handle(ctx, a)
	}
}

func (s *Service) handle(ctx context.Context, a Announcement) {
	own := s.self(ctx).AppInfo.AppInstanceID
	if a.SyncInfo.AppInfo.AppInstanceID == own {
		return
	}
	switch a.Kind {
	case KindQuery:
		s.mu.Lock()
		registered := s.registered
		s.mu.Unlock()
		if registered {
			s.send(ctx, KindAnnounce)
		}
		// A query also introduces the asking device.
		s.publish(Event{Kind: KindAnnounce, Info: a.SyncInfo})
	case KindAnnounce, KindBye:
		s.publish(Event{Kind: a.Kind, Info: a.SyncInfo})
	}
}

func (s *Service) publish(ev Event) {
	if ev.Info.AppInfo.AppInstanceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Service) subscribe() (chan Event, func()) {
	s.start()
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

func (s *Service) send(ctx context.Context, kind Kind) {
	payload, err := json.Marshal(Announcement{Kind: kind, SyncInfo: s.self(ctx)})
	if err != nil {
		s.log.Error(ctx, "encode announcement", "error", err)
		return
	}
	if err := s.tr.Send(payload); err != nil {
		s.log.Warn(ctx, "discovery send failed", "kind", kind, "error", err)
	}
}

// Search queries the segment and collects the devices answering within
// timeout, one entry per instance. No answers yield an empty slice.
func (s *Service) Search(ctx context.Context, timeout time.Duration) []wire.SyncInfo {
	ch, cancel := s.subscribe()
	defer cancel()

	ctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()
	s.send(ctx, KindQuery)

	found := make(map[string]wire.SyncInfo)
	var order []string
	for {
		select {
		case <-ctx.Done():
			out := make([]wire.SyncInfo, 0, len(order))
			for _, id := range order {
				out = append(out, found[id])
			}
			return out
		case ev := <-ch:
			if ev.Kind != KindAnnounce {
				continue
			}
			id := ev.Info.AppInfo.AppInstanceID
			if _, ok := found[id]; !ok {
				order = append(order, id)
			}
			found[id] = ev.Info
		}
	}
}

// RegisterService starts announcing this device and answering queries until
// UnregisterService is called or ctx is done.
func (s *Service) RegisterService(ctx context.Context) {
	s.start()
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.registered = true
	s.unregister = cancel
	s.mu.Unlock()

	s.send(ctx, KindAnnounce)
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.send(ctx, KindAnnounce)
			}
		}
	}()
	s.log.Info(ctx, "discovery registered", "interval", s.cfg.Interval)
}

// UnregisterService stops announcing and tells the segment this device left.
func (s *Service) UnregisterService(ctx context.Context) {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		return
	}
	s.registered = false
	s.unregister()
	s.mu.Unlock()
	s.send(ctx, KindBye)
}

// Browse calls fn for every announce and bye from other devices until ctx
// is done. fn runs on the caller's goroutine.
func (s *Service) Browse(ctx context.Context, fn func(ctx context.Context, ev Event)) error {
	ch, cancel := s.subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			fn(ctx, ev)
		}
	}
}

// Close stops the service and releases the transport.
func (s *Service) Close() error {
	// Orders Close after a concurrent start and prevents a later one.
	s.startOnce.Do(func() {})
	s.mu.Lock()
	if s.registered {
		s.registered = false
		s.unregister()
	}
	s.mu.Unlock()

	err := s.tr.Close()
	if s.stop != nil {
		s.stop()
		<-s.loopDone
	}
	return err
}
