package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Service is the single entry point for the unread flag: reads, resets,
// upstream notifications and browser pushes all go through it.
type Service struct {
	store       Store
	broadcaster *Broadcaster
	wsURL       string

	mu        sync.Mutex
	listeners map[string]*watch

	// viewerLocks orders flag writes and their broadcasts per viewer.
	locksMu     sync.Mutex
	viewerLocks map[string]*viewerLock
}

type viewerLock struct {
	mu   sync.Mutex
	refs int
}

type watch struct {
	refs   int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a service. An empty wsURL disables upstream listening.
func NewService(store Store, broadcaster *Broadcaster, wsURL string) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		wsURL:       wsURL,
		listeners:   make(map[string]*watch),
		viewerLocks: make(map[string]*viewerLock),
	}
}

// Broadcaster returns the broadcaster browser connections subscribe to.
func (s *Service) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Unread reports whether viewer has unread notifications.
func (s *Service) Unread(ctx context.Context, viewer string) (bool, error) {
	return s.store.Unread(ctx, viewer)
}

// MarkRead clears the flag, e.g. when the notifications view is entered.
func (s *Service) MarkRead(ctx context.Context, viewer string) error {
	return s.set(ctx, viewer, false)
}

// MarkUnread raises the flag.
func (s *Service) MarkUnread(ctx context.Context, viewer string) error {
	return s.set(ctx, viewer, true)
}

func (s *Service) set(ctx context.Context, viewer string, unread bool) error {
	unlock := s.lockViewer(viewer)
	defer unlock()

	prev, err := s.store.SetUnread(ctx, viewer, unread)
	if err != nil {
		return err
	}
	if prev != unread {
		s.broadcaster.Broadcast(viewer, NewUnreadEvent(unread))
	}
	return nil
}

func (s *Service) lockViewer(viewer string) (unlock func()) {
	s.locksMu.Lock()
	l, ok := s.viewerLocks[viewer]
	if !ok {
		l = &viewerLock{}
		s.viewerLocks[viewer] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.viewerLocks, viewer)
		}
		s.locksMu.Unlock()
	}
}

// Handle applies an upstream notification for viewer.
func (s *Service) Handle(ctx context.Context, viewer string, msg Message) {
	if err := s.MarkUnread(ctx, viewer); err != nil {
		slog.ErrorContext(ctx, "failed to record notification",
			"viewer", viewer,
			"type", msg.Type,
			"error", err)
		return
	}
	slog.DebugContext(ctx, "notification received",
		"viewer", viewer,
		"type", msg.Type,
		"sender_id", msg.SenderID)
}

// Watch keeps an upstream listener open for viewer until every returned
// stop function has been called. It is a no-op without a websocket URL or
// for the anonymous viewer.
func (s *Service) Watch(viewer string) (stop func()) {
	if s.wsURL == "" || viewer == "" || viewer == AnonymousViewer {
		return func() {}
	}

	s.mu.Lock()
	w, ok := s.listeners[viewer]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		w = &watch{cancel: cancel, done: make(chan struct{})}
		s.listeners[viewer] = w
		l := NewListener(s.wsURL, viewer, func(msg Message) {
			s.Handle(ctx, viewer, msg)
		})
		go func() {
			defer close(w.done)
			l.Run(ctx)
		}()
	}
	w.refs++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(viewer, w) })
	}
}

func (s *Service) release(viewer string, w *watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.refs--
	if w.refs == 0 {
		w.cancel()
		if s.listeners[viewer] == w {
			delete(s.listeners, viewer)
		}
	}
}

// Listening returns the number of viewers with an open upstream listener.
func (s *Service) Listening() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Close stops every upstream listener and waits for them to exit.
func (s *Service) Close() {
	s.mu.Lock()
	watches := make([]*watch, 0, len(s.listeners))
	for viewer, w := range s.listeners {
		w.cancel()
		watches = append(watches, w)
		delete(s.listeners, viewer)
	}
	s.mu.Unlock()

	for _, w := range watches {
		<-w.done
	}
}
