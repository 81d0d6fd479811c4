// Package preview hands out short-lived locators for pending images so the
// browser can show a file before it is uploaded.
package preview

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PathPrefix is the URL path locators are served under.
const PathPrefix = "/previews/"

// Thumbnailer renders preview bytes for an image.
type Thumbnailer interface {
	Thumbnail(data []byte) ([]byte, string, error)
}

// Preview is the content served for a locator.
type Preview struct {
	ContentType string
	Data        []byte
}

type entry struct {
	contentType string
	data        []byte

	once     sync.Once
	rendered Preview
}

// Store keeps the bytes behind every live locator.
// Thread-safe for concurrent access.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	thumb   Thumbnailer
	metrics *Metrics
}

// NewStore creates an empty store. thumb may be nil, in which case the
// original bytes are served. metrics may be nil.
func NewStore(thumb Thumbnailer, metrics *Metrics) *Store {
	return &Store{
		entries: make(map[string]*entry),
		thumb:   thumb,
		metrics: metrics,
	}
}

// Create registers data and returns its locator.
func (s *Store) Create(contentType string, data []byte) string {
	id := uuid.New().String()

	s.mu.Lock()
	s.entries[id] = &entry{contentType: contentType, data: data}
	s.mu.Unlock()

	s.metrics.created()
	return PathPrefix + id
}

// Release frees the locator. It reports whether the locator was live.
func (s *Store) Release(locator string) bool {
	id := strings.TrimPrefix(locator, PathPrefix)

	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok {
		s.metrics.released()
	}
	return ok
}

// Get returns the preview for id (the locator without PathPrefix).
// The thumbnail is rendered on first access and reused afterwards.
func (s *Store) Get(id string) (Preview, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Preview{}, false
	}

	e.once.Do(func() {
		e.rendered = s.render(id, e)
	})
	return e.rendered, true
}

// Len returns the number of live locators.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) render(id string, e *entry) Preview {
	original := Preview{ContentType: e.contentType, Data: e.data}
	if s.thumb == nil {
		return original
	}
	data, contentType, err := s.thumb.Thumbnail(e.data)
	if err != nil {
		slog.Warn("preview thumbnail failed, serving original bytes",
			"preview_id", id,
			"content_type", e.contentType,
			"error", err)
		s.metrics.renderFailed()
		return original
	}
	return Preview{ContentType: contentType, Data: data}
}
