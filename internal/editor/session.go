package editor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/onnwee/gramfront/internal/upload"
)

// Session errors
var (
	ErrSessionClosed    = errors.New("edit session closed")
	ErrCommitInProgress = errors.New("commit in progress")
	ErrTooManyFiles     = errors.New("too many pending files")
	ErrTitleRequired    = errors.New("title is required")
)

// PreviewStore hands out displayable locators for pending files.
type PreviewStore interface {
	Create(contentType string, data []byte) string
	Release(locator string) bool
}

// Uploader persists a batch of files and returns their refs in input order.
// It fails as a whole.
type Uploader interface {
	Upload(ctx context.Context, objects []upload.Object) ([]string, error)
}

// PostUpdater submits the edited post.
type PostUpdater interface {
	UpdatePost(ctx context.Context, postID, title, content string, imageRefs []string) error
}

// Draft is the post content a session starts from.
type Draft struct {
	Title     string
	Content   string
	ImageRefs []string
}

// FileView describes a pending file for display.
type FileView struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Preview     string `json:"preview"`
}

// View is a point-in-time copy of a session.
type View struct {
	PostID     string     `json:"postId"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Originals  []string   `json:"originals"`
	Files      []FileView `json:"files"`
	Committing bool       `json:"committing"`
}

// Session owns the edit state of one post. Every method is safe for
// concurrent use, but mutations are rejected while a commit is running so
// the committed snapshot always matches what the user saw.
type Session struct {
	mu         sync.Mutex
	postID     string
	title      string
	content    string
	state      EditState
	previews   PreviewStore
	locators   map[string]string // PendingFile.ID -> preview locator
	maxFiles   int
	committing bool
	closed     bool
}

// NewSession starts editing postID from draft. maxFiles <= 0 means no limit.
func NewSession(postID string, draft Draft, previews PreviewStore, maxFiles int) *Session {
	return &Session{
		postID:   postID,
		title:    draft.Title,
		content:  draft.Content,
		state:    EditState{Originals: slices.Clone(draft.ImageRefs)},
		previews: previews,
		locators: make(map[string]string),
		maxFiles: maxFiles,
	}
}

// PostID returns the post being edited.
func (s *Session) PostID() string {
	return s.postID
}

// SetText replaces title and content.
func (s *Session) SetText(title, content string) error {
	return s.UpdateText(&title, &content)
}

// UpdateText sets whichever of title and content is non-nil.
func (s *Session) UpdateText(title, content *string) error {
	return s.mutate(func() error {
		if title != nil {
			s.title = *title
		}
		if content != nil {
			s.content = *content
		}
		return nil
	})
}

// AddFiles appends files after the current pending files.
func (s *Session) AddFiles(files ...*PendingFile) error {
	return s.mutate(func() error {
		if s.maxFiles > 0 && len(s.state.Pending)+len(files) > s.maxFiles {
			return fmt.Errorf("%w: limit is %d", ErrTooManyFiles, s.maxFiles)
		}
		s.state.AddFiles(files...)
		return nil
	})
}

// RemoveOriginal drops the original image at i.
func (s *Session) RemoveOriginal(i int) error {
	return s.mutate(func() error { return s.state.RemoveOriginal(i) })
}

// RemoveFile drops the pending file at i and releases its preview.
func (s *Session) RemoveFile(i int) error {
	return s.mutate(func() error { return s.state.RemoveFile(i) })
}

// SwapOriginal exchanges two original images.
func (s *Session) SwapOriginal(i, j int) error {
	return s.mutate(func() error { return s.state.SwapOriginal(i, j) })
}

// SwapFile exchanges two pending files.
func (s *Session) SwapFile(i, j int) error {
	return s.mutate(func() error { return s.state.SwapFile(i, j) })
}

// mutate applies fn under the lock and reconciles previews with the
// resulting pending files.
func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.committing {
		return ErrCommitInProgress
	}
	if err := fn(); err != nil {
		return err
	}
	s.syncPreviews()
	return nil
}

// syncPreviews releases the locator of every file no longer pending and
// creates one for every new file. Locators of files still pending are kept.
// Callers hold s.mu.
func (s *Session) syncPreviews() {
	if s.previews == nil {
		return
	}

	present := make(map[string]struct{}, len(s.state.Pending))
	for _, f := range s.state.Pending {
		present[f.ID] = struct{}{}
	}
	for id, locator := range s.locators {
		if _, ok := present[id]; !ok {
			s.previews.Release(locator)
			delete(s.locators, id)
		}
	}
	for _, f := range s.state.Pending {
		if _, ok := s.locators[f.ID]; !ok {
			s.locators[f.ID] = s.previews.Create(f.ContentType, f.Data)
		}
	}
}

// View returns a copy of the session for display.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]FileView, len(s.state.Pending))
	for i, f := range s.state.Pending {
		files[i] = FileView{
			Name:        f.Name,
			ContentType: f.ContentType,
			Size:        len(f.Data),
			Preview:     s.locators[f.ID],
		}
	}
	originals := slices.Clone(s.state.Originals)
	if originals == nil {
		originals = []string{}
	}
	return View{
		PostID:     s.postID,
		Title:      s.title,
		Content:    s.content,
		Originals:  originals,
		Files:      files,
		Committing: s.committing,
	}
}

type snapshot struct {
	title   string
	content string
	state   EditState
}

// begin freezes the session for a commit and returns what will be committed.
// With requireTitle, a blank title fails before the session is frozen.
func (s *Session) begin(requireTitle bool) (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return snapshot{}, ErrSessionClosed
	}
	if s.committing {
		return snapshot{}, ErrCommitInProgress
	}
	if requireTitle && strings.TrimSpace(s.title) == "" {
		return snapshot{}, ErrTitleRequired
	}
	s.committing = true
	return snapshot{
		title:   s.title,
		content: s.content,
		state:   s.state.Clone(),
	}, nil
}

// finish unfreezes the session. It reports false if the session was closed
// while the commit ran, in which case the commit result must be dropped.
func (s *Session) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committing = false
	return !s.closed
}

// Commit uploads every pending file and returns the original refs followed
// by the uploaded refs in pending order. On failure nothing is returned and
// the session is left as it was; objects already stored are not removed.
func (s *Session) Commit(ctx context.Context, uploader Uploader) ([]string, error) {
	snap, err := s.begin(false)
	if err != nil {
		return nil, err
	}
	refs, err := s.upload(ctx, uploader, snap)
	if !s.finish() {
		return nil, ErrSessionClosed
	}
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Save commits the images and submits the post. A successful save closes
// the session. A blank title is rejected before anything is uploaded.
func (s *Session) Save(ctx context.Context, uploader Uploader, updater PostUpdater) error {
	snap, err := s.begin(true)
	if err != nil {
		return err
	}
	refs, err := s.upload(ctx, uploader, snap)
	if err == nil {
		err = updater.UpdatePost(ctx, s.postID, snap.title, snap.content, refs)
		if err != nil {
			err = fmt.Errorf("failed to update post: %w", err)
		}
	}
	if !s.finish() {
		return ErrSessionClosed
	}
	if err != nil {
		return err
	}

	s.Close()
	return nil
}

func (s *Session) upload(ctx context.Context, uploader Uploader, snap snapshot) ([]string, error) {
	if len(snap.state.Pending) == 0 {
		return snap.state.Sequence(nil), nil
	}

	objects := make([]upload.Object, len(snap.state.Pending))
	for i, f := range snap.state.Pending {
		objects[i] = f.Object()
	}
	uploaded, err := uploader.Upload(ctx, objects)
	if err != nil {
		return nil, fmt.Errorf("failed to upload images: %w", err)
	}
	if len(uploaded) != len(objects) {
		return nil, fmt.Errorf("%w: requested %d, got %d", upload.ErrGrantMismatch, len(objects), len(uploaded))
	}
	return snap.state.Sequence(uploaded), nil
}

// Close releases every preview held by the session. Later calls are no-ops,
// and a commit still running will have its result discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.previews != nil {
		for id, locator := range s.locators {
			s.previews.Release(locator)
			delete(s.locators, id)
		}
	}
	s.state.Pending = nil
}

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
