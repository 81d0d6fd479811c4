package session

import (
	"errors"
	"testing"
	"time"

	"github.com/onnwee/gramfront/internal/editor"
)

type countingPreviews struct {
	live int
}

func (p *countingPreviews) Create(string, []byte) string {
	p.live++
	return "/previews/x"
}

func (p *countingPreviews) Release(string) bool {
	p.live--
	return true
}

func newSession(previews editor.PreviewStore) *editor.Session {
	s := editor.NewSession("1", editor.Draft{Title: "t"}, previews, 0)
	_ = s.AddFiles(editor.NewPendingFile("a.png", "image/png", nil))
	return s
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := newSession(nil)
	id := r.Add("7", s)

	got, err := r.Get(id, "7")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != s {
		t.Error("expected the stored session")
	}

	if _, err := r.Get(id, "8"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected foreign owner to get ErrNotFound, got %v", err)
	}
	if err := r.Remove(id, "8"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected foreign owner removal to fail, got %v", err)
	}

	if err := r.Remove(id, "7"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !s.Closed() {
		t.Error("expected removed session to be closed")
	}
	if _, err := r.Get(id, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestRegistry_GetDropsClosedSession(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := newSession(nil)
	id := r.Add("7", s)

	s.Close()
	if _, err := r.Get(id, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for closed session, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("expected closed session dropped, len=%d", r.Len())
	}
}

func TestRegistry_CleanupIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := NewRegistry(10 * time.Minute)
	r.timeNow = func() time.Time { return now }

	previews := &countingPreviews{}
	idle := newSession(previews)
	idleID := r.Add("7", idle)
	active := newSession(previews)
	activeID := r.Add("7", active)

	now = now.Add(8 * time.Minute)
	if _, err := r.Get(activeID, "7"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	now = now.Add(5 * time.Minute)

	if n := r.Cleanup(); n != 1 {
		t.Fatalf("expected 1 session torn down, got %d", n)
	}
	if !idle.Closed() || active.Closed() {
		t.Error("expected only the idle session closed")
	}
	if previews.live != 1 {
		t.Errorf("expected the idle session's preview released, %d live", previews.live)
	}
	if _, err := r.Get(idleID, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected idle session gone, got %v", err)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(0)
	if r.idleTimeout != DefaultIdleTimeout {
		t.Errorf("expected default idle timeout, got %v", r.idleTimeout)
	}
	a, b := newSession(nil), newSession(nil)
	r.Add("1", a)
	r.Add("2", b)

	r.CloseAll()
	if !a.Closed() || !b.Closed() || r.Len() != 0 {
		t.Error("expected every session closed and dropped")
	}
}

func TestRegistry_RunPeriodicCleanup(t *testing.T) {
	r := NewRegistry(time.Minute)
	s := newSession(nil)
	r.Add("7", s)
	s.Close()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.RunPeriodicCleanup(5*time.Millisecond, stop)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	<-done

	if r.Len() != 0 {
		t.Error("expected closed session swept by the cleanup loop")
	}
}
