package watch

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeBackend lets tests inject raw change hints deterministically.
type fakeBackend struct {
	mu     sync.Mutex
	subs   map[string]bool
	subErr error

	events chan string
	errors chan error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		subs:   make(map[string]bool),
		events: make(chan string, 64),
		errors: make(chan error, 8),
	}
}

func (b *fakeBackend) Subscribe(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return b.subErr
	}
	b.subs[path] = true
	return nil
}

func (b *fakeBackend) Unsubscribe(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, path)
	return nil
}

func (b *fakeBackend) Events() <-chan string { return b.events }
func (b *fakeBackend) Errors() <-chan error  { return b.errors }
func (b *fakeBackend) Close() error          { return nil }

func (b *fakeBackend) inject(path string) {
	b.events <- path
}

func (b *fakeBackend) subscribed(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[path]
}

func newTestWatcher(t *testing.T, b *fakeBackend) *Watcher {
	t.Helper()
	w, err := New(Config{Backend: b})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func expectEvent(t *testing.T, w *Watcher, path string) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("expected event for %s, got %s", path, ev.Path)
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for change event on %s", path)
		return Event{}
	}
}

func expectQuiet(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected change event for %s", ev.Path)
	case <-time.After(d):
	}
}

func TestAddPathInitialChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)

	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}
	if !b.subscribed(path) {
		t.Error("AddPath should subscribe the path with the backend")
	}
	if !w.HasSameChecksum(path) {
		t.Error("HasSameChecksum should be true right after AddPath")
	}
}

func TestHasSameChecksumUntracked(t *testing.T) {
	w := newTestWatcher(t, newFakeBackend())
	if w.HasSameChecksum("/no/such/path.txt") {
		t.Error("untracked path should report false")
	}
}

func TestAddPathSubscribeError(t *testing.T) {
	b := newFakeBackend()
	b.subErr = errors.New("permission denied")
	w := newTestWatcher(t, b)

	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	if err := w.AddPath(path, 0, -1); err == nil {
		t.Fatal("AddPath should surface the subscription failure")
	}
	if w.HasSameChecksum(path) {
		t.Error("failed registration must not leave the path tracked")
	}
}

func TestChangeNotification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	writeFile(t, path, []byte("B"))
	b.inject(path)

	ev := expectEvent(t, w, path)
	if len(ev.Checksum) == 0 {
		t.Error("event should carry the new checksum")
	}

	// The stored digest was updated on detection.
	if !w.HasSameChecksum(path) {
		t.Error("HasSameChecksum should be true again after the change was reported")
	}
	expectQuiet(t, w, 200*time.Millisecond)
}

func TestDuplicateEventsCoalesced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	// One logical write, many backend hints.
	writeFile(t, path, []byte("B"))
	for i := 0; i < 8; i++ {
		b.inject(path)
	}

	expectEvent(t, w, path)
	expectQuiet(t, w, 300*time.Millisecond)
}

func TestSpuriousEventNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	b.inject(path)
	expectQuiet(t, w, 300*time.Millisecond)
}

func TestPauseResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	w.Pause()
	writeFile(t, path, []byte("B"))
	b.inject(path)
	expectQuiet(t, w, 300*time.Millisecond)

	w.Resume()
	expectQuiet(t, w, 200*time.Millisecond)

	// A distinct modification after resume does notify.
	writeFile(t, path, []byte("C"))
	b.inject(path)
	expectEvent(t, w, path)
}

func TestRemoveThenStaleEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	w.RemovePath(path)
	if b.subscribed(path) {
		t.Error("RemovePath should unsubscribe from the backend")
	}

	writeFile(t, path, []byte("B"))
	b.inject(path)
	expectQuiet(t, w, 300*time.Millisecond)

	// Removing again is a no-op.
	w.RemovePath(path)
}

func TestReRegisterResetsBaseline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	// Content changes, then the path is re-registered before any event is
	// delivered: registration resets the baseline to the new content.
	writeFile(t, path, []byte("B"))
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("re-AddPath failed: %v", err)
	}
	if !w.HasSameChecksum(path) {
		t.Error("re-registration should recompute the stored checksum")
	}

	b.inject(path)
	expectQuiet(t, w, 300*time.Millisecond)
}

func TestUnreadableFileNotAChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}
	b.inject(path)
	expectQuiet(t, w, 300*time.Millisecond)

	// The last known digest stands in for the unreadable file.
	if !w.HasSameChecksum(path) {
		t.Error("an unreadable file should compare equal to its last digest")
	}
}

func TestChecksumSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	prefix := bytes.Repeat([]byte("x"), 1024)
	writeFile(t, path, append(append([]byte{}, prefix...), []byte("tail v1")...))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 0, 1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	// Change beyond the 1 KiB limit: not a change.
	writeFile(t, path, append(append([]byte{}, prefix...), []byte("a much longer tail v2")...))
	b.inject(path)
	expectQuiet(t, w, 300*time.Millisecond)

	// Change within the limit: a change.
	changed := append([]byte{}, prefix...)
	changed[0] = 'y'
	writeFile(t, path, append(changed, []byte("tail v1")...))
	b.inject(path)
	expectEvent(t, w, path)
}

func TestPeriodicChecksum(t *testing.T) {
	if testing.Short() {
		t.Skip("periodic interval test sleeps for seconds")
	}

	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	// No backend events at all: detection relies on the interval timer.
	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(path, 1, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	writeFile(t, path, []byte("B"))
	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("expected event for %s, got %s", path, ev.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("periodic re-check never reported the change")
	}
}

func TestRemoveAllPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	c := filepath.Join(dir, "c.txt")
	writeFile(t, a, []byte("A"))
	writeFile(t, c, []byte("C"))

	b := newFakeBackend()
	w := newTestWatcher(t, b)
	if err := w.AddPath(a, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}
	if err := w.AddPath(c, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}
	if got := len(w.Paths()); got != 2 {
		t.Fatalf("expected 2 tracked paths, got %d", got)
	}

	w.RemoveAllPaths()
	if got := len(w.Paths()); got != 0 {
		t.Errorf("expected 0 tracked paths, got %d", got)
	}
	if b.subscribed(a) || b.subscribed(c) {
		t.Error("RemoveAllPaths should unsubscribe everything")
	}
}

func TestClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, []byte("A"))

	b := newFakeBackend()
	w, err := New(Config{Backend: b})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.AddPath(path, 0, -1); err != nil {
		t.Fatalf("AddPath failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.subscribed(path) {
		t.Error("Close should unsubscribe tracked paths")
	}
	if err := w.AddPath(path, 0, -1); !errors.Is(err, ErrClosed) {
		t.Errorf("AddPath after Close should return ErrClosed, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close should return ErrClosed, got %v", err)
	}

	// The events channel is closed.
	if _, ok := <-w.Events(); ok {
		t.Error("events channel should be closed after Close")
	}
}
