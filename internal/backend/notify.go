package backend

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Notify is a Backend built on OS-native filesystem notifications.
//
// Individual files are observed by watching their parent directory: editors
// commonly replace a file via rename, which would silently drop a direct
// file watch. Directories are reference-counted across subscriptions.
type Notify struct {
	fw *fsnotify.Watcher

	mu    sync.Mutex
	paths map[string]struct{}
	dirs  map[string]int

	events chan string
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewNotify creates a Notify backend and starts its event loop.
func NewNotify() (*Notify, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("backend: create fsnotify watcher: %w", err)
	}

	n := &Notify{
		fw:     fw,
		paths:  make(map[string]struct{}),
		dirs:   make(map[string]int),
		events: make(chan string, 64),
		errors: make(chan error, 8),
		done:   make(chan struct{}),
	}

	n.wg.Add(1)
	go n.loop()

	return n, nil
}

// Subscribe starts observing path. The parent directory must exist.
func (n *Notify) Subscribe(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("backend: resolve %s: %w", path, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.paths[abs]; ok {
		return nil
	}

	dir := filepath.Dir(abs)
	if n.dirs[dir] == 0 {
		if err := n.fw.Add(dir); err != nil {
			return fmt.Errorf("backend: watch %s: %w", dir, err)
		}
	}
	n.dirs[dir]++
	n.paths[abs] = struct{}{}
	return nil
}

// Unsubscribe stops observing path. Unknown paths are ignored.
func (n *Notify) Unsubscribe(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("backend: resolve %s: %w", path, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.paths[abs]; !ok {
		return nil
	}
	delete(n.paths, abs)

	dir := filepath.Dir(abs)
	n.dirs[dir]--
	if n.dirs[dir] <= 0 {
		delete(n.dirs, dir)
		// The directory may already be gone; the watch died with it.
		_ = n.fw.Remove(dir)
	}
	return nil
}

// Events returns the channel of changed paths.
func (n *Notify) Events() <-chan string {
	return n.events
}

// Errors returns the channel of backend errors.
func (n *Notify) Errors() <-chan error {
	return n.errors
}

// Close shuts the backend down and releases the OS watches.
func (n *Notify) Close() error {
	close(n.done)
	err := n.fw.Close()
	n.wg.Wait()
	close(n.events)
	close(n.errors)
	return err
}

func (n *Notify) loop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.done:
			return

		case ev, ok := <-n.fw.Events:
			if !ok {
				return
			}
			// Every op counts as a change hint, including Chmod and
			// Remove: the watch engine decides what actually changed.
			name := filepath.Clean(ev.Name)

			n.mu.Lock()
			_, subscribed := n.paths[name]
			n.mu.Unlock()
			if !subscribed {
				continue
			}

			select {
			case n.events <- name:
			case <-n.done:
				return
			}

		case err, ok := <-n.fw.Errors:
			if !ok {
				return
			}
			select {
			case n.errors <- err:
			default:
			}
		}
	}
}
