// Package watch implements the file-watch coordination engine: it
// multiplexes raw change hints from an OS-event backend across a set of
// watched paths, verifies suspected changes by content checksum, debounces
// notification bursts, and supports pause/resume around the application's
// own writes.
//
// A single control goroutine owns all registry and per-path state. Public
// methods post closures into that loop and wait for the reply; checksum
// computation is the only work that leaves the loop, via the Runner
// boundary, and its result is posted back. Per path, at most one checksum
// computation is in flight at any time.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"filewatchd/internal/backend"
	"filewatchd/internal/checksum"
)

// ErrClosed is returned by operations on a closed watcher.
var ErrClosed = errors.New("watch: watcher is closed")

// Event is one debounced change notification: the content of Path no longer
// matches the previously known fingerprint.
type Event struct {
	Path     string
	Checksum []byte
	At       time.Time
}

// Config configures a Watcher. Backend is required; everything else has a
// usable default.
type Config struct {
	// Backend supplies raw "path possibly changed" hints.
	Backend backend.Backend

	// Checksums computes content fingerprints. Defaults to a SHA-256
	// engine over the OS filesystem.
	Checksums *checksum.Engine

	// Runner executes checksum computations off the control loop.
	// Defaults to one goroutine per computation.
	Runner Runner

	// Logger receives backend errors and routing diagnostics. Defaults
	// to slog.Default.
	Logger *slog.Logger
}

// Watcher is the registry of watched paths and the owner of the control
// loop. Create one with New, consume Events, and Close it when done; the
// backend is not closed by the watcher.
type Watcher struct {
	backend backend.Backend
	engine  *checksum.Engine
	runner  Runner
	log     *slog.Logger

	calls  chan func()
	events chan Event
	done   chan struct{}
	closed chan struct{}

	// Control-loop state. Only the loop goroutine touches these.
	watches map[string]*pathWatch
	queue   []func()
}

// New creates a Watcher and starts its control loop.
func New(cfg Config) (*Watcher, error) {
	if cfg.Backend == nil {
		return nil, errors.New("watch: config requires a backend")
	}
	engine := cfg.Checksums
	if engine == nil {
		var err error
		engine, err = checksum.New(checksum.SHA256)
		if err != nil {
			return nil, err
		}
	}
	runner := cfg.Runner
	if runner == nil {
		runner = goRunner{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	w := &Watcher{
		backend: cfg.Backend,
		engine:  engine,
		runner:  runner,
		log:     log,
		calls:   make(chan func(), 64),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
		watches: make(map[string]*pathWatch),
	}

	go w.loop()

	return w, nil
}

// Events returns the channel of change notifications. The channel is closed
// when the watcher is closed.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// AddPath registers path for change detection. The initial checksum is
// computed before AddPath returns. Registering an already-tracked path
// resets its watch with the new parameters.
//
// intervalSec > 0 additionally re-checks the content every intervalSec
// seconds, independent of backend events. sizeLimitKB > 0 limits
// fingerprinting to the leading sizeLimitKB kibibytes.
//
// The path itself may not exist; only a failing backend subscription (for
// example a missing parent directory) is reported as an error.
func (w *Watcher) AddPath(path string, intervalSec, sizeLimitKB int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: resolve %s: %w", path, err)
	}

	var addErr error
	if !w.call(func() {
		pw, ok := w.watches[abs]
		if !ok {
			if err := w.backend.Subscribe(abs); err != nil {
				addErr = err
				return
			}
			pw = &pathWatch{path: abs}
			w.watches[abs] = pw
		}
		w.startWatch(pw, intervalSec, sizeLimitKB)
	}) {
		return ErrClosed
	}
	return addErr
}

// RemovePath unregisters path. Removing an untracked path is a no-op. A
// checksum still in flight for the path is discarded when it completes.
func (w *Watcher) RemovePath(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.call(func() {
		w.removeLocked(abs)
	})
}

// RemoveAllPaths unregisters every tracked path.
func (w *Watcher) RemoveAllPaths() {
	w.call(func() {
		for path := range w.watches {
			w.removeLocked(path)
		}
	})
}

// removeLocked runs on the control loop.
func (w *Watcher) removeLocked(path string) {
	pw, ok := w.watches[path]
	if !ok {
		return
	}
	if err := w.backend.Unsubscribe(path); err != nil {
		w.log.Warn("unsubscribe failed", "path", path, "error", err)
	}
	w.stopWatch(pw)
	delete(w.watches, path)
}

// HasSameChecksum recomputes the fingerprint of path and compares it to the
// stored one. Untracked paths report false: unchanged cannot be confirmed.
func (w *Watcher) HasSameChecksum(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	var same bool
	w.call(func() {
		if pw, ok := w.watches[abs]; ok {
			same = w.sameChecksum(pw)
		}
	})
	return same
}

// Pause suppresses change notifications for every tracked path, typically
// because the application is about to write the files itself.
func (w *Watcher) Pause() {
	w.call(func() {
		for _, pw := range w.watches {
			w.pauseWatch(pw)
		}
	})
}

// Resume lifts a Pause. Backend events already delivered at the time of the
// call are still suppressed by a short ignore window.
func (w *Watcher) Resume() {
	w.call(func() {
		for _, pw := range w.watches {
			w.resumeWatch(pw)
		}
	})
}

// Paths returns the tracked paths in no particular order.
func (w *Watcher) Paths() []string {
	var paths []string
	w.call(func() {
		paths = make([]string, 0, len(w.watches))
		for path := range w.watches {
			paths = append(paths, path)
		}
	})
	return paths
}

// Close unregisters all paths and stops the control loop. The backend is
// left open; it belongs to the caller.
func (w *Watcher) Close() error {
	if !w.call(func() {
		for path := range w.watches {
			w.removeLocked(path)
		}
	}) {
		return ErrClosed
	}
	close(w.done)
	<-w.closed
	close(w.events)
	return nil
}

// post submits fn to the control loop without waiting.
func (w *Watcher) post(fn func()) {
	select {
	case w.calls <- fn:
	case <-w.done:
	}
}

// call submits fn and waits for it to run. It reports false when the
// watcher is closed before fn could run.
func (w *Watcher) call(fn func()) bool {
	ran := make(chan struct{})
	select {
	case w.calls <- func() { fn(); close(ran) }:
	case <-w.done:
		return false
	}
	select {
	case <-ran:
		return true
	case <-w.done:
		return false
	}
}

// schedule appends fn to the loop-owned work queue, to run on a later
// control-loop turn, after everything submitted before it. Only the loop
// goroutine may call it; because the queue is a plain slice, scheduling can
// never block the loop against itself.
func (w *Watcher) schedule(fn func()) {
	w.queue = append(w.queue, fn)
}

// loop is the control goroutine: it owns all watch state, serves posted
// calls, routes backend events, and runs scheduled turns. Work already
// delivered on a channel runs before scheduled turns, so a turn really is
// "after everything pending right now".
func (w *Watcher) loop() {
	defer close(w.closed)

	backendEvents := w.backend.Events()
	backendErrors := w.backend.Errors()

	for {
		if len(w.queue) > 0 {
			select {
			case <-w.done:
				return
			case fn := <-w.calls:
				fn()
				continue
			case path, ok := <-backendEvents:
				if !ok {
					backendEvents = nil
					continue
				}
				w.route(path)
				continue
			case err, ok := <-backendErrors:
				if !ok {
					backendErrors = nil
					continue
				}
				w.log.Warn("backend error", "error", err)
				continue
			default:
			}

			fn := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			fn()
			continue
		}

		select {
		case <-w.done:
			return
		case fn := <-w.calls:
			fn()
		case path, ok := <-backendEvents:
			if !ok {
				backendEvents = nil
			} else {
				w.route(path)
			}
		case err, ok := <-backendErrors:
			if !ok {
				backendErrors = nil
			} else {
				w.log.Warn("backend error", "error", err)
			}
		}
	}
}

// route forwards one backend event to the matching watch. Events for
// untracked paths are dropped: the backend may still be draining events for
// a path that was just removed.
func (w *Watcher) route(path string) {
	pw, ok := w.watches[filepath.Clean(path)]
	if !ok {
		w.log.Debug("event for untracked path", "path", path)
		return
	}
	w.handleHint(pw)
}
