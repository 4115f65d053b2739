package watch

import (
	"bytes"
	"time"
)

// pathWatch owns the full detection state for one watched path. All fields
// are owned by the watcher's control loop; nothing here is safe to touch
// from another goroutine.
type pathWatch struct {
	path     string
	sum      []byte
	limit    int64 // checksum prefix limit in bytes; <= 0 hashes everything
	interval time.Duration

	// gen invalidates in-flight work: every async checksum submission and
	// scheduled timer carries the generation it was created under, and is
	// discarded on completion if the watch has been reset or removed since.
	gen uint64

	paused          bool
	checking        bool
	debouncePending bool
	ignoreWindow    bool

	periodic *time.Timer
}

// startWatch (re)initializes pw: any previous state is discarded, the
// initial checksum is computed synchronously, and the periodic re-check
// timer is armed when an interval is given.
func (w *Watcher) startWatch(pw *pathWatch, intervalSec, sizeLimitKB int) {
	w.stopWatch(pw)

	pw.limit = int64(sizeLimitKB) * 1024
	pw.interval = time.Duration(intervalSec) * time.Second
	pw.sum = w.engine.SumOrLast(pw.path, pw.limit, nil)
	w.armPeriodic(pw)
}

// stopWatch cancels timers and invalidates any in-flight checksum.
func (w *Watcher) stopWatch(pw *pathWatch) {
	if pw.periodic != nil {
		pw.periodic.Stop()
		pw.periodic = nil
	}
	pw.gen++
	pw.sum = nil
	pw.paused = false
	pw.checking = false
	pw.debouncePending = false
	pw.ignoreWindow = false
}

func (w *Watcher) armPeriodic(pw *pathWatch) {
	if pw.interval <= 0 {
		return
	}
	gen := pw.gen
	pw.periodic = time.AfterFunc(pw.interval, func() {
		w.post(func() {
			if !w.valid(pw, gen) {
				return
			}
			w.armPeriodic(pw)
			w.handleHint(pw)
		})
	})
}

// handleHint processes one raw change hint (backend event or periodic
// timer). Hints are dropped while the watch is paused, while a checksum is
// already in flight, while a notification is pending, and during the
// post-resume ignore window; OS backends routinely deliver several events
// for a single logical write, and the gate collapses them.
func (w *Watcher) handleHint(pw *pathWatch) {
	if pw.paused || pw.checking || pw.debouncePending || pw.ignoreWindow {
		return
	}

	pw.checking = true
	gen := pw.gen
	path, limit, last := pw.path, pw.limit, pw.sum
	w.runner.Run(func() {
		sum := w.engine.SumOrLast(path, limit, last)
		w.post(func() {
			w.completeCheck(pw, gen, sum)
		})
	})
}

// completeCheck applies an async checksum result on the control loop.
func (w *Watcher) completeCheck(pw *pathWatch, gen uint64, sum []byte) {
	if !w.valid(pw, gen) {
		// The watch was removed or reset while the checksum was in
		// flight; the result no longer applies to anything.
		return
	}

	pw.checking = false
	if bytes.Equal(sum, pw.sum) {
		return
	}
	pw.sum = sum

	// The owner announced it is writing the file itself; remember the new
	// content but do not notify.
	if pw.paused {
		return
	}

	pw.debouncePending = true
	w.schedule(func() {
		w.emitChange(pw, gen)
	})
}

// emitChange fires the debounced notification. It runs one control-loop
// turn after the checksum mismatch was observed, so every further hint from
// the same burst has already been absorbed by the gate.
func (w *Watcher) emitChange(pw *pathWatch, gen uint64) {
	if !w.valid(pw, gen) || !pw.debouncePending {
		return
	}
	pw.debouncePending = false

	ev := Event{
		Path:     pw.path,
		Checksum: append([]byte(nil), pw.sum...),
		At:       time.Now(),
	}
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *Watcher) pauseWatch(pw *pathWatch) {
	pw.paused = true
	pw.debouncePending = false
	pw.ignoreWindow = false
}

// resumeWatch leaves the paused state through a one-turn ignore window, so
// that events caused by the pausing party's own writes, already delivered
// but not yet routed, are still suppressed.
func (w *Watcher) resumeWatch(pw *pathWatch) {
	if !pw.paused {
		return
	}
	pw.paused = false
	pw.ignoreWindow = true

	gen := pw.gen
	w.schedule(func() {
		if !w.valid(pw, gen) {
			return
		}
		pw.ignoreWindow = false
	})
}

// sameChecksum recomputes the fingerprint and compares it to the stored
// one. Unreadable files compare equal: the fallback digest is the stored
// digest.
func (w *Watcher) sameChecksum(pw *pathWatch) bool {
	return bytes.Equal(w.engine.SumOrLast(pw.path, pw.limit, pw.sum), pw.sum)
}

// valid reports whether pw is still the registered watch for its path and
// has not been reset since gen was captured.
func (w *Watcher) valid(pw *pathWatch, gen uint64) bool {
	cur, ok := w.watches[pw.path]
	return ok && cur == pw && pw.gen == gen
}
