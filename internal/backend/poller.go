package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// DefaultPollInterval is used when a Poller is created with a non-positive
// interval.
const DefaultPollInterval = 2 * time.Second

type pollState struct {
	exists  bool
	size    int64
	modTime time.Time
}

// Poller is a Backend that detects changes by periodically comparing file
// size and modification time. It is the fallback for mounts where native
// notification is unreliable or unsupported.
//
// A file disappearing is not reported: on network shares, absence is
// indistinguishable from transient unreachability, and the watch engine's
// checksum fallback treats it the same way. Reappearance is reported.
type Poller struct {
	fs       afero.Fs
	interval time.Duration

	mu    sync.Mutex
	files map[string]pollState

	events chan string
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPoller creates a Poller over the OS filesystem.
func NewPoller(interval time.Duration) *Poller {
	return NewPollerWithFs(interval, afero.NewOsFs())
}

// NewPollerWithFs creates a Poller over the given filesystem.
func NewPollerWithFs(interval time.Duration, fs afero.Fs) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p := &Poller{
		fs:       fs,
		interval: interval,
		files:    make(map[string]pollState),
		events:   make(chan string, 64),
		errors:   make(chan error, 8),
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.loop()

	return p
}

// Subscribe starts polling path. A path that does not exist yet is accepted
// and reported once it appears.
func (p *Poller) Subscribe(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("backend: resolve %s: %w", path, err)
	}

	st, err := p.stat(abs)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.files[abs] = st
	p.mu.Unlock()
	return nil
}

// Unsubscribe stops polling path. Unknown paths are ignored.
func (p *Poller) Unsubscribe(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("backend: resolve %s: %w", path, err)
	}

	p.mu.Lock()
	delete(p.files, abs)
	p.mu.Unlock()
	return nil
}

// Events returns the channel of changed paths.
func (p *Poller) Events() <-chan string {
	return p.events
}

// Errors returns the channel of backend errors.
func (p *Poller) Errors() <-chan error {
	return p.errors
}

// Close stops the poll loop.
func (p *Poller) Close() error {
	close(p.done)
	p.wg.Wait()
	close(p.events)
	close(p.errors)
	return nil
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

func (p *Poller) scan() {
	p.mu.Lock()
	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	p.mu.Unlock()

	for _, path := range paths {
		st, err := p.stat(path)
		if err != nil {
			select {
			case p.errors <- err:
			default:
			}
			continue
		}

		p.mu.Lock()
		prev, tracked := p.files[path]
		if tracked {
			p.files[path] = st
		}
		p.mu.Unlock()

		// Unsubscribed during the scan.
		if !tracked {
			continue
		}

		if changed(prev, st) {
			select {
			case p.events <- path:
			case <-p.done:
				return
			}
		}
	}
}

func changed(prev, cur pollState) bool {
	if !cur.exists {
		return false
	}
	if !prev.exists {
		return true
	}
	return prev.size != cur.size || !prev.modTime.Equal(cur.modTime)
}

func (p *Poller) stat(path string) (pollState, error) {
	info, err := p.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pollState{}, nil
		}
		return pollState{}, fmt.Errorf("backend: stat %s: %w", path, err)
	}
	return pollState{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}
