package backend

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Auto is a Backend that routes each subscription to native notification or
// to the poller, decided per path at subscribe time by probing the
// filesystem it lives on. Network mounts get the poller; everything else
// gets fsnotify.
type Auto struct {
	native Backend
	poller Backend

	mu     sync.Mutex
	routes map[string]Backend

	events chan string
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	// probe is swappable for tests.
	probe func(string) bool
}

// NewAuto creates an Auto backend. pollInterval configures the fallback
// poller; a non-positive value selects DefaultPollInterval.
func NewAuto(pollInterval time.Duration) (*Auto, error) {
	native, err := NewNotify()
	if err != nil {
		return nil, err
	}

	a := &Auto{
		native: native,
		poller: NewPoller(pollInterval),
		routes: make(map[string]Backend),
		events: make(chan string, 64),
		errors: make(chan error, 8),
		done:   make(chan struct{}),
		probe:  networkMount,
	}

	a.wg.Add(2)
	go a.forward(a.native)
	go a.forward(a.poller)

	return a, nil
}

// Subscribe routes path to the appropriate backend.
func (a *Auto) Subscribe(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("backend: resolve %s: %w", path, err)
	}

	a.mu.Lock()
	if _, ok := a.routes[abs]; ok {
		a.mu.Unlock()
		return nil
	}
	target := a.native
	if a.probe(abs) {
		target = a.poller
	}
	a.routes[abs] = target
	a.mu.Unlock()

	if err := target.Subscribe(abs); err != nil {
		a.mu.Lock()
		delete(a.routes, abs)
		a.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe removes path from whichever backend owns it.
func (a *Auto) Unsubscribe(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("backend: resolve %s: %w", path, err)
	}

	a.mu.Lock()
	target, ok := a.routes[abs]
	delete(a.routes, abs)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	return target.Unsubscribe(abs)
}

// Events returns the merged channel of changed paths.
func (a *Auto) Events() <-chan string {
	return a.events
}

// Errors returns the merged channel of backend errors.
func (a *Auto) Errors() <-chan error {
	return a.errors
}

// Close shuts down both underlying backends.
func (a *Auto) Close() error {
	nativeErr := a.native.Close()
	pollerErr := a.poller.Close()
	close(a.done)
	a.wg.Wait()
	close(a.events)
	close(a.errors)
	if nativeErr != nil {
		return nativeErr
	}
	return pollerErr
}

func (a *Auto) forward(b Backend) {
	defer a.wg.Done()

	events, errors := b.Events(), b.Errors()
	for events != nil || errors != nil {
		select {
		case path, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			select {
			case a.events <- path:
			case <-a.done:
				return
			}
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			select {
			case a.errors <- err:
			default:
			}
		}
	}
}
