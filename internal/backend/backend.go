// Package backend abstracts the source of raw "path possibly changed"
// events consumed by the watch engine.
//
// A backend reports path-level events with no ordering or deduplication
// guarantee; false positives are expected and false negatives are possible
// (notably on network mounts). The watch engine layers checksum verification
// and debouncing on top, so a backend only has to be approximately right.
//
// Three implementations are provided: Notify (fsnotify), Poller (interval
// stat scan), and Auto, which routes each subscription to one of the two
// based on the filesystem type the path lives on.
package backend

// Backend delivers raw change hints for subscribed paths.
//
// Subscribe returns an error when the backend cannot observe the path at
// all (for Notify, the parent directory is missing or unreadable); the
// caller decides whether to retry. Unsubscribe of an unknown path is a
// no-op. Events carries cleaned absolute paths as passed to Subscribe.
type Backend interface {
	Subscribe(path string) error
	Unsubscribe(path string) error
	Events() <-chan string
	Errors() <-chan error
	Close() error
}
