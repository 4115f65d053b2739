// Package attach is an in-memory store of named binary attachments with
// temp-file export and secure cleanup.
//
// An attachment can be exported to a temporary file so an external program
// can open it; exported copies are registered with the watch engine so
// external edits are detected, and Clear scrubs every exported copy with
// random data before deleting it.
package attach

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"filewatchd/internal/watch"
)

// ErrNoKey is returned for operations on an attachment that does not exist.
var ErrNoKey = errors.New("attach: no such attachment")

// scrubBlockSize is the unit in which exported files are overwritten with
// random data before removal.
const scrubBlockSize = 128

// RandomSource fills a buffer with random bytes. The default is crypto/rand.
type RandomSource func([]byte) error

// Config configures a Store. All fields are optional.
type Config struct {
	// Watcher, when set, tracks exported temp files for external edits.
	Watcher *watch.Watcher

	// Random supplies the bytes used to scrub exported files.
	Random RandomSource

	// TempDir is where exports are created. Defaults to os.TempDir.
	TempDir string

	// OnModified is invoked after every mutation of the attachment set.
	OnModified func()
}

// Store holds named attachments and tracks their exported temp files.
type Store struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	exports    map[string]struct{}
	watcher    *watch.Watcher
	random     RandomSource
	tempDir    string
	onModified func()
}

// New creates an empty Store.
func New(cfg Config) *Store {
	random := cfg.Random
	if random == nil {
		random = func(b []byte) error {
			_, err := rand.Read(b)
			return err
		}
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Store{
		blobs:      make(map[string][]byte),
		exports:    make(map[string]struct{}),
		watcher:    cfg.Watcher,
		random:     random,
		tempDir:    tempDir,
		onModified: cfg.OnModified,
	}
}

// Keys returns the attachment names, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.blobs))
	for key := range s.blobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// HasKey reports whether an attachment named key exists.
func (s *Store) HasKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

// Value returns a copy of the attachment content, or nil if absent.
func (s *Store) Value(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out
}

// Set stores content under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) {
	s.mu.Lock()
	prev, existed := s.blobs[key]
	changed := !existed || !bytes.Equal(prev, value)
	if changed {
		s.blobs[key] = append([]byte(nil), value...)
	}
	s.mu.Unlock()

	if changed {
		s.notifyModified()
	}
}

// Remove deletes the attachment named key.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	_, ok := s.blobs[key]
	delete(s.blobs, key)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKey, key)
	}
	s.notifyModified()
	return nil
}

// RemoveKeys deletes several attachments; unknown keys are skipped.
func (s *Store) RemoveKeys(keys []string) {
	if len(keys) == 0 {
		return
	}

	s.mu.Lock()
	removed := false
	for _, key := range keys {
		if _, ok := s.blobs[key]; ok {
			delete(s.blobs, key)
			removed = true
		}
	}
	s.mu.Unlock()

	if removed {
		s.notifyModified()
	}
}

// Rename moves the attachment under key to newKey.
func (s *Store) Rename(key, newKey string) error {
	s.mu.Lock()
	blob, ok := s.blobs[key]
	if ok {
		delete(s.blobs, key)
		s.blobs[newKey] = blob
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKey, key)
	}
	s.notifyModified()
	return nil
}

// IsEmpty reports whether the store holds no attachments.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs) == 0
}

// TotalSize returns the combined size of all names and contents in bytes.
func (s *Store) TotalSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := 0
	for key, blob := range s.blobs {
		size += len(key) + len(blob)
	}
	return size
}

// Equal reports whether both stores hold the same attachments.
func (s *Store) Equal(other *Store) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if len(s.blobs) != len(other.blobs) {
		return false
	}
	for key, blob := range s.blobs {
		if !bytes.Equal(blob, other.blobs[key]) {
			return false
		}
	}
	return true
}

// CopyFrom replaces the attachment set with a copy of other's.
func (s *Store) CopyFrom(other *Store) {
	if s.Equal(other) {
		return
	}

	other.mu.Lock()
	blobs := make(map[string][]byte, len(other.blobs))
	for key, blob := range other.blobs {
		blobs[key] = append([]byte(nil), blob...)
	}
	other.mu.Unlock()

	s.mu.Lock()
	s.blobs = blobs
	s.mu.Unlock()

	s.notifyModified()
}

// Export writes the attachment to a randomly named temp file, keeping the
// key's extension so the OS picks a sensible handler, and registers it with
// the watcher. The caller owns opening the file; the store owns deleting it
// on Clear.
func (s *Store) Export(key string) (string, error) {
	blob := s.Value(key)
	if blob == nil {
		return "", fmt.Errorf("%w: %s", ErrNoKey, key)
	}

	name, err := s.randomName(key)
	if err != nil {
		return "", fmt.Errorf("attach: name export for %s: %w", key, err)
	}
	path := filepath.Join(s.tempDir, name)

	if err := os.WriteFile(path, blob, 0600); err != nil {
		return "", fmt.Errorf("attach: export %s: %w", key, err)
	}

	if s.watcher != nil {
		if err := s.watcher.AddPath(path, 0, -1); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("attach: watch export of %s: %w", key, err)
		}
	}

	s.mu.Lock()
	s.exports[path] = struct{}{}
	s.mu.Unlock()

	return path, nil
}

// Exports returns the paths of all live exported copies, sorted.
func (s *Store) Exports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.exports))
	for path := range s.exports {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Clear removes every attachment and scrubs every exported copy: each file
// is overwritten with random data and then deleted, and its watch removed.
func (s *Store) Clear() error {
	s.mu.Lock()
	if len(s.blobs) == 0 && len(s.exports) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.blobs = make(map[string][]byte)
	exports := make([]string, 0, len(s.exports))
	for path := range s.exports {
		exports = append(exports, path)
	}
	s.exports = make(map[string]struct{})
	s.mu.Unlock()

	var firstErr error
	for _, path := range exports {
		if err := s.scrub(path); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		if s.watcher != nil {
			s.watcher.RemovePath(path)
		}
	}

	s.notifyModified()
	return firstErr
}

// scrub overwrites path with random data, block by block, past its current
// end so the final partial block is covered too.
func (s *Store) scrub(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("attach: scrub %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("attach: scrub %s: %w", path, err)
	}

	block := make([]byte, scrubBlockSize)
	for i := int64(0); i < info.Size()/scrubBlockSize+1; i++ {
		if err := s.random(block); err != nil {
			return fmt.Errorf("attach: scrub %s: %w", path, err)
		}
		if _, err := f.Write(block); err != nil {
			return fmt.Errorf("attach: scrub %s: %w", path, err)
		}
	}
	return f.Sync()
}

func (s *Store) randomName(key string) (string, error) {
	buf := make([]byte, 6)
	if err := s.random(buf); err != nil {
		return "", err
	}
	name := hex.EncodeToString(buf)
	if i := strings.LastIndex(key, "."); i >= 0 && i < len(key)-1 {
		name += key[i:]
	}
	return name, nil
}

func (s *Store) notifyModified() {
	if s.onModified != nil {
		s.onModified()
	}
}
