// Package checksum computes content fingerprints for watched files.
//
// A fingerprint is a 256-bit digest of a file's content, optionally limited
// to a leading byte prefix so that very large files can be watched without
// reading them in full. The engine is stateless after construction and safe
// to call from any goroutine.
package checksum

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

// Algorithm selects the hash function used for fingerprints.
type Algorithm string

// Supported algorithms. Both produce 256-bit digests.
const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// Size is the digest length in bytes for every supported algorithm.
const Size = 32

// Engine computes file fingerprints with a fixed algorithm.
type Engine struct {
	fs  afero.Fs
	alg Algorithm
}

// New creates an engine that reads from the OS filesystem.
func New(alg Algorithm) (*Engine, error) {
	return NewWithFs(alg, afero.NewOsFs())
}

// NewWithFs creates an engine reading from the given filesystem.
func NewWithFs(alg Algorithm, fs afero.Fs) (*Engine, error) {
	switch alg {
	case SHA256, BLAKE2b:
	case "":
		alg = SHA256
	default:
		return nil, fmt.Errorf("checksum: unknown algorithm %q", alg)
	}
	return &Engine{fs: fs, alg: alg}, nil
}

// Algorithm returns the algorithm this engine was built with.
func (e *Engine) Algorithm() Algorithm {
	return e.alg
}

// Sum computes the fingerprint of the file at path. If limit is positive,
// only the first limit bytes are hashed; otherwise the whole file is.
func (e *Engine) Sum(path string, limit int64) ([]byte, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checksum: open %s: %w", path, err)
	}
	defer f.Close()

	h := e.newHash()
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("checksum: read %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// SumOrLast computes the fingerprint of the file at path and falls back to
// the previously known digest when the file cannot be read. Reusing the last
// digest keeps transient unavailability (locked files, flaky network shares,
// deletion) from looking like a content change.
func (e *Engine) SumOrLast(path string, limit int64, last []byte) []byte {
	sum, err := e.Sum(path, limit)
	if err != nil {
		return last
	}
	return sum
}

func (e *Engine) newHash() hash.Hash {
	if e.alg == BLAKE2b {
		// Unkeyed BLAKE2b-256 cannot fail.
		h, _ := blake2b.New256(nil)
		return h
	}
	return sha256.New()
}
