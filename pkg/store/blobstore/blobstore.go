// Package blobstore is a content-addressed store for channel attachments:
// each blob lives at a path derived from the sha256 of its bytes, so
// identical attachments received twice (common with forwarded media) are
// written once.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store roots every blob under a single directory, sharded two levels
// deep by the first four hex characters of its hash to keep any one
// directory from growing unbounded.
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// Put streams r to disk, returning the content hash and the size written.
// If a blob with the same hash already exists, the read is still fully
// drained (so the caller's source is consumed exactly once) but nothing
// new is written.
func (s *Store) Put(r io.Reader) (hash string, size int64, err error) {
	tmp, err := os.CreateTemp(s.root, "blob-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp blob: %w", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	dest := s.pathFor(sum)

	if _, err := os.Stat(dest); err == nil {
		return sum, n, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob shard dir: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", 0, fmt.Errorf("commit blob: %w", err)
	}
	return sum, n, nil
}

// Open opens a previously stored blob for reading by its hash.
func (s *Store) Open(hash string) (*os.File, error) {
	f, err := os.Open(s.pathFor(hash))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", hash, err)
	}
	return f, nil
}

// Path returns the on-disk location of a blob, for handing to the
// sandbox's file mount or a channel adapter's upload call.
func (s *Store) Path(hash string) string {
	return s.pathFor(hash)
}

func (s *Store) pathFor(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash[2:4], hash)
}
