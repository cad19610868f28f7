package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FSStore stores blobs as plain files under a root directory.
//
// Blob paths map directly to relative file paths. Writes go through a
// temporary file and an atomic rename so a crash mid-write never leaves a
// half-written snapshot behind.
//
// Example:
//
//	store, err := blob.NewFSStore("./data")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	store.Write(ctx, "knowledge/graph.json", payload)
//	// -> ./data/knowledge/graph.json
type FSStore struct {
	root   string
	mu     sync.Mutex
	closed bool
}

// NewFSStore creates a filesystem blob store rooted at dir.
// The directory is created if it does not exist.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, ErrInvalidPath
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: dir}, nil
}

// Read returns the blob stored at path.
func (s *FSStore) Read(ctx context.Context, path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write stores data at path via temp-file-and-rename.
func (s *FSStore) Write(ctx context.Context, path string, data string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

// Delete removes the blob at path. Missing paths are a no-op.
func (s *FSStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Close marks the store closed. Idempotent.
func (s *FSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// resolve validates a blob path and maps it under the root directory.
// Paths escaping the root (".." traversal, absolute paths) are rejected.
func (s *FSStore) resolve(path string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrStoreClosed
	}

	if path == "" || filepath.IsAbs(path) {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, clean), nil
}

var _ Store = (*FSStore)(nil)
