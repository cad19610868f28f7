// Package blob provides the text-blob persistence backends for Muninn.
//
// The knowledge store and rule engine snapshot their full state as JSON text
// blobs addressed by path. The blob layer intentionally knows nothing about
// the data it carries: it is a "read text by path / write text by path"
// service, so hosts can swap the backend without touching the core.
//
// Implementations:
//   - MemoryStore: In-memory map for testing
//   - FSStore: Plain files with atomic rename on write
//   - BadgerStore: Persistent disk storage using BadgerDB
//
// Example Usage:
//
//	store, err := blob.NewBadgerStore(blob.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := store.Write(ctx, "knowledge/graph.json", payload); err != nil {
//		log.Printf("persist failed: %v", err)
//	}
//
//	data, err := store.Read(ctx, "knowledge/graph.json")
//	if errors.Is(err, blob.ErrNotFound) {
//		// first run, start empty
//	}
package blob

import (
	"context"
	"errors"
	"sync"
)

// Common errors
var (
	ErrNotFound    = errors.New("blob: not found")
	ErrInvalidPath = errors.New("blob: invalid path")
	ErrStoreClosed = errors.New("blob: store closed")
)

// Store is the generic text-blob persistence collaborator.
//
// All implementations MUST be safe for concurrent use. Read returns
// ErrNotFound for paths that have never been written; Write replaces the
// whole blob (no partial updates).
type Store interface {
	// Read returns the blob stored at path.
	Read(ctx context.Context, path string) (string, error)

	// Write stores data at path, replacing any previous blob.
	Write(ctx context.Context, path string, data string) error

	// Delete removes the blob at path. Deleting a missing path is a no-op.
	Delete(ctx context.Context, path string) error

	// Close releases backend resources.
	Close() error
}

// MemoryStore is an in-memory blob store for tests and ephemeral hosts.
//
// Data is lost when the process exits. All operations are O(1).
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string]string
	closed bool
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]string)}
}

// Read returns the blob stored at path.
func (m *MemoryStore) Read(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrStoreClosed
	}
	data, ok := m.blobs[path]
	if !ok {
		return "", ErrNotFound
	}
	return data, nil
}

// Write stores data at path.
func (m *MemoryStore) Write(ctx context.Context, path string, data string) error {
	if path == "" {
		return ErrInvalidPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.blobs[path] = data
	return nil
}

// Delete removes the blob at path.
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	if path == "" {
		return ErrInvalidPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.blobs, path)
	return nil
}

// Close marks the store closed. Idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.blobs = nil
	return nil
}

// Verify implementations satisfy Store
var _ Store = (*MemoryStore)(nil)
