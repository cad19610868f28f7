package blob

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefix for blob entries. A single-byte prefix keeps the keyspace open
// for future record types without a migration.
const prefixBlob = byte(0x01)

// BadgerStore is a persistent blob store backed by BadgerDB.
//
// Each blob is one key/value pair, written in its own transaction, so a
// snapshot write is atomic: after a crash the store holds either the old or
// the new snapshot, never a mix.
//
// Example:
//
//	store, err := blob.NewBadgerStore(blob.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.Write(ctx, "knowledge/graph.json", payload)
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	closed bool
}

// BadgerOptions configures the BadgerDB blob store.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB without disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// NewBadgerStore opens a BadgerDB-backed blob store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, ErrInvalidPath
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Read returns the blob stored at path.
func (s *BadgerStore) Read(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	if s.isClosed() {
		return "", ErrStoreClosed
	}

	var data string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return data, nil
}

// Write stores data at path in a single transaction.
func (s *BadgerStore) Write(ctx context.Context, path string, data string) error {
	if path == "" {
		return ErrInvalidPath
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(path), []byte(data))
	})
}

// Delete removes the blob at path. Missing paths are a no-op.
func (s *BadgerStore) Delete(ctx context.Context, path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blobKey(path))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close closes the underlying BadgerDB. Idempotent.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// blobKey maps a blob path to its BadgerDB key.
func blobKey(path string) []byte {
	key := make([]byte, 0, len(path)+1)
	key = append(key, prefixBlob)
	return append(key, path...)
}

var _ Store = (*BadgerStore)(nil)
