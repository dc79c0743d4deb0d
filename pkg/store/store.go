// Package store provides the key/value entry store a node keeps its
// directory, published records and task outputs in.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// ErrNotFound is returned when a key is absent. It is a routing signal, not
// a failure.
var ErrNotFound = errors.New("entry not found")

// RecordStore is a linearizable per-key entry store.
type RecordStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open constructs the store named by backend, rooted at dataDir for
// persistent backends.
func Open(backend, dataDir string) (RecordStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if dataDir == "" {
			return nil, fmt.Errorf("sqlite store requires a data directory")
		}
		return NewSQLiteStore(filepath.Join(dataDir, "entries.db"))
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
