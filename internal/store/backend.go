package store

import (
	"context"
	"errors"
)

// JournalRetention is how many write-ahead entries a journaling backend keeps
const JournalRetention = 1000

var (
	// ErrKeyNotFound means the backend answered but holds nothing under the key
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnsupported means the backend does not serve the key at all
	ErrUnsupported = errors.New("key not served by backend")
)

// Backend is one storage tier behind the Gateway. Commit must apply every put
// of a batch or none of them.
type Backend interface {
	Name() string
	// Authoritative backends are never written to by cache warming or seeding
	Authoritative() bool
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Commit(ctx context.Context, batch *Batch) error
	Close() error
}

// Journaler is a backend that keeps its applied batches
type Journaler interface {
	// Journal returns up to limit entries, newest first
	Journal(ctx context.Context, limit int) ([]*Batch, error)
}
