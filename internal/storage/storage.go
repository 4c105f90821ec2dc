package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when a key has never been saved.
var ErrNotFound = errors.New("mirror key not found")

// Mirror is a best-effort, write-through durable copy of in-memory state.
// Values are opaque JSON documents keyed by "<prefix><id>".
type Mirror interface {
	// Load returns the stored value for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Clear removes key. Clearing a missing key is not an error.
	Clear(ctx context.Context, key string) error

	// Keys lists stored keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend.
	Close() error
}
