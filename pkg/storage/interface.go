package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store is closed")

// Store defines the durable key-value contract the cache persists through.
// Implementations: memory (testing, CLI), badger (production)
type Store interface {
	// Get returns the record for key, or ok=false if absent
	Get(ctx context.Context, key string) (rec Record, ok bool, err error)

	// Put stores value under key with the given expiry
	Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// DeleteAllWithPrefix removes every key starting with prefix
	DeleteAllWithPrefix(ctx context.Context, prefix string) (int, error)

	// DeleteExpired removes every record for which expired returns true
	DeleteExpired(ctx context.Context, expired func(key string, expiresAt time.Time) bool) (int, error)

	// Close cleanly shuts down the store
	Close() error
}

// Record is one persisted cache entry
type Record struct {
	Value     []byte
	ExpiresAt time.Time
}
