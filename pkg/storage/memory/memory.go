package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
)

// Store keeps records in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	records map[string]storage.Record
	closed  bool
	mu      sync.RWMutex
}

// New creates an in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]storage.Record),
	}
}

// Get returns a copy of the record for key
func (s *Store) Get(ctx context.Context, key string) (storage.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.Record{}, false, storage.ErrClosed
	}

	rec, ok := s.records[key]
	if !ok {
		return storage.Record{}, false, nil
	}
	return copyRecord(rec), true, nil
}

// Put stores a copy of value
func (s *Store) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	s.records[key] = copyRecord(storage.Record{Value: value, ExpiresAt: expiresAt})
	return nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	delete(s.records, key)
	return nil
}

// DeleteAllWithPrefix removes every key starting with prefix
func (s *Store) DeleteAllWithPrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteWhere(ctx, func(key string, _ storage.Record) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// DeleteExpired removes every record for which expired returns true
func (s *Store) DeleteExpired(ctx context.Context, expired func(string, time.Time) bool) (int, error) {
	return s.deleteWhere(ctx, func(key string, rec storage.Record) bool {
		return expired(key, rec.ExpiresAt)
	})
}

func (s *Store) deleteWhere(ctx context.Context, match func(string, storage.Record) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, storage.ErrClosed
	}

	deleted := 0
	for key, rec := range s.records {
		if match(key, rec) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of records, expired ones included
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close marks the store closed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRecord(rec storage.Record) storage.Record {
	value := make([]byte, len(rec.Value))
	copy(value, rec.Value)
	return storage.Record{Value: value, ExpiresAt: rec.ExpiresAt}
}
