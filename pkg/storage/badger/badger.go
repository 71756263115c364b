package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
)

// headerSize is the expiry prefix of every stored value:
// [unix seconds (8 bytes)][nanoseconds (4 bytes)][payload]
const headerSize = 12

// ErrCorruptRecord is returned when a stored value is shorter than its header
var ErrCorruptRecord = errors.New("corrupt cache record")

// Store implements storage.Store using BadgerDB (LSM tree)
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits, the cache is small and mostly hot
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the record stored under key
func (s *Store) Get(ctx context.Context, key string) (storage.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, false, err
	}

	type getResult struct {
		rec storage.Record
		ok  bool
		err error
	}
	done := make(chan getResult, 1)

	go func() {
		var res getResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return fmt.Errorf("key %q: %w", key, err)
				}
				res.rec = rec
				res.ok = true
				return nil
			})
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.rec, res.ok, res.err
	case <-ctx.Done():
		return storage.Record{}, false, fmt.Errorf("get operation cancelled: %w", ctx.Err())
	}
}

// Put stores value under key
func (s *Store) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(key), encodeRecord(value, expiresAt)); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("put operation cancelled: %w", ctx.Err())
	}
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// DeleteAllWithPrefix removes every key starting with prefix
func (s *Store) DeleteAllWithPrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteWhere(ctx, []byte(prefix), false, func(_, _ []byte) bool { return true })
}

// DeleteExpired removes every record for which expired returns true
func (s *Store) DeleteExpired(ctx context.Context, expired func(string, time.Time) bool) (int, error) {
	return s.deleteWhere(ctx, nil, true, func(key, val []byte) bool {
		rec, err := decodeRecord(val)
		// Corrupt records can never be served, sweep them too
		return err != nil || expired(string(key), rec.ExpiresAt)
	})
}

// deleteWhere scans keys under prefix, collects matches in a read-only
// transaction, then removes them with a write batch so large sweeps do not
// exceed the transaction size limit.
func (s *Store) deleteWhere(ctx context.Context, prefix []byte, needValues bool, match func(key, val []byte) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type deleteResult struct {
		deleted int
		err     error
	}
	done := make(chan deleteResult, 1)

	go func() {
		var keysToDelete [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = needValues
			iterOpts.Prefix = prefix

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var iterCount int
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				iterCount++

				// Check context periodically (every 1000 iterations)
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				matched := true
				if needValues {
					if err := item.Value(func(val []byte) error {
						matched = match(item.Key(), val)
						return nil
					}); err != nil {
						return err
					}
				}
				if matched {
					keysToDelete = append(keysToDelete, item.KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			done <- deleteResult{err: err}
			return
		}

		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				done <- deleteResult{err: fmt.Errorf("failed to delete record: %w", err)}
				return
			}
		}
		if err := wb.Flush(); err != nil {
			done <- deleteResult{err: fmt.Errorf("failed to flush deletes: %w", err)}
			return
		}
		done <- deleteResult{deleted: len(keysToDelete)}
	}()

	select {
	case res := <-done:
		return res.deleted, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when nothing needed collecting
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Size returns the LSM and value log sizes in bytes
func (s *Store) Size() (lsm, vlog int64) {
	return s.db.Size()
}

func encodeRecord(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(expiresAt.Unix()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(expiresAt.Nanosecond()))
	copy(buf[headerSize:], value)
	return buf
}

// decodeRecord copies val, badger reuses the buffer after Value returns
func decodeRecord(val []byte) (storage.Record, error) {
	if len(val) < headerSize {
		return storage.Record{}, ErrCorruptRecord
	}
	sec := int64(binary.BigEndian.Uint64(val[0:8]))
	nsec := int64(binary.BigEndian.Uint32(val[8:12]))

	value := make([]byte, len(val)-headerSize)
	copy(value, val[headerSize:])

	return storage.Record{
		Value:     value,
		ExpiresAt: time.Unix(sec, nsec).UTC(),
	}, nil
}
