/*
Package storage provides the pluggable durable key-value abstraction the
expiring cache persists through.

# Backends

  - memory: map guarded by a RWMutex, for tests and the CLI
  - badger: BadgerDB (LSM tree + Snappy compression) for the server

Both implement Store. Values are opaque bytes; the cache owns encoding.
Every record carries its own expiry so expired entries can be swept by
predicate without decoding values.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Put(ctx, "raw:2026-10-13", payload, time.Now().Add(time.Hour))

	rec, ok, err := store.Get(ctx, "raw:2026-10-13")

	// Drop every aggregate
	n, err := store.DeleteAllWithPrefix(ctx, "agg:")

# Best Practices

1. Always call Close() when done to flush pending writes
2. Use context.WithTimeout() to prevent hung sweeps
3. Namespace keys with a prefix so one cache can be purged alone
*/
package storage
