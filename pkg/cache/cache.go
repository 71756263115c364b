package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
)

// ErrCacheWrite marks a value that was computed but could not be persisted
var ErrCacheWrite = errors.New("cache write failed")

// ComputeFunc produces the value for a missing or expired key
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Cache is a key-value cache with per-entry expiry over a durable store.
//
// # Consistency
//
// Concurrent misses for one key share a single compute through
// singleflight, so each compute cycle persists at most one write.
// Every mutation of the store (puts, lazy expiry deletes, invalidation)
// goes through one writer lock; reads never take it and may observe a
// slightly stale snapshot.
//
// Values are decoded for every caller, so callers never share references
// with each other or with the cache. When a value cannot be encoded, only
// the flight leader receives it and every other waiter computes its own.
type Cache[V any] struct {
	name   string
	prefix string
	store  storage.Store
	codec  Codec[V]
	now    func() time.Time

	computeTimeout time.Duration

	flight  singleflight.Group
	writeMu sync.Mutex

	// generation changes on every invalidation, guarded by writeMu.
	// A compute that started before an invalidation is not persisted.
	generation uint64

	hits        int64
	misses      int64
	computes    int64
	writeErrors int64
}

// DefaultComputeTimeout bounds a shared compute once it no longer follows
// the cancellation of the caller that started it
const DefaultComputeTimeout = 2 * time.Minute

type options struct {
	name           string
	prefix         string
	clock          func() time.Time
	computeTimeout time.Duration
}

// Option configures a Cache
type Option func(*options)

// WithName sets the name used in logs and metrics
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithPrefix namespaces every key of this cache in the store
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithClock overrides time.Now, for tests
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithComputeTimeout bounds every shared compute. Zero or less disables
// the bound.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.computeTimeout = d
	}
}

// New creates a cache that persists through store using codec
func New[V any](store storage.Store, codec Codec[V], opts ...Option) *Cache[V] {
	o := options{name: "default", clock: time.Now, computeTimeout: DefaultComputeTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		name:   o.name,
		prefix: o.prefix,
		store:  store,
		codec:  codec,
		now:    o.clock,

		computeTimeout: o.computeTimeout,
	}
}

// Name returns the cache name
func (c *Cache[V]) Name() string {
	return c.name
}

// Prefix returns the store namespace of this cache
func (c *Cache[V]) Prefix() string {
	return c.prefix
}

type flightResult[V any] struct {
	data   []byte
	value  V
	cached bool
}

// GetOrCompute returns the live value for key, or computes, persists, and
// returns a new one. The bool reports whether the value came from the store.
//
// The shared compute runs detached from any single caller's cancellation
// and is bounded by the compute timeout; each caller stops waiting when its
// own ctx is done. A failed compute persists nothing and its error is
// returned. A failed write is logged and counted; the computed value is
// still returned.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V], expiry Expiry) (V, bool, error) {
	var zero V
	fullKey := c.prefix + key

	// Fast path: live entry in the store
	if v, ok := c.lookup(ctx, fullKey); ok {
		atomic.AddInt64(&c.hits, 1)
		requestsTotal.WithLabelValues(c.name, "hit").Inc()
		return v, true, nil
	}

	atomic.AddInt64(&c.misses, 1)
	requestsTotal.WithLabelValues(c.name, "miss").Inc()

	// Only the caller whose closure runs leads the flight. The result is
	// received after the closure returns, so reading led needs no lock.
	led := false
	ch := c.flight.DoChan(fullKey, func() (interface{}, error) {
		led = true
		fctx, cancel := c.flightContext(ctx)
		defer cancel()
		return c.computeAndStore(fctx, fullKey, compute, expiry)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		requestsTotal.WithLabelValues(c.name, "error").Inc()
		return zero, false, fmt.Errorf("wait %s: %w", fullKey, ctx.Err())
	}
	if res.Err != nil {
		requestsTotal.WithLabelValues(c.name, "error").Inc()
		return zero, false, fmt.Errorf("compute %s: %w", fullKey, res.Err)
	}

	fr := res.Val.(flightResult[V])
	if fr.data == nil {
		if led {
			return fr.value, fr.cached, nil
		}
		// The leader's value could not be encoded, so there is no copy
		// to hand out. Compute a private one instead.
		v, err := compute(ctx)
		if err != nil {
			requestsTotal.WithLabelValues(c.name, "error").Inc()
			return zero, false, fmt.Errorf("compute %s: %w", fullKey, err)
		}
		atomic.AddInt64(&c.computes, 1)
		return v, false, nil
	}
	v, err := c.codec.Decode(fr.data)
	if err != nil {
		if led {
			return fr.value, fr.cached, nil
		}
		return zero, false, fmt.Errorf("decode shared %s: %w", fullKey, err)
	}
	return v, fr.cached, nil
}

// flightContext keeps the caller's values but not its cancellation, so one
// caller going away does not fail everyone waiting on the same flight.
func (c *Cache[V]) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.computeTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, c.computeTimeout)
}

func (c *Cache[V]) computeAndStore(ctx context.Context, fullKey string, compute ComputeFunc[V], expiry Expiry) (flightResult[V], error) {
	// Double-check: a previous flight may have written while we waited
	if data, v, ok := c.lookupData(ctx, fullKey); ok {
		return flightResult[V]{data: data, value: v, cached: true}, nil
	}

	gen := c.currentGeneration()
	start := time.Now()
	v, err := compute(ctx)
	computeDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return flightResult[V]{}, err
	}
	atomic.AddInt64(&c.computes, 1)

	data, err := c.codec.Encode(v)
	if err != nil {
		c.recordWriteFailure(fullKey, fmt.Errorf("encode: %w", err))
		return flightResult[V]{value: v}, nil
	}

	c.persist(ctx, fullKey, data, expiry.ExpiresAt(c.now()), gen)
	return flightResult[V]{data: data, value: v}, nil
}

// Get returns the live value for key without computing
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	return c.lookup(ctx, c.prefix+key)
}

// lookup reads and decodes a live record. Store failures and corrupt
// records degrade to a miss. Expired records are deleted lazily.
func (c *Cache[V]) lookup(ctx context.Context, fullKey string) (V, bool) {
	_, v, ok := c.lookupData(ctx, fullKey)
	return v, ok
}

func (c *Cache[V]) lookupData(ctx context.Context, fullKey string) ([]byte, V, bool) {
	var zero V

	rec, ok, err := c.store.Get(ctx, fullKey)
	if err != nil {
		log.Printf("Cache %s: read %s failed, recomputing: %v", c.name, fullKey, err)
		return nil, zero, false
	}
	if !ok {
		return nil, zero, false
	}

	if !live(rec.ExpiresAt, c.now()) {
		c.deleteIfExpired(ctx, fullKey)
		return nil, zero, false
	}

	v, err := c.codec.Decode(rec.Value)
	if err != nil {
		log.Printf("Cache %s: decode %s failed, recomputing: %v", c.name, fullKey, err)
		return nil, zero, false
	}
	return rec.Value, v, true
}

// deleteIfExpired re-reads under the writer lock so a fresh value written
// by a concurrent compute is never removed.
func (c *Cache[V]) deleteIfExpired(ctx context.Context, fullKey string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rec, ok, err := c.store.Get(ctx, fullKey)
	if err != nil || !ok || live(rec.ExpiresAt, c.now()) {
		return
	}
	if err := c.store.Delete(ctx, fullKey); err != nil {
		log.Printf("Cache %s: lazy delete %s failed: %v", c.name, fullKey, err)
		return
	}
	evictionsTotal.WithLabelValues(c.name, "expired").Inc()
}

func (c *Cache[V]) currentGeneration() uint64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.generation
}

func (c *Cache[V]) persist(ctx context.Context, fullKey string, data []byte, expiresAt time.Time, gen uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if gen != c.generation {
		log.Printf("Cache %s: invalidated while computing %s, not persisting", c.name, fullKey)
		return
	}

	if err := c.store.Put(ctx, fullKey, data, expiresAt); err != nil {
		c.recordWriteFailure(fullKey, err)
	}
}

func (c *Cache[V]) recordWriteFailure(fullKey string, err error) {
	atomic.AddInt64(&c.writeErrors, 1)
	writeFailures.WithLabelValues(c.name).Inc()
	log.Printf("Cache %s: %v for %s: %v", c.name, ErrCacheWrite, fullKey, err)
}

// Remove deletes one entry
func (c *Cache[V]) Remove(ctx context.Context, key string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.generation++
	if err := c.store.Delete(ctx, c.prefix+key); err != nil {
		return fmt.Errorf("remove %s%s: %w", c.prefix, key, err)
	}
	evictionsTotal.WithLabelValues(c.name, "removed").Inc()
	return nil
}

// RemoveAll deletes every entry of this cache
func (c *Cache[V]) RemoveAll(ctx context.Context) (int, error) {
	return c.RemoveAllWithPrefix(ctx, "")
}

// RemoveAllWithPrefix deletes every entry whose key starts with prefix
func (c *Cache[V]) RemoveAllWithPrefix(ctx context.Context, prefix string) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.generation++
	n, err := c.store.DeleteAllWithPrefix(ctx, c.prefix+prefix)
	if err != nil {
		return n, fmt.Errorf("remove prefix %s%s: %w", c.prefix, prefix, err)
	}
	evictionsTotal.WithLabelValues(c.name, "removed").Add(float64(n))
	return n, nil
}

// RemoveExpired deletes every expired entry of this cache
func (c *Cache[V]) RemoveExpired(ctx context.Context) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	n, err := c.store.DeleteExpired(ctx, func(key string, expiresAt time.Time) bool {
		return strings.HasPrefix(key, c.prefix) && !live(expiresAt, now)
	})
	if err != nil {
		return n, fmt.Errorf("remove expired in %s: %w", c.name, err)
	}
	evictionsTotal.WithLabelValues(c.name, "expired").Add(float64(n))
	return n, nil
}

// Stats is a snapshot of cache counters
type Stats struct {
	Name        string `json:"name"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Computes    int64  `json:"computes"`
	WriteErrors int64  `json:"write_errors"`
}

// Stats returns the current counters
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Name:        c.name,
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Computes:    atomic.LoadInt64(&c.computes),
		WriteErrors: atomic.LoadInt64(&c.writeErrors),
	}
}
