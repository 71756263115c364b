package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type failingPutStore struct {
	storage.Store
}

func (failingPutStore) Put(context.Context, string, []byte, time.Time) error {
	return errors.New("disk full")
}

func counter(value string) (ComputeFunc[string], *int32) {
	var calls int32
	return func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return value, nil
	}, &calls
}

func TestGetOrCompute_ComputesOnce(t *testing.T) {
	c := New[string](memory.New(), JSONCodec[string]{}, WithName("test"))
	ctx := context.Background()
	compute, calls := counter("v1")

	v, cached, err := c.GetOrCompute(ctx, "k", compute, Never())
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "v1", v)

	v, cached, err = c.GetOrCompute(ctx, "k", compute, Never())
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, "v1", v)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Computes)
}

func TestGetOrCompute_ExpiryBoundary(t *testing.T) {
	clk := newClock()
	c := New[string](memory.New(), JSONCodec[string]{}, WithClock(clk.Now))
	ctx := context.Background()
	compute, calls := counter("v")

	_, _, err := c.GetOrCompute(ctx, "k", compute, After(time.Minute))
	require.NoError(t, err)

	clk.Advance(time.Minute - time.Second)
	_, cached, err := c.GetOrCompute(ctx, "k", compute, After(time.Minute))
	require.NoError(t, err)
	require.True(t, cached, "entry is live one second before expiry")

	// An entry expiring exactly now is no longer live
	clk.Advance(time.Second)
	_, cached, err = c.GetOrCompute(ctx, "k", compute, After(time.Minute))
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGetOrCompute_ExpiresAt(t *testing.T) {
	clk := newClock()
	store := memory.New()
	c := New[string](store, JSONCodec[string]{}, WithClock(clk.Now), WithPrefix("p:"))
	ctx := context.Background()

	at := clk.Now().Add(time.Hour)
	_, _, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) { return "v", nil }, At(at))
	require.NoError(t, err)

	rec, ok, err := store.Get(ctx, "p:k")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.ExpiresAt.Equal(at))

	clk.Advance(2 * time.Hour)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)

	// The lazy lookup removed the expired record
	_, ok, err = store.Get(ctx, "p:k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetOrCompute_FailedComputeNotPersisted(t *testing.T) {
	store := memory.New()
	c := New[string](store, JSONCodec[string]{})
	ctx := context.Background()
	errBoom := errors.New("boom")

	_, _, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) {
		return "", errBoom
	}, Never())
	require.ErrorIs(t, err, errBoom)
	require.Zero(t, store.Len())

	// Next call computes again
	v, cached, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) {
		return "ok", nil
	}, Never())
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "ok", v)
}

func TestGetOrCompute_WriteFailureReturnsValue(t *testing.T) {
	c := New[string](failingPutStore{Store: memory.New()}, JSONCodec[string]{})
	ctx := context.Background()
	compute, calls := counter("v")

	v, cached, err := c.GetOrCompute(ctx, "k", compute, Never())
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "v", v)
	require.Equal(t, int64(1), c.Stats().WriteErrors)

	// Nothing was persisted so the next call recomputes
	_, _, err = c.GetOrCompute(ctx, "k", compute, Never())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c := New[int](memory.New(), JSONCodec[int]{})
	ctx := context.Background()

	release := make(chan struct{})
	var calls int32
	compute := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(ctx, "k", compute, Never())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 42, results[i])
	}
}

func TestGetOrCompute_InvalidatedDuringCompute(t *testing.T) {
	store := memory.New()
	c := New[string](store, JSONCodec[string]{}, WithPrefix("agg:"))
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	type result struct {
		v   string
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, _, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		}, Never())
		done <- result{v, err}
	}()

	<-started
	_, err := c.RemoveAll(ctx)
	require.NoError(t, err)
	close(release)

	// The caller still gets its value, but the store does not keep it
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "stale", res.v)
	require.Zero(t, store.Len())
}

func TestGetOrCompute_CallersDoNotShare(t *testing.T) {
	c := New[[]int](memory.New(), JSONCodec[[]int]{})
	ctx := context.Background()
	compute := func(context.Context) ([]int, error) { return []int{1, 2, 3}, nil }

	first, _, err := c.GetOrCompute(ctx, "k", compute, Never())
	require.NoError(t, err)
	first[0] = 99

	second, cached, err := c.GetOrCompute(ctx, "k", compute, Never())
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, []int{1, 2, 3}, second)
}

func TestGetOrCompute_CancelledLeaderDoesNotFailFollower(t *testing.T) {
	store := memory.New()
	c := New[string](store, JSONCodec[string]{})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	compute := func(ctx context.Context) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return "v", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "k", compute, Never())
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, _, err := c.GetOrCompute(context.Background(), "k", compute, Never())
		follower <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	// The leader stops waiting, the shared compute keeps running
	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	res := <-follower
	require.NoError(t, res.err)
	require.Equal(t, "v", res.v)
	require.Equal(t, 1, store.Len())
}

func TestGetOrCompute_ComputeTimeout(t *testing.T) {
	c := New[string](memory.New(), JSONCodec[string]{}, WithComputeTimeout(20*time.Millisecond))

	_, _, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, Never())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type unencodable struct {
	JSONCodec[[]int]
}

func (unencodable) Encode([]int) ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestGetOrCompute_UnencodableValueNotShared(t *testing.T) {
	store := memory.New()
	c := New[[]int](store, unencodable{})
	ctx := context.Background()

	release := make(chan struct{})
	compute := func(context.Context) ([]int, error) {
		<-release
		return []int{1, 2, 3}, nil
	}

	const n = 5
	var wg sync.WaitGroup
	results := make([][]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(ctx, "k", compute, Never())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	results[0][0] = 99
	for i := 1; i < n; i++ {
		require.Equal(t, []int{1, 2, 3}, results[i])
	}
	require.Zero(t, store.Len())
	require.Positive(t, c.Stats().WriteErrors)
}

func TestGetOrCompute_CorruptRecordRecomputes(t *testing.T) {
	store := memory.New()
	c := New[int](store, JSONCodec[int]{})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("not json"), farFuture))

	v, cached, err := c.GetOrCompute(ctx, "k", func(context.Context) (int, error) { return 7, nil }, Never())
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, 7, v)
}

func TestRemove(t *testing.T) {
	store := memory.New()
	raw := New[string](store, JSONCodec[string]{}, WithPrefix("raw:"))
	agg := New[string](store, JSONCodec[string]{}, WithPrefix("agg:"))
	ctx := context.Background()
	value := func(context.Context) (string, error) { return "v", nil }

	for _, key := range []string{"h:2024-03-01", "h:2024-03-02", "x:2024-03-01"} {
		_, _, err := raw.GetOrCompute(ctx, key, value, Never())
		require.NoError(t, err)
	}
	_, _, err := agg.GetOrCompute(ctx, "h:2024-03-01", value, Never())
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())

	require.NoError(t, raw.Remove(ctx, "x:2024-03-01"))
	require.Equal(t, 3, store.Len())

	n, err := raw.RemoveAllWithPrefix(ctx, "h:")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Other namespaces are untouched
	_, ok := agg.Get(ctx, "h:2024-03-01")
	require.True(t, ok)

	n, err = agg.RemoveAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, store.Len())
}

func TestRemoveExpired(t *testing.T) {
	clk := newClock()
	store := memory.New()
	c := New[string](store, JSONCodec[string]{}, WithPrefix("raw:"), WithClock(clk.Now))
	ctx := context.Background()
	value := func(context.Context) (string, error) { return "v", nil }

	_, _, err := c.GetOrCompute(ctx, "short", value, After(time.Minute))
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(ctx, "long", value, After(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "other:k", nil, clk.Now()))

	clk.Advance(30 * time.Minute)
	n, err := c.RemoveExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, store.Len())
}

func TestExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	at := now.Add(5 * time.Minute)

	require.Equal(t, now.Add(time.Hour), After(time.Hour).ExpiresAt(now))
	require.Equal(t, at, At(at).ExpiresAt(now))
	require.True(t, live(Never().ExpiresAt(now), now.AddDate(100, 0, 0)))
	require.False(t, live(now, now))
	require.True(t, live(now.Add(time.Nanosecond), now))
}
