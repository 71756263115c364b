package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/aggregate"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/invalidation"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
	sourcemem "github.com/OlenaSrost/MCCircadianQueries/pkg/source/memory"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage/memory"
)

var (
	d0  = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	now = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
)

func at(h, m int) time.Time {
	return d0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func sleep(start, end time.Time) source.RawSample {
	return source.RawSample{Type: source.SampleTypeSleep, Start: start, End: end}
}

func meal(start, end time.Time) source.RawSample {
	return source.RawSample{
		Type:         source.SampleTypeWorkout,
		Start:        start,
		End:          end,
		ActivityType: source.ActivityPreparationAndRecovery,
		Metadata:     map[string]string{source.MetadataMealType: "Lunch"},
	}
}

func workout(start, end time.Time) source.RawSample {
	return source.RawSample{Type: source.SampleTypeWorkout, Start: start, End: end, ActivityType: "Running"}
}

func threeDays() []source.RawSample {
	return []source.RawSample{
		sleep(at(-1, 0), at(7, 0)),
		meal(at(12, 0), at(12, 30)),
		workout(at(18, 0), at(19, 0)),
		sleep(at(23, 0), at(31, 0)),
		meal(at(36, 0), at(36, 45)),
		sleep(at(47, 0), at(55, 0)),
		meal(at(60, 0), at(60, 20)),
	}
}

func newTestService(t *testing.T, src source.Source, clock time.Time, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{
		WithLocation(time.UTC),
		WithClock(func() time.Time { return clock }),
		WithDebounce(0),
	}, opts...)
	s := NewService(src, store, opts...)
	t.Cleanup(s.Close)
	return s, store
}

func requireSameIntervals(t *testing.T, want, got []circadian.Interval) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, want[i].Start.Equal(got[i].Start), "interval %d start: want %v got %v", i, want[i].Start, got[i].Start)
		require.True(t, want[i].End.Equal(got[i].End), "interval %d end: want %v got %v", i, want[i].End, got[i].End)
		require.Equal(t, want[i].Kind, got[i].Kind, "interval %d kind", i)
	}
}

func TestTimeline_CachedMatchesUncached(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	start, end := at(3, 0), at(62, 0)

	cached, store := newTestService(t, src, now)
	// Three months later the same window is too old to cache
	uncached, _ := newTestService(t, src, now.AddDate(0, 3, 0))

	for _, truncate := range []bool{true, false} {
		a, err := cached.Timeline(context.Background(), start, end, truncate)
		require.NoError(t, err)
		require.NoError(t, a.Validate())

		b, err := uncached.Timeline(context.Background(), start, end, truncate)
		require.NoError(t, err)

		requireSameIntervals(t, b.Intervals(), a.Intervals())
	}
	require.Equal(t, 3, store.Len())

	tl, err := cached.Timeline(context.Background(), start, end, true)
	require.NoError(t, err)
	require.Equal(t, end.Sub(start), tl.Covered())
}

func TestTimeline_ServesFromCacheUntilNotified(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	s, _ := newTestService(t, src, now)
	ctx := context.Background()
	start, end := at(0, 0), at(24, 0)

	first, err := s.Timeline(ctx, start, end, true)
	require.NoError(t, err)

	// A sample added behind the service's back is not seen
	late := src.Add(workout(at(15, 0), at(16, 0)))
	stale, err := s.Timeline(ctx, start, end, true)
	require.NoError(t, err)
	require.Equal(t, first.Len(), stale.Len())

	_, err = s.NotifySamples(ctx, late)
	require.NoError(t, err)

	fresh, err := s.Timeline(ctx, start, end, true)
	require.NoError(t, err)
	require.Equal(t, first.Len()+2, fresh.Len(), "new workout and the fast after it")
}

func TestTimeline_SharedStoreSeparatesSources(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	start, end := at(0, 0), at(24, 0)
	newService := func(src source.Source, id string) *Service {
		s := NewService(src, store,
			WithLocation(time.UTC),
			WithClock(func() time.Time { return now }),
			WithDebounce(0),
			WithSourceID(id))
		t.Cleanup(s.Close)
		return s
	}

	before := newService(sourcemem.New(threeDays()...), "file-v1")
	_, err := before.Timeline(ctx, start, end, true)
	require.NoError(t, err)
	_, err = before.EatingTimes(ctx, start, end)
	require.NoError(t, err)

	// Same store, edited file: only a 09:00 meal remains
	after := newService(sourcemem.New(meal(at(9, 0), at(9, 30))), "file-v2")
	tl, err := after.Timeline(ctx, start, end, true)
	require.NoError(t, err)

	var events []circadian.Interval
	for _, iv := range tl.Intervals() {
		if iv.Kind.Tag != circadian.Fast {
			events = append(events, iv)
		}
	}
	require.Len(t, events, 1)
	require.Equal(t, circadian.MealKind("Lunch"), events[0].Kind)
	require.True(t, events[0].Start.Equal(at(9, 0)))

	eating, err := after.EatingTimes(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, eating, 1)
	require.Equal(t, 30*time.Minute+circadian.Epsilon, eating.Total())

	// The original source still reads its own entries
	again, err := before.Timeline(ctx, start, end, true)
	require.NoError(t, err)
	require.Greater(t, again.Len(), tl.Len())
}

func TestTimeline_Errors(t *testing.T) {
	s, _ := newTestService(t, sourcemem.New(), now)
	ctx := context.Background()

	_, err := s.Timeline(ctx, at(5, 0), at(5, 0), true)
	require.ErrorIs(t, err, ErrInvalidWindow)

	tl, err := s.Timeline(ctx, at(0, 0), at(24, 0), true)
	require.ErrorIs(t, err, circadian.ErrEmptyInput)
	require.True(t, tl.IsEmpty())
}

type brokenSource struct{}

func (brokenSource) Fetch(context.Context, source.SampleType, source.Predicate, int, source.SortOrder) ([]source.RawSample, error) {
	return nil, errors.New("authorization denied")
}

func TestTimeline_SourceFailure(t *testing.T) {
	s, store := newTestService(t, brokenSource{}, now)

	_, err := s.Timeline(context.Background(), at(0, 0), at(24, 0), true)
	require.ErrorIs(t, err, source.ErrSourceUnavailable)

	var rangeErr *circadian.RangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, "fetch sub-range", rangeErr.Op)
	require.True(t, strings.HasPrefix(rangeErr.Key, RawPrefix))
	require.Zero(t, store.Len())
}

func TestAggregates(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	s, _ := newTestService(t, src, now)
	ctx := context.Background()
	start, end := at(0, 0), at(72, 0)

	eating, err := s.EatingTimes(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, eating, 3)
	// Each meal also owns the second before the fast that follows it
	require.Equal(t, 30*time.Minute+45*time.Minute+20*time.Minute+3*circadian.Epsilon, eating.Total())

	maxFast, err := s.MaxFastingTimes(ctx, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, maxFast)

	split, err := s.CategoryDurations(ctx, start, end, aggregate.SplitFastEat)
	require.NoError(t, err)
	require.Equal(t, 72*time.Hour, split[0].Duration+split[1].Duration)

	v, err := s.FastingVariability(ctx, start, end, aggregate.UnitDay)
	require.NoError(t, err)
	require.Equal(t, 3, v.Buckets)

	// Second round is served from the aggregate caches
	again, err := s.EatingTimes(ctx, start, end)
	require.NoError(t, err)
	require.Equal(t, eating.Total(), again.Total())

	var hits int64
	for _, st := range s.CacheStats() {
		if st.Name == AggEating {
			hits = st.Hits
		}
	}
	require.Equal(t, int64(1), hits)
}

func TestAggregates_EmptyWindow(t *testing.T) {
	s, _ := newTestService(t, sourcemem.New(), now)

	eating, err := s.EatingTimes(context.Background(), at(0, 0), at(24, 0))
	require.NoError(t, err)
	require.Empty(t, eating)
}

func TestAggregates_RecomputedAfterNotify(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	s, _ := newTestService(t, src, now)
	ctx := context.Background()
	start, end := at(0, 0), at(72, 0)

	before, err := s.EatingTimes(ctx, start, end)
	require.NoError(t, err)

	added := src.Add(meal(at(40, 0), at(40, 30)))
	_, err = s.NotifySamples(ctx, added)
	require.NoError(t, err)

	after, err := s.EatingTimes(ctx, start, end)
	require.NoError(t, err)
	require.Equal(t, before.Total()+30*time.Minute+circadian.Epsilon, after.Total())
}

func TestNotifySamples_PublishesUnion(t *testing.T) {
	broker := invalidation.NewBroker()
	events, cancel := broker.Subscribe(4)
	defer cancel()

	s, _ := newTestService(t, sourcemem.New(), now, WithBroker(broker), WithDebounce(30*time.Millisecond))
	ctx := context.Background()

	ev, err := s.NotifySamples(ctx, []source.RawSample{sleep(at(23, 0), at(31, 0))})
	require.NoError(t, err)
	require.Len(t, ev.AffectedDates, 2)

	_, err = s.NotifySamples(ctx, []source.RawSample{meal(at(60, 0), at(60, 30))})
	require.NoError(t, err)

	select {
	case got := <-events:
		require.Len(t, got.AffectedDates, 3)
		require.True(t, got.AffectedDates[0].Equal(at(0, 0)))
		require.True(t, got.AffectedDates[2].Equal(at(48, 0)))
	case <-time.After(time.Second):
		t.Fatal("no invalidation event published")
	}

	select {
	case extra := <-events:
		t.Fatalf("notifications were not coalesced: %v", extra.AffectedDates)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifySamples_NoSamples(t *testing.T) {
	s, _ := newTestService(t, sourcemem.New(), now)

	ev, err := s.NotifySamples(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, ev.AffectedDates)
}

func TestPurgeCache(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	s, store := newTestService(t, src, now)
	ctx := context.Background()
	start, end := at(0, 0), at(72, 0)

	_, err := s.EatingTimes(ctx, start, end)
	require.NoError(t, err)
	_, err = s.CategoryDurations(ctx, start, end, aggregate.SplitSleepAwake)
	require.NoError(t, err)
	require.Equal(t, 5, store.Len(), "three raw days and two aggregates")

	n, err := s.PurgeCache(ctx, AggregatePrefix+AggSplit)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.PurgeCache(ctx, RawPrefix+s.typesKey+":2024-03-08")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.PurgeCache(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Zero(t, store.Len())

	n, err = s.PurgeCache(ctx, "unrelated:")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSweepExpired(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	clock := now
	s, store := newTestService(t, src, now, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := s.Timeline(ctx, at(0, 0), at(72, 0), true)
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())

	// Today's entry expires within minutes, finished days last for weeks
	clock = now.Add(10 * time.Minute)
	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, store.Len())
}

func TestLatestEvent(t *testing.T) {
	src := sourcemem.New(threeDays()...)
	s, _ := newTestService(t, src, now)
	ctx := context.Background()

	latest, err := s.LatestEvent(ctx, source.SampleTypeSleep)
	require.NoError(t, err)
	require.True(t, latest.Start.Equal(at(47, 0)))

	empty, _ := newTestService(t, sourcemem.New(), now)
	_, err = empty.LatestEvent(ctx, source.SampleTypeWorkout)
	require.ErrorIs(t, err, source.ErrEmptyResult)
}

func TestKeys(t *testing.T) {
	a := typesHash([]source.SampleType{source.SampleTypeSleep, source.SampleTypeWorkout})
	b := typesHash([]source.SampleType{source.SampleTypeWorkout, source.SampleTypeSleep})
	require.Equal(t, a, b)
	require.Len(t, a, 16)

	require.Equal(t, a+":2024-03-08", rawKey(a, at(13, 0)))

	require.Equal(t, a, sourceKey(a, ""))
	require.NotEqual(t, sourceKey(a, "v1"), sourceKey(a, "v2"))
	require.Len(t, sourceKey(a, "v1"), 16)

	require.NotEqual(t, paramsHash("ab", "c"), paramsHash("a", "bc"))
}
