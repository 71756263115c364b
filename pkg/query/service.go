// Package query answers timeline and statistics queries over a sample
// source, caching raw per-day endpoints and derived aggregates.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/aggregate"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/cache"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/fetch"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/invalidation"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/ranges"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
)

// ErrInvalidWindow is returned when a bounded window does not have start < end
var ErrInvalidWindow = errors.New("invalid query window")

// invalidationKey is the debounce key for sample notifications
const invalidationKey = "samples"

// maintainable is the part of a cache the service maintains uniformly
type maintainable interface {
	Name() string
	Prefix() string
	RemoveAll(ctx context.Context) (int, error)
	RemoveAllWithPrefix(ctx context.Context, prefix string) (int, error)
	RemoveExpired(ctx context.Context) (int, error)
	Stats() cache.Stats
}

// Service reconstructs timelines and computes statistics
type Service struct {
	src        source.Source
	loc        *time.Location
	now        func() time.Time
	types      []source.SampleType
	typesKey   string
	sourceID   string
	decomposer *ranges.Decomposer

	raw         *cache.Cache[[]circadian.Endpoint]
	eating      *cache.Cache[aggregate.Daily]
	maxFasting  *cache.Cache[aggregate.Daily]
	split       *cache.Cache[[]aggregate.CategoryTotal]
	variability *cache.Cache[aggregate.Variability]
	caches      []maintainable

	broker    *invalidation.Broker
	debouncer *invalidation.Debouncer
	debounce  time.Duration

	pendingMu sync.Mutex
	pending   []time.Time
}

type serviceOptions struct {
	loc      *time.Location
	clock    func() time.Time
	broker   *invalidation.Broker
	debounce time.Duration
	sourceID string
}

// Option configures a Service
type Option func(*serviceOptions)

// WithLocation sets the time zone that defines calendar days
func WithLocation(loc *time.Location) Option {
	return func(o *serviceOptions) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock overrides time.Now for decomposition and cache expiry
func WithClock(clock func() time.Time) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBroker publishes invalidation events to b
func WithBroker(b *invalidation.Broker) Option {
	return func(o *serviceOptions) {
		if b != nil {
			o.broker = b
		}
	}
}

// WithDebounce sets how long notifications are coalesced before publishing
func WithDebounce(d time.Duration) Option {
	return func(o *serviceOptions) {
		if d >= 0 {
			o.debounce = d
		}
	}
}

// WithSourceID scopes every cache key to the identity of the sample
// source, such as a hash of the file it was loaded from. Services over
// different sources can then share one durable store.
func WithSourceID(id string) Option {
	return func(o *serviceOptions) {
		o.sourceID = id
	}
}

// NewService creates a service reading from src and caching into store
func NewService(src source.Source, store storage.Store, opts ...Option) *Service {
	o := serviceOptions{
		loc:      time.Local,
		clock:    time.Now,
		debounce: config.InvalidationDebounce,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.broker == nil {
		o.broker = invalidation.NewBroker()
	}

	decomposer := ranges.NewDecomposer(o.loc)
	decomposer.Now = o.clock

	s := &Service{
		src:        src,
		loc:        o.loc,
		now:        o.clock,
		types:      source.CircadianTypes,
		typesKey:   sourceKey(typesHash(source.CircadianTypes), o.sourceID),
		sourceID:   o.sourceID,
		decomposer: decomposer,
		broker:     o.broker,
		debouncer:  invalidation.NewDebouncer(),
		debounce:   o.debounce,
	}

	cacheOpts := func(name, prefix string) []cache.Option {
		return []cache.Option{
			cache.WithName(name),
			cache.WithPrefix(prefix),
			cache.WithClock(o.clock),
			cache.WithComputeTimeout(config.QueryTimeout),
		}
	}
	s.raw = cache.New[[]circadian.Endpoint](store, cache.JSONCodec[[]circadian.Endpoint]{},
		cacheOpts("raw", RawPrefix)...)
	s.eating = cache.New[aggregate.Daily](store, cache.JSONCodec[aggregate.Daily]{},
		cacheOpts(AggEating, AggregatePrefix+AggEating+":")...)
	s.maxFasting = cache.New[aggregate.Daily](store, cache.JSONCodec[aggregate.Daily]{},
		cacheOpts(AggMaxFasting, AggregatePrefix+AggMaxFasting+":")...)
	s.split = cache.New[[]aggregate.CategoryTotal](store, cache.JSONCodec[[]aggregate.CategoryTotal]{},
		cacheOpts(AggSplit, AggregatePrefix+AggSplit+":")...)
	s.variability = cache.New[aggregate.Variability](store, cache.JSONCodec[aggregate.Variability]{},
		cacheOpts(AggVariability, AggregatePrefix+AggVariability+":")...)

	s.caches = []maintainable{s.raw, s.eating, s.maxFasting, s.split, s.variability}
	return s
}

// Location returns the time zone of calendar days
func (s *Service) Location() *time.Location {
	return s.loc
}

// Broker returns the broker invalidation events are published to
func (s *Service) Broker() *invalidation.Broker {
	return s.broker
}

// Close cancels pending invalidation publishes
func (s *Service) Close() {
	s.debouncer.Stop()
}

// Timeline reconstructs the canonical timeline of [start, end).
//
// Recent short windows are assembled from cached per-day endpoint lists;
// any other window is fetched as one unit. Either way the result is the
// same. A window without events returns an empty timeline together with
// circadian.ErrEmptyInput.
func (s *Service) Timeline(ctx context.Context, start, end time.Time, truncate bool) (circadian.Timeline, error) {
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return circadian.Timeline{}, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	useCache, boundaries := s.decomposer.Decompose(start, end)
	if !useCache {
		endpoints, err := s.fetchEndpoints(ctx, start, end)
		if err != nil {
			return circadian.Timeline{}, &circadian.RangeError{Op: "fetch window", Start: start, End: end, Err: err}
		}
		return circadian.Reconstruct([][]circadian.Endpoint{endpoints}, start, end, truncate)
	}

	subs := ranges.SubRanges(boundaries)
	perRange, err := fetch.All(ctx, len(subs), func(ctx context.Context, i int) ([]circadian.Endpoint, error) {
		return s.subRange(ctx, subs[i])
	})
	if err != nil {
		return circadian.Timeline{}, err
	}
	return circadian.Reconstruct(perRange, start, end, truncate)
}

// subRange returns the cached endpoints of one day
func (s *Service) subRange(ctx context.Context, r ranges.Range) ([]circadian.Endpoint, error) {
	key := rawKey(s.typesKey, r.Start)
	endpoints, _, err := s.raw.GetOrCompute(ctx, key, func(ctx context.Context) ([]circadian.Endpoint, error) {
		return s.fetchEndpoints(ctx, r.Start, r.End)
	}, s.subRangeExpiry(r))
	if err != nil {
		return nil, &circadian.RangeError{Op: "fetch sub-range", Key: RawPrefix + key, Start: r.Start, End: r.End, Err: err}
	}
	return endpoints, nil
}

// subRangeExpiry keeps finished days for weeks and today (or later) briefly
func (s *Service) subRangeExpiry(r ranges.Range) cache.Expiry {
	if r.End.After(s.now()) {
		return cache.After(config.TodaySubRangeExpiry)
	}
	return cache.After(config.PastSubRangeExpiry)
}

// fetchEndpoints queries every circadian type concurrently for samples
// overlapping [start, end) and merges them
func (s *Service) fetchEndpoints(ctx context.Context, start, end time.Time) ([]circadian.Endpoint, error) {
	preds := make(map[source.SampleType]source.Predicate, len(s.types))
	for _, t := range s.types {
		preds[t] = source.Predicate{Start: start, End: end}
	}

	byType, err := fetch.Types(ctx, s.src, preds, config.SampleFetchLimit)
	if err != nil {
		return nil, err
	}

	var samples []source.RawSample
	for _, t := range s.types {
		samples = append(samples, byType[t]...)
	}
	return circadian.ToEndpoints(samples), nil
}

// LatestEvent returns the most recent sample of type t, or
// source.ErrEmptyResult when there is none
func (s *Service) LatestEvent(ctx context.Context, t source.SampleType) (source.RawSample, error) {
	samples, err := s.src.Fetch(ctx, t, source.Predicate{}, 1, source.SortStartDescending)
	if err != nil {
		return source.RawSample{}, fmt.Errorf("%w: %s: %w", source.ErrSourceUnavailable, t, err)
	}
	if len(samples) == 0 {
		return source.RawSample{}, fmt.Errorf("%w: %s", source.ErrEmptyResult, t)
	}
	return samples[0], nil
}

// timelineOrEmpty treats a window without events as an empty timeline
func (s *Service) timelineOrEmpty(ctx context.Context, start, end time.Time) (circadian.Timeline, error) {
	tl, err := s.Timeline(ctx, start, end, true)
	if errors.Is(err, circadian.ErrEmptyInput) {
		return circadian.Timeline{Start: start, End: end}, nil
	}
	return tl, err
}

func cachedAggregate[V any](ctx context.Context, s *Service, c *cache.Cache[V], params []string, start, end time.Time, fn func(circadian.Timeline) V) (V, error) {
	key := paramsHash(append(windowParams(start, end, s.loc), append(params, s.sourceID)...)...)
	v, _, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (V, error) {
		tl, err := s.timelineOrEmpty(ctx, start, end)
		if err != nil {
			var zero V
			return zero, err
		}
		return fn(tl), nil
	}, cache.After(config.AggregateExpiry))
	return v, err
}

// EatingTimes returns total eating time per day of [start, end)
func (s *Service) EatingTimes(ctx context.Context, start, end time.Time) (aggregate.Daily, error) {
	return cachedAggregate(ctx, s, s.eating, nil, start, end, func(tl circadian.Timeline) aggregate.Daily {
		return aggregate.EatingTimes(tl, s.loc)
	})
}

// MaxFastingTimes returns the longest fasting stretch per day of [start, end)
func (s *Service) MaxFastingTimes(ctx context.Context, start, end time.Time) (aggregate.Daily, error) {
	return cachedAggregate(ctx, s, s.maxFasting, nil, start, end, func(tl circadian.Timeline) aggregate.Daily {
		return aggregate.MaxFastingTimes(tl, s.loc)
	})
}

// CategoryDurations splits the time of [start, end) into two categories
func (s *Service) CategoryDurations(ctx context.Context, start, end time.Time, split aggregate.Split) ([]aggregate.CategoryTotal, error) {
	return cachedAggregate(ctx, s, s.split, []string{string(split)}, start, end, func(tl circadian.Timeline) []aggregate.CategoryTotal {
		return aggregate.CategoryDurations(tl, split)
	})
}

// FastingVariability returns the spread of fasting time per unit of [start, end)
func (s *Service) FastingVariability(ctx context.Context, start, end time.Time, unit aggregate.Unit) (aggregate.Variability, error) {
	return cachedAggregate(ctx, s, s.variability, []string{string(unit)}, start, end, func(tl circadian.Timeline) aggregate.Variability {
		return aggregate.FastingVariability(tl, unit, s.loc)
	})
}

// NotifySamples invalidates everything new samples may have changed: the
// raw entries of every day they touch and all aggregates. Observers are
// told once notifications have been quiet for the debounce delay, with
// the union of all days notified meanwhile.
func (s *Service) NotifySamples(ctx context.Context, samples []source.RawSample) (invalidation.Event, error) {
	dates := invalidation.AffectedDates(samples, s.loc)
	ev := invalidation.NewEvent(dates, s.now())
	if len(dates) == 0 {
		return ev, nil
	}

	var errs []error
	for _, day := range dates {
		if err := s.raw.Remove(ctx, rawKey(s.typesKey, day)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range s.caches[1:] {
		if _, err := c.RemoveAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.pendingMu.Lock()
	s.pending = invalidation.Union(s.pending, dates)
	s.pendingMu.Unlock()
	s.debouncer.Schedule(invalidationKey, s.debounce, s.publishPending)

	if err := errors.Join(errs...); err != nil {
		return ev, fmt.Errorf("invalidate %d days: %w", len(dates), err)
	}
	return ev, nil
}

func (s *Service) publishPending() {
	s.pendingMu.Lock()
	dates := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if len(dates) == 0 {
		return
	}
	ev := invalidation.NewEvent(dates, s.now())
	delivered := s.broker.Publish(ev)
	log.Printf("Published invalidation %s for %d days to %d subscribers", ev.ID, len(dates), delivered)
}

// PurgeCache removes every cached entry whose store key starts with
// prefix; an empty prefix purges everything
func (s *Service) PurgeCache(ctx context.Context, prefix string) (int, error) {
	total := 0
	for _, c := range s.caches {
		var (
			n   int
			err error
		)
		switch {
		case strings.HasPrefix(prefix, c.Prefix()):
			n, err = c.RemoveAllWithPrefix(ctx, strings.TrimPrefix(prefix, c.Prefix()))
		case strings.HasPrefix(c.Prefix(), prefix):
			n, err = c.RemoveAll(ctx)
		default:
			continue
		}
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SweepExpired removes expired entries from every cache
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for _, c := range s.caches {
		n, err := c.RemoveExpired(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// CacheStats returns the counters of every cache
func (s *Service) CacheStats() []cache.Stats {
	out := make([]cache.Stats, 0, len(s.caches))
	for _, c := range s.caches {
		out = append(out, c.Stats())
	}
	return out
}
