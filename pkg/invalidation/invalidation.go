// Package invalidation decides which days new samples affect and tells
// observers about it.
package invalidation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/ranges"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Event announces that cached results for the listed days are stale
type Event struct {
	ID            uuid.UUID   `json:"id"`
	AffectedDates []time.Time `json:"affected_dates"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewEvent builds an event for the given days, sorted and deduplicated
func NewEvent(dates []time.Time, now time.Time) Event {
	return Event{
		ID:            uuid.New(),
		AffectedDates: Union(nil, dates),
		CreatedAt:     now,
	}
}

// AffectedDates returns the start of every calendar day any sample touches
func AffectedDates(samples []source.RawSample, loc *time.Location) []time.Time {
	var days []time.Time
	for _, s := range samples {
		days = append(days, ranges.Days(s.Start, s.End, loc)...)
	}
	return Union(nil, days)
}

// Union merges two day lists into one sorted list without duplicates
func Union(a, b []time.Time) []time.Time {
	seen := make(map[int64]time.Time, len(a)+len(b))
	for _, list := range [][]time.Time{a, b} {
		for _, d := range list {
			seen[d.UnixNano()] = d
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Broker fans events out to subscribers. A subscriber that is not keeping
// up misses events rather than blocking the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room for it and returns how
// many received it
func (b *Broker) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			// Skip slow subscribers
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel; later subscriptions get a closed channel
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
