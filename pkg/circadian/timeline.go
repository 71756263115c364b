package circadian

import (
	"fmt"
	"time"
)

// Timeline is the canonical sequence of endpoints covering [Start, End).
//
// Invariants once built by Reconstruct:
//   - endpoints are non-decreasing by time
//   - the count is even; even indexes start an interval, odd indexes end it
//   - with a bounded, truncated window the first endpoint is Start, the
//     last is End, and every instant in between belongs to one segment
type Timeline struct {
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Len returns the number of intervals
func (t Timeline) Len() int {
	return len(t.Endpoints) / 2
}

// IsEmpty reports whether the timeline has no intervals
func (t Timeline) IsEmpty() bool {
	return len(t.Endpoints) == 0
}

// Validate checks the ordering and pairing invariants
func (t Timeline) Validate() error {
	if len(t.Endpoints)%2 != 0 {
		return ErrUnbalanced
	}
	for i := 1; i < len(t.Endpoints); i++ {
		if t.Endpoints[i].Time.Before(t.Endpoints[i-1].Time) {
			return fmt.Errorf("%w: index %d", ErrUnordered, i)
		}
	}
	for i := 0; i < len(t.Endpoints); i += 2 {
		if t.Endpoints[i].Kind != t.Endpoints[i+1].Kind {
			return fmt.Errorf("%w: interval %d mixes %s and %s", ErrMergeFailure, i/2, t.Endpoints[i].Kind, t.Endpoints[i+1].Kind)
		}
	}
	return nil
}

// Intervals returns the recorded [start, end] pairs
func (t Timeline) Intervals() []Interval {
	intervals, err := Pair(t.Endpoints)
	if err != nil {
		return nil
	}
	return intervals
}

// Segments returns each interval extended up to the next interval's start,
// which is how aggregations attribute time. Segments never overlap and,
// for a truncated window, their durations sum to End - Start exactly.
func (t Timeline) Segments() []Interval {
	intervals := t.Intervals()
	for i := 0; i+1 < len(intervals); i++ {
		intervals[i].End = intervals[i+1].Start
	}
	return intervals
}

// Covered returns the total duration attributed to segments
func (t Timeline) Covered() time.Duration {
	var total time.Duration
	for _, seg := range t.Segments() {
		total += seg.Duration()
	}
	return total
}
