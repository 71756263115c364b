package circadian

import (
	"fmt"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
)

const (
	// Epsilon keeps adjacent intervals strictly ordered
	Epsilon = config.Epsilon

	// MaxFast caps one synthesized fasting interval
	MaxFast = config.MaxFastDuration
)

// Reconstruct builds the canonical timeline for [start, end) from the
// endpoint lists of each sub-range, given in window order.
//
// A zero start or end leaves that side of the window unbounded: nothing is
// clipped there and no leading or trailing fast is synthesized.
// With truncate, intervals crossing the window edge are clamped to it;
// without, they keep their full extent.
func Reconstruct(perRange [][]Endpoint, start, end time.Time, truncate bool) (Timeline, error) {
	var intervals []Interval
	for i, endpoints := range perRange {
		clipped, err := Clip(endpoints, start, end, truncate)
		if err != nil {
			return Timeline{}, fmt.Errorf("sub-range %d: %w", i, err)
		}
		intervals = append(intervals, clipped...)
	}

	if len(intervals) == 0 {
		return Timeline{Start: start, End: end}, ErrEmptyInput
	}

	intervals = Normalize(intervals)

	return Timeline{
		Start:     start,
		End:       end,
		Endpoints: FillGaps(intervals, start, end),
	}, nil
}

// Clip drops intervals lying wholly outside [start, end) and, with
// truncate, clamps the ones that cross an edge.
func Clip(endpoints []Endpoint, start, end time.Time, truncate bool) ([]Interval, error) {
	intervals, err := Pair(endpoints)
	if err != nil {
		return nil, err
	}

	out := intervals[:0]
	for _, iv := range intervals {
		if !start.IsZero() && !iv.End.After(start) {
			continue
		}
		if !end.IsZero() && !iv.Start.Before(end) {
			continue
		}
		if truncate {
			if !start.IsZero() && iv.Start.Before(start) {
				iv.Start = start
			}
			if !end.IsZero() && iv.End.After(end) {
				iv.End = end
			}
		}
		out = append(out, iv)
	}
	return out, nil
}

// Normalize sorts intervals and removes overlap. An interval covered by its
// predecessor is dropped (this removes duplicates fetched by neighbouring
// sub-ranges); one that overlaps partially starts where its predecessor ends.
func Normalize(intervals []Interval) []Interval {
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	SortIntervals(sorted)

	out := sorted[:0]
	for _, iv := range sorted {
		if n := len(out); n > 0 {
			last := out[n-1]
			if !iv.End.After(last.End) {
				continue
			}
			if iv.Start.Before(last.End) {
				iv.Start = last.End
			}
		}
		out = append(out, iv)
	}
	return out
}

// FillGaps inserts synthetic fasts between sorted, disjoint intervals and
// at both window edges.
//
// Back-to-back intervals are separated by nudging the later start forward
// by Epsilon. A fast fills [prevEnd+ε, min(nextStart-ε, prevEnd+ε+24h)];
// time past the cap stays attributed to that fast. Gaps of at most 2ε are
// left implicit.
func FillGaps(intervals []Interval, start, end time.Time) []Endpoint {
	if len(intervals) == 0 {
		return nil
	}
	intervals = append([]Interval(nil), intervals...)
	out := make([]Endpoint, 0, 4*len(intervals)+4)
	fast := FastKind()

	first := intervals[0]
	if !start.IsZero() && first.Start.After(start) {
		fastEnd := minTime(first.Start.Add(-Epsilon), start.Add(MaxFast))
		if fastEnd.After(start) {
			out = append(out, Endpoint{Time: start, Kind: fast}, Endpoint{Time: fastEnd, Kind: fast})
		} else {
			intervals[0].Start = start
		}
	}

	var prevEnd time.Time
	for i, iv := range intervals {
		if i > 0 {
			switch gap := iv.Start.Sub(prevEnd); {
			case gap <= 0:
				iv.Start = minTime(prevEnd.Add(Epsilon), iv.End)
			case gap > 2*Epsilon:
				fastStart := prevEnd.Add(Epsilon)
				fastEnd := minTime(iv.Start.Add(-Epsilon), fastStart.Add(MaxFast))
				out = append(out, Endpoint{Time: fastStart, Kind: fast}, Endpoint{Time: fastEnd, Kind: fast})
			}
		}
		s, e := iv.Endpoints()
		out = append(out, s, e)
		prevEnd = iv.End
	}

	if !end.IsZero() && prevEnd.Before(end) {
		if end.Sub(prevEnd) > Epsilon {
			out = append(out, Endpoint{Time: prevEnd.Add(Epsilon), Kind: fast}, Endpoint{Time: end, Kind: fast})
		} else {
			out[len(out)-1].Time = end
		}
	}

	return out
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
