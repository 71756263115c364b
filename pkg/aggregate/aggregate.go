// Package aggregate folds a canonical timeline into statistics.
//
// Time between two consecutive endpoints is always attributed to the
// earlier one: an interval's duration belongs to its start, and the
// spacing between an end and the next start belongs to that end. The
// spacing is either the one-second nudge or, after a capped fast, the
// remainder of the gap. Filters never change this: the spacing after a
// kept interval counts even when the next interval is filtered out.
package aggregate

import (
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
)

// Step is what Combine sees for one endpoint
type Step struct {
	Cur     circadian.Endpoint
	Prev    circadian.Endpoint
	HasPrev bool

	// IsStart is taken from the endpoint's position in the unfiltered
	// timeline, so filtering never flips it.
	IsStart bool

	// Adjacent reports that Prev immediately precedes Cur in the
	// unfiltered timeline: nothing was filtered out between them.
	Adjacent bool

	// Next is the endpoint following Cur in the unfiltered timeline,
	// whether or not the filter keeps it.
	Next    circadian.Endpoint
	HasNext bool
}

// Elapsed returns Cur - Prev, or 0 without a previous endpoint
func (s Step) Elapsed() time.Duration {
	if !s.HasPrev {
		return 0
	}
	return s.Cur.Time.Sub(s.Prev.Time)
}

// Attributable reports whether Cur closes the interval Prev opened, so
// the elapsed time is that interval's duration.
func (s Step) Attributable() bool {
	return s.HasPrev && !s.IsStart && s.Adjacent
}

// Trailing returns the spacing from an interval end to the next start, or
// 0 for a start or the last endpoint
func (s Step) Trailing() time.Duration {
	if s.IsStart || !s.HasNext {
		return 0
	}
	return s.Next.Time.Sub(s.Cur.Time)
}

// Until is where the time attributed to Cur ends
func (s Step) Until() time.Time {
	return s.Cur.Time.Add(s.Trailing())
}

// Fold is a complete aggregation: optional filter, accumulator, finalizer.
// Finalize must not mutate the accumulator.
type Fold[A, U any] struct {
	Filter   func(circadian.Endpoint) bool
	Init     func() A
	Combine  func(acc A, s Step) A
	Finalize func(acc A) U
}

// Run folds the timeline through f
func Run[A, U any](tl circadian.Timeline, f Fold[A, U]) U {
	return f.Finalize(Accumulate(tl, f))
}

// Accumulate folds without finalizing
func Accumulate[A, U any](tl circadian.Timeline, f Fold[A, U]) A {
	acc := f.Init()

	var prev circadian.Endpoint
	prevIdx := -1
	for i, ep := range tl.Endpoints {
		if f.Filter != nil && !f.Filter(ep) {
			continue
		}
		step := Step{
			Cur:      ep,
			HasPrev:  prevIdx >= 0,
			IsStart:  i%2 == 0,
			Adjacent: prevIdx >= 0 && prevIdx == i-1,
		}
		if step.HasPrev {
			step.Prev = prev
		}
		if i+1 < len(tl.Endpoints) {
			step.Next, step.HasNext = tl.Endpoints[i+1], true
		}
		acc = f.Combine(acc, step)
		prev, prevIdx = ep, i
	}
	return acc
}

// Buckets sums durations per group key
type Buckets[K comparable] map[K]time.Duration

// SumFold sums each kept interval's duration into the bucket groupBy picks
// for its start, and the spacing after it into the bucket of its end.
// Endpoints for which groupBy reports false are skipped.
func SumFold[K comparable](filter func(circadian.Endpoint) bool, groupBy func(circadian.Endpoint) (K, bool)) Fold[Buckets[K], Buckets[K]] {
	return Fold[Buckets[K], Buckets[K]]{
		Filter: filter,
		Init:   func() Buckets[K] { return make(Buckets[K]) },
		Combine: func(acc Buckets[K], s Step) Buckets[K] {
			if s.Attributable() {
				if key, ok := groupBy(s.Prev); ok {
					acc[key] += s.Elapsed()
				}
			}
			if d := s.Trailing(); d > 0 {
				if key, ok := groupBy(s.Cur); ok {
					acc[key] += d
				}
			}
			return acc
		},
		Finalize: func(acc Buckets[K]) Buckets[K] {
			out := make(Buckets[K], len(acc))
			for k, v := range acc {
				out[k] = v
			}
			return out
		},
	}
}

// SumBy runs SumFold
func SumBy[K comparable](tl circadian.Timeline, filter func(circadian.Endpoint) bool, groupBy func(circadian.Endpoint) (K, bool)) Buckets[K] {
	return Run(tl, SumFold(filter, groupBy))
}

// IsTag returns a filter keeping endpoints with one of the given tags
func IsTag(tags ...circadian.Tag) func(circadian.Endpoint) bool {
	return func(ep circadian.Endpoint) bool {
		for _, t := range tags {
			if ep.Kind.Tag == t {
				return true
			}
		}
		return false
	}
}

// IsFasting keeps Sleep, Exercise, and Fast endpoints
func IsFasting(ep circadian.Endpoint) bool {
	return ep.Kind.IsFasting()
}
