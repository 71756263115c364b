// Package ranges splits query windows into day-aligned sub-ranges that can
// be cached independently.
package ranges

import (
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
)

// KeyLayout formats the calendar day a sub-range starts on
const KeyLayout = "2006-01-02"

// Range is one half-open [Start, End) slice of a query window
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key identifies the sub-range by the day it starts on
func (r Range) Key() string {
	return StartOfDay(r.Start).Format(KeyLayout)
}

// Contains reports whether t falls inside the range
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Decomposer decides whether a window is worth caching per day.
// Windows are cached only when recent and short; older or longer windows
// are read rarely and are fetched as one unit.
type Decomposer struct {
	// Location defines calendar days (default time.Local)
	Location *time.Location

	// RecentWindow bounds how far back a cacheable window may start
	RecentWindow time.Duration

	// MaxSpan is the exclusive upper bound on a cacheable window's length
	MaxSpan time.Duration

	// Now returns the current time (default time.Now)
	Now func() time.Time
}

// NewDecomposer returns a decomposer with the default caching policy
func NewDecomposer(loc *time.Location) *Decomposer {
	if loc == nil {
		loc = time.Local
	}
	return &Decomposer{
		Location:     loc,
		RecentWindow: config.RecentWindow,
		MaxSpan:      config.MaxCachedSpan,
		Now:          time.Now,
	}
}

// Decompose returns whether the window should be cached and its boundaries.
//
// Uncached windows return [start, end]. Cached windows return day-aligned
// boundaries: the start of each calendar day the window touches, then the
// end of the last day, so N days give N+1 boundaries.
func (d *Decomposer) Decompose(start, end time.Time) (bool, []time.Time) {
	if !d.cacheable(start, end) {
		return false, []time.Time{start, end}
	}

	loc := d.location()
	day := StartOfDay(start.In(loc))
	last := StartOfDay(end.Add(-time.Nanosecond).In(loc))

	var boundaries []time.Time
	for !day.After(last) {
		boundaries = append(boundaries, day)
		day = NextDay(day)
	}
	// End-of-day sentinel for the last day
	boundaries = append(boundaries, day)
	return true, boundaries
}

func (d *Decomposer) cacheable(start, end time.Time) bool {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return false
	}
	now := d.now()
	recent := !start.Before(now.Add(-d.RecentWindow))
	bounded := end.Sub(start) < d.MaxSpan
	return recent && bounded
}

func (d *Decomposer) location() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

func (d *Decomposer) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Today returns the sub-range covering the current day
func (d *Decomposer) Today() Range {
	day := StartOfDay(d.now().In(d.location()))
	return Range{Start: day, End: NextDay(day)}
}

// SubRanges pairs consecutive boundaries
func SubRanges(boundaries []time.Time) []Range {
	if len(boundaries) < 2 {
		return nil
	}
	out := make([]Range, 0, len(boundaries)-1)
	for i := 1; i < len(boundaries); i++ {
		out = append(out, Range{Start: boundaries[i-1], End: boundaries[i]})
	}
	return out
}

// Days returns the start of every calendar day in loc that [start, end]
// touches. An instant interval touches one day.
func Days(start, end time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	if end.Before(start) {
		start, end = end, start
	}
	day := StartOfDay(start.In(loc))
	last := StartOfDay(end.In(loc))

	var days []time.Time
	for !day.After(last) {
		days = append(days, day)
		day = NextDay(day)
	}
	return days
}

// StartOfDay truncates t to midnight in t's location
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextDay returns midnight of the following calendar day. Calendar
// arithmetic keeps days aligned across DST changes.
func NextDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, day.Location())
}

// StartOfWeek truncates t to midnight of the preceding Monday
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	y, m, d := day.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, day.Location())
}
