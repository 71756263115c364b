package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/ranges"
)

// DayValue is one per-day statistic
type DayValue struct {
	Day      time.Time     `json:"day"`
	Duration time.Duration `json:"duration"`
}

// Daily is a per-day statistic sorted by day
type Daily []DayValue

// Total sums all days
func (d Daily) Total() time.Duration {
	var total time.Duration
	for _, v := range d {
		total += v.Duration
	}
	return total
}

func toDaily(b Buckets[time.Time]) Daily {
	out := make(Daily, 0, len(b))
	for day, d := range b {
		out = append(out, DayValue{Day: day, Duration: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

func dayOf(loc *time.Location) func(circadian.Endpoint) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	return func(ep circadian.Endpoint) (time.Time, bool) {
		return ranges.StartOfDay(ep.Time.In(loc)), true
	}
}

// EatingFold sums meal time per calendar day of the meal's start
func EatingFold(loc *time.Location) Fold[Buckets[time.Time], Daily] {
	sum := SumFold(IsTag(circadian.Meal), dayOf(loc))
	return Fold[Buckets[time.Time], Daily]{
		Filter:   sum.Filter,
		Init:     sum.Init,
		Combine:  sum.Combine,
		Finalize: func(acc Buckets[time.Time]) Daily { return toDaily(acc) },
	}
}

// EatingTimes returns total eating time per day
func EatingTimes(tl circadian.Timeline, loc *time.Location) Daily {
	return Run(tl, EatingFold(loc))
}

// Stretches tracks contiguous fasting stretches
type Stretches struct {
	loc     *time.Location
	open    bool
	start   time.Time
	end     time.Time
	longest Buckets[time.Time]
}

func (s *Stretches) record(longest Buckets[time.Time]) {
	if !s.open {
		return
	}
	day := ranges.StartOfDay(s.start.In(s.loc))
	if d := s.end.Sub(s.start); d > longest[day] {
		longest[day] = d
	}
}

// MaxFastingFold finds, per day, the longest stretch of touching
// Sleep/Exercise/Fast intervals, keyed by the day the stretch starts. A
// stretch runs until the next non-fasting interval starts or the
// timeline ends.
func MaxFastingFold(loc *time.Location) Fold[*Stretches, Daily] {
	if loc == nil {
		loc = time.Local
	}
	return Fold[*Stretches, Daily]{
		Filter: IsFasting,
		Init: func() *Stretches {
			return &Stretches{loc: loc, longest: make(Buckets[time.Time])}
		},
		Combine: func(acc *Stretches, s Step) *Stretches {
			if !s.IsStart {
				acc.end = s.Until()
				return acc
			}
			if acc.open && s.Adjacent {
				return acc
			}
			acc.record(acc.longest)
			acc.open = true
			acc.start = s.Cur.Time
			acc.end = s.Cur.Time
			return acc
		},
		Finalize: func(acc *Stretches) Daily {
			longest := make(Buckets[time.Time], len(acc.longest)+1)
			for k, v := range acc.longest {
				longest[k] = v
			}
			acc.record(longest)
			return toDaily(longest)
		},
	}
}

// MaxFastingTimes returns the longest fasting stretch per day
func MaxFastingTimes(tl circadian.Timeline, loc *time.Location) Daily {
	return Run(tl, MaxFastingFold(loc))
}

// Split selects a two-way category breakdown
type Split string

const (
	// SplitFastEat compares fasting (sleep, exercise, fast) with eating
	SplitFastEat Split = "fast-eat"
	// SplitSleepAwake compares fasting asleep with fasting awake
	SplitSleepAwake Split = "sleep-awake"
	// SplitEatExercise compares eating with exercising
	SplitEatExercise Split = "eat-exercise"
)

// ParseSplit validates a split name
func ParseSplit(s string) (Split, error) {
	switch v := Split(s); v {
	case SplitFastEat, SplitSleepAwake, SplitEatExercise:
		return v, nil
	default:
		return "", fmt.Errorf("unknown split %q", s)
	}
}

// Labels names category 0 and category 1 of the split
func (s Split) Labels() [2]string {
	switch s {
	case SplitSleepAwake:
		return [2]string{"asleep", "awake"}
	case SplitEatExercise:
		return [2]string{"eating", "exercising"}
	default:
		return [2]string{"fasting", "eating"}
	}
}

// Category returns the category of a kind, or false if the split ignores it
func (s Split) Category(k circadian.Kind) (int, bool) {
	switch s {
	case SplitSleepAwake:
		switch k.Tag {
		case circadian.Sleep:
			return 0, true
		case circadian.Fast, circadian.Exercise:
			return 1, true
		}
	case SplitEatExercise:
		switch k.Tag {
		case circadian.Meal:
			return 0, true
		case circadian.Exercise:
			return 1, true
		}
	default:
		if k.IsFasting() {
			return 0, true
		}
		if k.Tag == circadian.Meal {
			return 1, true
		}
	}
	return 0, false
}

// CategoryTotal is one side of a split
type CategoryTotal struct {
	Category int           `json:"category"`
	Label    string        `json:"label"`
	Duration time.Duration `json:"duration"`
}

// CategoryDurations sums time into the two categories of the split
func CategoryDurations(tl circadian.Timeline, split Split) []CategoryTotal {
	buckets := SumBy(tl,
		func(ep circadian.Endpoint) bool {
			_, ok := split.Category(ep.Kind)
			return ok
		},
		func(ep circadian.Endpoint) (int, bool) {
			return split.Category(ep.Kind)
		},
	)

	labels := split.Labels()
	out := make([]CategoryTotal, 0, len(labels))
	for i, label := range labels {
		out = append(out, CategoryTotal{Category: i, Label: label, Duration: buckets[i]})
	}
	return out
}

// Unit is the calendar grouping for variability
type Unit string

const (
	UnitDay  Unit = "day"
	UnitWeek Unit = "week"
)

// ParseUnit validates a unit name
func ParseUnit(s string) (Unit, error) {
	switch v := Unit(s); v {
	case UnitDay, UnitWeek:
		return v, nil
	default:
		return "", fmt.Errorf("unknown unit %q", s)
	}
}

// Length is the longest duration one bucket may hold
func (u Unit) Length() time.Duration {
	if u == UnitWeek {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func (u Unit) bucket(t time.Time) time.Time {
	if u == UnitWeek {
		return ranges.StartOfWeek(t)
	}
	return ranges.StartOfDay(t)
}

// Variability is the spread of fasting time across buckets
type Variability struct {
	Unit     Unit    `json:"unit"`
	Buckets  int     `json:"buckets"`
	Mean     float64 `json:"mean_seconds"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"stddev_seconds"`
}

// FastingVariabilityFold buckets fasting time by unit, caps each bucket at
// the unit length, and computes the sample standard deviation in seconds.
func FastingVariabilityFold(unit Unit, loc *time.Location) Fold[Buckets[time.Time], Variability] {
	if loc == nil {
		loc = time.Local
	}
	sum := SumFold(IsFasting, func(ep circadian.Endpoint) (time.Time, bool) {
		return unit.bucket(ep.Time.In(loc)), true
	})
	return Fold[Buckets[time.Time], Variability]{
		Filter:  sum.Filter,
		Init:    sum.Init,
		Combine: sum.Combine,
		Finalize: func(acc Buckets[time.Time]) Variability {
			var w Welford
			for _, dv := range toDaily(acc) {
				d := dv.Duration
				if d > unit.Length() {
					d = unit.Length()
				}
				w.Add(d.Seconds())
			}
			return Variability{
				Unit:     unit,
				Buckets:  w.Count(),
				Mean:     w.Mean(),
				Variance: w.Variance(),
				StdDev:   w.StdDev(),
			}
		},
	}
}

// FastingVariability returns the spread of fasting time per unit
func FastingVariability(tl circadian.Timeline, unit Unit, loc *time.Location) Variability {
	return Run(tl, FastingVariabilityFold(unit, loc))
}
