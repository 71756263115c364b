package circadian

import (
	"sort"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// ToEndpoints converts raw samples into one chronological endpoint list.
//
// Meals are recorded as PreparationAndRecovery workouts carrying a
// "Meal Type" metadata tag; such a workout without the tag is dropped.
// Every other workout is exercise, every sleep sample is sleep.
//
// Intervals are sorted before they are flattened, so two endpoints of the
// same interval are always adjacent. Same-timestamp ties resolve as
// start asc, end asc, then Sleep < Exercise < Meal < Fast.
func ToEndpoints(samples []source.RawSample) []Endpoint {
	intervals := make([]Interval, 0, len(samples))
	for _, s := range samples {
		kind, ok := classify(s)
		if !ok {
			continue
		}
		intervals = append(intervals, Interval{Start: s.Start, End: s.End, Kind: kind})
	}
	SortIntervals(intervals)
	return Flatten(intervals)
}

func classify(s source.RawSample) (Kind, bool) {
	switch s.Type {
	case source.SampleTypeSleep:
		return SleepKind(), true
	case source.SampleTypeWorkout:
		if s.ActivityType == source.ActivityPreparationAndRecovery {
			mealType, ok := s.Metadata[source.MetadataMealType]
			if !ok || mealType == "" {
				return Kind{}, false
			}
			return MealKind(mealType), true
		}
		return ExerciseKind(s.ActivityType), true
	default:
		return Kind{}, false
	}
}

// SortIntervals sorts in place using the merger's deterministic order
func SortIntervals(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		a, b := intervals[i], intervals[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.Kind.less(b.Kind)
	})
}

// Flatten turns intervals into start/end endpoint pairs
func Flatten(intervals []Interval) []Endpoint {
	out := make([]Endpoint, 0, 2*len(intervals))
	for _, iv := range intervals {
		s, e := iv.Endpoints()
		out = append(out, s, e)
	}
	return out
}

// Pair groups an endpoint list back into intervals
func Pair(endpoints []Endpoint) ([]Interval, error) {
	if len(endpoints)%2 != 0 {
		return nil, ErrUnbalanced
	}
	out := make([]Interval, 0, len(endpoints)/2)
	for i := 0; i < len(endpoints); i += 2 {
		out = append(out, Interval{
			Start: endpoints[i].Time,
			End:   endpoints[i+1].Time,
			Kind:  endpoints[i].Kind,
		})
	}
	return out, nil
}
