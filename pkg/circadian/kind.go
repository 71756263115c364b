package circadian

import (
	"fmt"
	"time"
)

// Tag names the metabolic state of an interval.
type Tag string

const (
	Sleep    Tag = "sleep"
	Exercise Tag = "exercise"
	Meal     Tag = "meal"
	Fast     Tag = "fast"
)

// order is the tie-break used when two intervals share start and end.
func (t Tag) order() int {
	switch t {
	case Sleep:
		return 0
	case Exercise:
		return 1
	case Meal:
		return 2
	case Fast:
		return 3
	default:
		return 4
	}
}

// Kind is what state the subject was in during an interval.
// MealType is set only for meals, ActivityType only for exercise.
type Kind struct {
	Tag          Tag    `json:"tag"`
	MealType     string `json:"meal_type,omitempty"`
	ActivityType string `json:"activity_type,omitempty"`
}

// SleepKind returns the sleep state
func SleepKind() Kind { return Kind{Tag: Sleep} }

// FastKind returns the fasting state
func FastKind() Kind { return Kind{Tag: Fast} }

// MealKind returns an eating state for the given meal type
func MealKind(mealType string) Kind { return Kind{Tag: Meal, MealType: mealType} }

// ExerciseKind returns an exercising state for the given activity
func ExerciseKind(activity string) Kind { return Kind{Tag: Exercise, ActivityType: activity} }

// IsFasting reports whether no food is consumed in this state.
func (k Kind) IsFasting() bool {
	return k.Tag == Sleep || k.Tag == Exercise || k.Tag == Fast
}

func (k Kind) String() string {
	switch k.Tag {
	case Meal:
		return fmt.Sprintf("meal(%s)", k.MealType)
	case Exercise:
		return fmt.Sprintf("exercise(%s)", k.ActivityType)
	default:
		return string(k.Tag)
	}
}

// less orders kinds deterministically: Sleep < Exercise < Meal < Fast,
// then by meal or activity name.
func (k Kind) less(o Kind) bool {
	if k.Tag != o.Tag {
		return k.Tag.order() < o.Tag.order()
	}
	if k.MealType != o.MealType {
		return k.MealType < o.MealType
	}
	return k.ActivityType < o.ActivityType
}

// Endpoint marks the start or end of one typed interval.
type Endpoint struct {
	Time time.Time `json:"t"`
	Kind Kind      `json:"kind"`
}

// Interval is a typed [Start, End] span.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Kind  Kind      `json:"kind"`
}

// Duration returns End - Start
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Endpoints returns the start/end pair for the interval
func (iv Interval) Endpoints() (Endpoint, Endpoint) {
	return Endpoint{Time: iv.Start, Kind: iv.Kind}, Endpoint{Time: iv.End, Kind: iv.Kind}
}
