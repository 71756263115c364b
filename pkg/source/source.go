// Package source defines the read contract the timeline engine has with the
// external collaborator that owns raw health samples.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SampleType identifies one kind of raw sample the source can return.
type SampleType string

const (
	SampleTypeSleep   SampleType = "sleep"
	SampleTypeWorkout SampleType = "workout"
)

// Workout conventions used to record meals as workouts.
const (
	ActivityPreparationAndRecovery = "PreparationAndRecovery"
	MetadataMealType               = "Meal Type"
)

// CircadianTypes are the sample types a timeline is built from.
var CircadianTypes = []SampleType{SampleTypeSleep, SampleTypeWorkout}

// RawSample is one interval event as returned by the sample source.
type RawSample struct {
	ID           uuid.UUID         `json:"id"`
	Type         SampleType        `json:"type"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	Category     string            `json:"category,omitempty"`
	ActivityType string            `json:"activity_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

var (
	// ErrSourceUnavailable is returned when the sample source fails or denies access
	ErrSourceUnavailable = errors.New("sample source unavailable")

	// ErrEmptyResult is returned when a fetch that anchors a query finds no samples
	ErrEmptyResult = errors.New("no samples found")

	// ErrUnknownSampleType is returned for samples with an unsupported type
	ErrUnknownSampleType = errors.New("unknown sample type")

	// ErrInvalidInterval is returned when a sample ends before it starts
	ErrInvalidInterval = errors.New("sample ends before it starts")

	// ErrMissingTimestamp is returned when a sample has no start or end
	ErrMissingTimestamp = errors.New("sample is missing a timestamp")
)

// Validate checks that a sample can be placed on a timeline.
func (s RawSample) Validate() error {
	switch s.Type {
	case SampleTypeSleep, SampleTypeWorkout:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSampleType, s.Type)
	}
	if s.Start.IsZero() || s.End.IsZero() {
		return ErrMissingTimestamp
	}
	if s.End.Before(s.Start) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidInterval, s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
	}
	return nil
}

// Predicate selects samples that overlap [Start, End).
// A zero Start or End leaves that side unbounded.
type Predicate struct {
	Start time.Time
	End   time.Time
}

// Matches reports whether the sample overlaps the predicate window.
func (p Predicate) Matches(s RawSample) bool {
	if !p.End.IsZero() && !s.Start.Before(p.End) {
		return false
	}
	if !p.Start.IsZero() && !s.End.After(p.Start) {
		return false
	}
	return true
}

// SortOrder controls the order of fetched samples.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortStartAscending
	SortStartDescending
)

// Source returns raw samples of one type matching a predicate.
// limit <= 0 means no limit.
type Source interface {
	Fetch(ctx context.Context, sampleType SampleType, pred Predicate, limit int, order SortOrder) ([]RawSample, error)
}
