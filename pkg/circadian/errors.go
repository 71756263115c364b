package circadian

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMergeFailure is returned when endpoints cannot be stitched into a timeline
	ErrMergeFailure = errors.New("timeline merge failed")

	// ErrEmptyInput is returned when no event falls inside the window.
	// An all-fasting timeline needs at least one real anchor event.
	ErrEmptyInput = fmt.Errorf("%w: no events in window", ErrMergeFailure)

	// ErrUnbalanced is returned when an endpoint list has an odd length
	ErrUnbalanced = fmt.Errorf("%w: unequal start and end endpoints", ErrMergeFailure)

	// ErrUnordered is returned when a sequence is not sorted by time
	ErrUnordered = fmt.Errorf("%w: endpoints out of order", ErrMergeFailure)
)

// RangeError records which operation, cache key, and window failed.
type RangeError struct {
	Op    string
	Key   string
	Start time.Time
	End   time.Time
	Err   error
}

func (e *RangeError) Error() string {
	window := e.Start.Format(time.RFC3339) + ".." + e.End.Format(time.RFC3339)
	if e.Key != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Op, e.Key, window, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, window, e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }
