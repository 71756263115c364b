package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// Source keeps raw samples in memory. Data is lost on restart.
// Useful for testing, the CLI, and seeding the server from a file.
type Source struct {
	samples map[uuid.UUID]source.RawSample
	mu      sync.RWMutex
}

// New creates an in-memory sample source
func New(samples ...source.RawSample) *Source {
	s := &Source{
		samples: make(map[uuid.UUID]source.RawSample),
	}
	s.Add(samples...)
	return s
}

// Add stores samples, replacing any sample with the same ID.
// Samples without an ID are assigned one. Returns the stored samples.
func (s *Source) Add(samples ...source.RawSample) []source.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]source.RawSample, 0, len(samples))
	for _, sample := range samples {
		if sample.ID == uuid.Nil {
			sample.ID = uuid.New()
		}
		sample.Metadata = copyMetadata(sample.Metadata)
		s.samples[sample.ID] = sample
		stored = append(stored, sample)
	}
	return stored
}

// Remove deletes samples by ID and returns the samples that were removed
func (s *Source) Remove(ids ...uuid.UUID) []source.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []source.RawSample
	for _, id := range ids {
		if sample, ok := s.samples[id]; ok {
			removed = append(removed, sample)
			delete(s.samples, id)
		}
	}
	return removed
}

// Len returns the number of stored samples
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Fetch returns samples of the given type overlapping the predicate window
func (s *Source) Fetch(ctx context.Context, sampleType source.SampleType, pred source.Predicate, limit int, order source.SortOrder) ([]source.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var results []source.RawSample
	for _, sample := range s.samples {
		if sample.Type != sampleType || !pred.Matches(sample) {
			continue
		}
		sample.Metadata = copyMetadata(sample.Metadata)
		results = append(results, sample)
	}
	s.mu.RUnlock()

	// Map iteration order is random; always sort so limits are deterministic
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.Start.Equal(b.Start) {
			if order == source.SortStartDescending {
				return a.Start.After(b.Start)
			}
			return a.Start.Before(b.Start)
		}
		return a.ID.String() < b.ID.String()
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
