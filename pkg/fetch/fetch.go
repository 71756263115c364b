// Package fetch fans out independent fetches and fans their results back in
// by position.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

// ErrPartialFanout marks a fan-in where at least one task failed.
// No partial result accompanies it.
var ErrPartialFanout = errors.New("parallel fetch failed")

// Func is one indexed task
type Func[T any] func(ctx context.Context, i int) (T, error)

// All runs fn for every index in [0, n) concurrently and waits for all of
// them. Results are returned in index order regardless of completion
// order. If any task fails, the first error observed is returned.
//
// Sibling tasks are not cancelled when one fails; every launched task
// runs to completion before All returns.
func All[T any](ctx context.Context, n int, fn Func[T]) ([]T, error) {
	results := make([]T, n)

	var (
		g        errgroup.Group
		once     sync.Once
		firstErr error
	)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			v, err := fn(ctx, i)
			if err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("%w: task %d: %w", ErrPartialFanout, i, err)
				})
				return err
			}
			results[i] = v
			return nil
		})
	}

	_ = g.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Types fetches several sample types concurrently, each with its own
// predicate, and returns the samples keyed by type.
func Types(ctx context.Context, src source.Source, preds map[source.SampleType]source.Predicate, limit int) (map[source.SampleType][]source.RawSample, error) {
	types := make([]source.SampleType, 0, len(preds))
	for t := range preds {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	results, err := All(ctx, len(types), func(ctx context.Context, i int) ([]source.RawSample, error) {
		samples, err := src.Fetch(ctx, types[i], preds[types[i]], limit, source.SortStartAscending)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", source.ErrSourceUnavailable, types[i], err)
		}
		return samples, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[source.SampleType][]source.RawSample, len(types))
	for i, t := range types {
		out[t] = results[i]
	}
	return out, nil
}
