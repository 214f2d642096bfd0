package sync

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// mapBounded runs fn over items with at most workers goroutines in flight.
//
// The mapper is fail-fast: the first error cancels the in-flight batch and
// is returned. Callers record it in the run's error list and move on to
// the next phase. onDone, when non-nil, is called after each completed
// item with (completed, total) for progress reporting.
func mapBounded[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error, onDone func(completed, total int)) error {
	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 4
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var completed atomic.Int64
	total := len(items)

	for _, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, item); err != nil {
				return err
			}
			if onDone != nil {
				onDone(int(completed.Add(1)), total)
			}
			return nil
		})
	}

	return g.Wait()
}
