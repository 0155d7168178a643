package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds fan-out against external services.
const DefaultConcurrency = 8

// Gather runs fn for every index in [0, n) concurrently, with at most limit
// branches in flight (limit <= 0 means DefaultConcurrency). Every branch runs
// to completion regardless of failures in its siblings. If any branch fails a
// *FanOutError carrying the lowest-indexed failure is returned alongside the
// partial results.
func Gather[T any](ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	if n == 0 {
		return results, nil
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i], errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	var fanErr *FanOutError
	for i, err := range errs {
		if err == nil {
			continue
		}
		if fanErr == nil {
			fanErr = &FanOutError{Index: i, Err: err, Total: n}
		}
		fanErr.Failed++
	}
	if fanErr != nil {
		return results, fanErr
	}
	return results, nil
}

// GatherEach is Gather for branches without a result.
func GatherEach(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) error) error {
	_, err := Gather(ctx, limit, n, func(ctx context.Context, i int) (struct{}, error) {
		return struct{}{}, fn(ctx, i)
	})
	return err
}
