// Package batch runs data-dependent fan-outs with a bound on in-flight work.
package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Outcome is the tagged result of one mapped item. Exactly one of Value and
// Err is meaningful: Err == nil means the item fulfilled.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Fulfilled reports whether the item succeeded.
func (o Outcome[T]) Fulfilled() bool {
	return o.Err == nil
}

// MapLimit applies fn to every item with at most limit invocations in flight,
// returning one outcome per item in input order regardless of completion
// order. An individual item's failure is captured in its outcome and never
// aborts the batch. The limit is clamped to [1, len(items)].
//
// Cancellation of ctx does not interrupt mappers already running; it is
// passed through so mappers can honor it themselves.
func MapLimit[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []Outcome[R] {
	if len(items) == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}
	if limit > len(items) {
		limit = len(items)
	}

	sem := semaphore.NewWeighted(int64(limit))
	results := make([]Outcome[R], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a slot: the remaining
			// items fail with the context error, preserving order.
			for j := i; j < len(items); j++ {
				results[j] = Outcome[R]{Err: fmt.Errorf("acquire slot: %w", err)}
			}
			break
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			v, err := fn(ctx, item)
			results[i] = Outcome[R]{Value: v, Err: err}
		}(i, item)
	}
	wg.Wait()

	return results
}
