// Package parallel runs bounded concurrent work with ordered results.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Result is the outcome of one item. A panic in the worker is reported as
// Err.
type Result[R any] struct {
	Value R
	Err   error
}

// DoneFunc is called after each item finishes with the number finished so
// far. Calls are serialized.
type DoneFunc func(done, total int)

// DefaultWorkers is the worker count used when Map is given workers <= 0.
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// Map applies fn to every item with at most workers goroutines and returns
// the results in input order. Items not yet started when ctx is cancelled
// get ctx.Err().
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error), onDone DoneFunc) []Result[R] {
	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]Result[R], len(items))
	var (
		mu   sync.Mutex
		done int
	)
	finish := func() {
		if onDone == nil {
			return
		}
		mu.Lock()
		done++
		onDone(done, len(items))
		mu.Unlock()
	}

	p := pool.New().WithMaxGoroutines(workers)
	for i, item := range items {
		p.Go(func() {
			defer finish()
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return
			}

			var pc panics.Catcher
			pc.Try(func() {
				results[i].Value, results[i].Err = fn(ctx, item)
			})
			if r := pc.Recovered(); r != nil {
				results[i].Err = r.AsError()
			}
		})
	}
	p.Wait()

	return results
}
