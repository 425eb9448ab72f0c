package lattice

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// TimeoutError marks an action that did not complete before its deadline.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Duration)
}

// Retry re-awaits action up to times times on Err, waiting backoff(attempt)
// between attempts (backoff may be nil for no delay). Returns the last
// error if every attempt fails.
func Retry[T any](ctx context.Context, action LazyAction[T], times int, backoff func(attempt int) time.Duration) LazyAction[T] {
	return func(ctx context.Context) Result[T] {
		var last Result[T]
		for attempt := 0; attempt < times; attempt++ {
			if attempt > 0 && backoff != nil {
				select {
				case <-ctx.Done():
					return Err[T](ctx.Err())
				case <-time.After(backoff(attempt)):
				}
			}
			last = action.Run(ctx)
			if last.IsOk() {
				return last
			}
			if ctx.Err() != nil {
				return last
			}
		}
		return last
	}
}

// Timeout races action against a timer, cancelling the action's context and
// returning a TimeoutError if the timer wins.
func Timeout[T any](action LazyAction[T], d time.Duration) LazyAction[T] {
	return func(ctx context.Context) Result[T] {
		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		resultCh := make(chan Result[T], 1)
		go func() {
			resultCh <- action.Run(cctx)
		}()

		select {
		case r := <-resultCh:
			return r
		case <-cctx.Done():
			<-resultCh // drain so the goroutine never leaks
			if ctx.Err() != nil {
				return Err[T](ctx.Err())
			}
			return Err[T](&TimeoutError{Duration: d})
		}
	}
}

// FallbackChain awaits actions in order, returning the first Ok, else the
// last Err.
func FallbackChain[T any](actions ...LazyAction[T]) LazyAction[T] {
	return func(ctx context.Context) Result[T] {
		var last Result[T]
		for _, a := range actions {
			last = a.Run(ctx)
			if last.IsOk() {
				return last
			}
			if ctx.Err() != nil {
				return last
			}
		}
		return last
	}
}

// RaceOk awaits all actions concurrently and returns the first Ok,
// cancelling the rest. If every action fails, returns the last error
// observed.
func RaceOk[T any](ctx context.Context, actions ...LazyAction[T]) (T, error) {
	if len(actions) == 0 {
		var zero T
		return zero, fmt.Errorf("race_ok: no actions")
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		r   Result[T]
		idx int
	}
	ch := make(chan outcome, len(actions))
	for i, a := range actions {
		i, a := i, a
		go func() {
			ch <- outcome{r: a.Run(cctx), idx: i}
		}()
	}

	var lastErr error
	for i := 0; i < len(actions); i++ {
		o := <-ch
		if o.r.IsOk() {
			cancel()
			v, _ := o.r.Unwrap()
			return v, nil
		}
		lastErr = o.r.Error()
	}
	var zero T
	return zero, lastErr
}

// Parallel awaits all actions concurrently, returning Ok of all values iff
// every action succeeds, else the first encountered error with the rest
// cancelled.
func Parallel[T any](ctx context.Context, actions ...LazyAction[T]) ([]T, error) {
	results := make([]T, len(actions))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range actions {
		i, a := i, a
		g.Go(func() error {
			r := a.Run(gctx)
			if r.IsErr() {
				return r.Error()
			}
			v, _ := r.Unwrap()
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// TraversePar runs f over items with bounded concurrency, preserving input
// order in the output slice. Fail-fast: the first error cancels siblings.
func TraversePar[I, O any](ctx context.Context, items []I, concurrency int, f func(ctx context.Context, item I) (O, error)) ([]O, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]O, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			v, err := f(gctx, item)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
