package lattice

import "context"

// Result is a tagged success/failure carrier. The zero value is not a valid
// Result; use Ok or Err to construct one.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Err wraps a failure.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err, ok: false}
}

// IsOk reports whether the result carries a success value.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr reports whether the result carries an error.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the success value and the error, mirroring a Go-native
// (value, error) pair for callers that prefer that shape.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// UnwrapOr returns the success value, or fallback if this is an Err.
func (r Result[T]) UnwrapOr(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Error returns the wrapped error, or nil if this is an Ok.
func (r Result[T]) Error() error { return r.err }

// Map transforms the success value, leaving an Err untouched.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.ok {
		return Ok(f(r.value))
	}
	return Err[U](r.err)
}

// MapErr transforms the error, leaving an Ok untouched.
func MapErr[T any](r Result[T], f func(error) error) Result[T] {
	if r.ok {
		return r
	}
	return Err[T](f(r.err))
}

// LazyAction is a deferred asynchronous computation that, when Run, yields a
// Result[T]. Construction is cheap and side-effect-free; the same action may
// be run more than once, and repeated runs are not required to be idempotent
// (see the idempotency executor for exactly-once semantics).
type LazyAction[T any] func(ctx context.Context) Result[T]

// FromValue builds a LazyAction that always succeeds with value.
func FromValue[T any](value T) LazyAction[T] {
	return func(ctx context.Context) Result[T] { return Ok(value) }
}

// FromError builds a LazyAction that always fails with err.
func FromError[T any](err error) LazyAction[T] {
	return func(ctx context.Context) Result[T] { return Err[T](err) }
}

// FromFunc lifts a plain (context, error)-returning function into a
// LazyAction, mapping a non-nil error through errFn (or passing it through
// unchanged if errFn is nil).
func FromFunc[T any](fn func(ctx context.Context) (T, error), errFn func(error) error) LazyAction[T] {
	return func(ctx context.Context) Result[T] {
		v, err := fn(ctx)
		if err != nil {
			if errFn != nil {
				err = errFn(err)
			}
			return Err[T](err)
		}
		return Ok(v)
	}
}

// Run awaits the action, translating a cancelled context into a Cancelled
// error if the underlying function did not already surface one. Checked
// regardless of whether the action itself reported success: a value
// produced racing against cancellation is never surfaced as a partial
// success.
func (a LazyAction[T]) Run(ctx context.Context) Result[T] {
	r := a(ctx)
	if ctx.Err() != nil {
		return Err[T](errCancelled(ctx.Err(), r.Error()))
	}
	return r
}

// Cancelled marks a failure caused by context cancellation rather than the
// action's own logic.
type Cancelled struct {
	Cause error
}

func (c *Cancelled) Error() string {
	if c.Cause != nil {
		return "cancelled: " + c.Cause.Error()
	}
	return "cancelled"
}

func (c *Cancelled) Unwrap() error { return c.Cause }

func errCancelled(ctxErr, natural error) error {
	if natural != nil {
		return natural
	}
	return &Cancelled{Cause: ctxErr}
}
