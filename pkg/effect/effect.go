// Package effect provides a single operation representation that can be driven
// either by blocking the calling goroutine or by running it in the background
// and awaiting the result.
//
// Every vault operation in seccat is written once as an Effect. The blocking API
// calls Run, the non-blocking API calls Start and hands the returned Future to
// the caller. Because both entry points drive the same function to completion,
// success values and error classification are identical for both conventions.
//
// # Cancellation
//
// Await returns ctx.Err() as soon as the awaiting context is done. The effect
// itself observes the context passed to Start; work that already reached a
// remote system (for example a vault write) is not rolled back.
package effect

import (
	"context"
	"fmt"
)

// Effect is a deferred operation that produces a T or an error.
type Effect[T any] func(ctx context.Context) (T, error)

// Run drives the effect on the calling goroutine and returns its result.
func (e Effect[T]) Run(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return e.call(ctx)
}

// Start runs the effect on a new goroutine and returns a Future for its result.
// The calling goroutine is never suspended.
func (e Effect[T]) Start(ctx context.Context) *Future[T] {
	f := newFuture[T]()
	go func() {
		v, err := e.Run(ctx)
		f.complete(v, err)
	}()
	return f
}

// call invokes the effect and converts a panic into an error so that a
// misbehaving backend cannot take down a background goroutine silently.
func (e Effect[T]) call(ctx context.Context) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("effect panicked: %v", r)
		}
	}()
	return e(ctx)
}

// Then sequences two effects: the second is built from the first's result.
func Then[T, U any](first Effect[T], next func(T) Effect[U]) Effect[U] {
	return func(ctx context.Context) (U, error) {
		v, err := first(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return next(v)(ctx)
	}
}

// Map transforms the result of an effect.
func Map[T, U any](e Effect[T], fn func(T) U) Effect[U] {
	return func(ctx context.Context) (U, error) {
		v, err := e(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(v), nil
	}
}

// FromFuture adapts an already started Future back into an Effect so it can be
// composed with Then.
func FromFuture[T any](f *Future[T]) Effect[T] {
	return f.Await
}
