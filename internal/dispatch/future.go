package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Future is the result of a function submitted with Go.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Go runs fn on the pool and returns its future. Panics inside fn resolve the
// future with a *PanicError. If the pool closes before fn starts the future
// resolves with ErrClosed.
func Go[T any](ctx context.Context, pool *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	if ctx == nil {
		ctx = context.Background()
	}
	run := func() {
		var (
			value T
			err   error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r}
				}
			}()
			value, err = fn(ctx)
		}()
		f.resolve(value, err)
	}
	abort := func() {
		var zero T
		f.resolve(zero, ErrClosed)
	}
	if err := pool.submit(ctx, task{run: run, abort: abort}); err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}

func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then posts fn to exec once the future resolves. It returns immediately.
// When exec refuses the post, dropped (if non-nil) receives the error.
func (f *Future[T]) Then(exec Executor, fn func(T, error), dropped func(error)) {
	go func() {
		<-f.done
		value, err := f.value, f.err
		if postErr := exec.Post(func() { fn(value, err) }); postErr != nil && dropped != nil {
			dropped(postErr)
		}
	}()
}
