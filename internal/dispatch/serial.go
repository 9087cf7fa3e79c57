package dispatch

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("dispatch: executor is closed")

// Executor runs posted functions asynchronously.
type Executor interface {
	Post(fn func()) error
}

// Serial runs posted functions one at a time, in the order they were posted,
// on a single goroutine. It is the "apply to model" queue: every mutation of
// adapter list state and every list-ready notification goes through one.
type Serial struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	onPanic func(any)
}

func NewSerial() *Serial {
	s := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// OnPanic installs a handler for panics raised by posted functions. Without
// one the panic is re-raised and takes the process down.
func (s *Serial) OnPanic(fn func(any)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.onPanic = fn
	s.mu.Unlock()
}

func (s *Serial) Post(fn func()) error {
	if s == nil {
		return ErrClosed
	}
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush waits until everything posted before the call has run.
func (s *Serial) Flush(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reached := make(chan struct{})
	if err := s.Post(func() { close(reached) }); err != nil {
		return err
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work. Functions already posted still run; Close
// returns once they have.
func (s *Serial) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

func (s *Serial) run() {
	defer close(s.done)
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			onPanic := s.onPanic
			s.mu.Unlock()
			s.invoke(fn, onPanic)
		}
	}
}

func (s *Serial) invoke(fn func(), onPanic func(any)) {
	if onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				onPanic(r)
			}
		}()
	}
	fn()
}
