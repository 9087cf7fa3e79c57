package dispatch

import (
	"context"
	"sync"
)

// Pool runs submitted functions on a fixed number of worker goroutines.
type Pool struct {
	mu         sync.RWMutex
	closed     bool
	tasks      chan task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	submitting sync.WaitGroup
}

// task is a queued function. abort runs instead of run when the pool
// closes before a worker picks the task up.
type task struct {
	run   func()
	abort func()
}

func NewPool(buffer, workers int) *Pool {
	if buffer <= 0 {
		buffer = 64
	}
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		tasks:  make(chan task, buffer),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

// Submit queues fn, blocking while the buffer is full. A queued fn that
// no worker has started when Close runs is discarded.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	return p.submit(ctx, task{run: fn})
}

func (p *Pool) submit(ctx context.Context, t task) error {
	if p == nil {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.submitting.Add(1)
	tasks := p.tasks
	stopCh := p.stopCh
	p.mu.RUnlock()
	defer p.submitting.Done()

	select {
	case tasks <- t:
		return nil
	case <-stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers after their current task. Tasks still queued
// are aborted, so futures from Go resolve with ErrClosed.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()
	p.submitting.Wait()
	p.wg.Wait()
	for {
		select {
		case t := <-p.tasks:
			if t.abort != nil {
				t.abort()
			}
		default:
			return
		}
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		select {
		case <-p.stopCh:
			return
		case t := <-p.tasks:
			if t.run != nil {
				t.run()
			}
		}
	}
}
