package host

import (
	"sync"

	"github.com/golang/glog"
)

// SerialExecutor runs submitted functions one at a time, in submission order,
// on a dedicated goroutine. The queue is unbounded so Submit never blocks.
type SerialExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerialExecutor starts an executor.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// Submit queues fn. Functions submitted after Close are dropped.
func (e *SerialExecutor) Submit(fn func()) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, fn)
	e.cond.Broadcast()
}

// Sync blocks until every function submitted before the call has run.
// It returns immediately after Close. It must not be called from a submitted
// function.
func (e *SerialExecutor) Sync() {
	done := make(chan struct{})
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, func() { close(done) })
	e.cond.Broadcast()
	e.mu.Unlock()

	select {
	case <-done:
	case <-e.done:
	}
}

// Close stops the executor after the currently running function. Queued
// functions are discarded. Close does not wait, so it is safe to call from a
// submitted function, and it is idempotent.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.queue = nil
	e.cond.Broadcast()
}

// Done is closed once the executor goroutine has exited.
func (e *SerialExecutor) Done() <-chan struct{} {
	return e.done
}

func (e *SerialExecutor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(fn)
	}
}

func (e *SerialExecutor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[executor]task panic: %v\n", r)
		}
	}()
	fn()
}
