package stream

import (
	"errors"
	"iter"
	"sync"
	"sync/atomic"
)

// ErrPullerRunning is returned by Outbox.Run when a puller is already active.
var ErrPullerRunning = errors.New("stream: outbox puller already running")

// Outbox is the write queue for transports that pull their input, such as a
// sink consuming a sequence of chunks. Writers Push; exactly one puller
// drains the queue through Run.
type Outbox struct {
	mu      sync.Mutex
	queue   [][]byte
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

func NewOutbox() *Outbox {
	return &Outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push enqueues a copy of p and wakes the puller if it is idle.
func (o *Outbox) Push(p []byte) error {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.queue = append(o.queue, chunk)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the puller and drops anything still queued.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.queue = nil
	close(o.done)
}

// Len reports how many chunks are waiting for the puller.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Outbox) next() ([]byte, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		if len(o.queue) > 0 {
			chunk := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return chunk, true
		}
		o.mu.Unlock()

		select {
		case <-o.wake:
		case <-o.done:
			return nil, false
		}
	}
}

// chunks yields queued chunks in order, suspending while the queue is
// empty. The sequence ends when the Outbox is closed.
func (o *Outbox) chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			chunk, ok := o.next()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

// Run hands the chunk sequence to sink and blocks until sink returns.
// Only one Run may be active per Outbox.
func (o *Outbox) Run(sink func(chunks iter.Seq[[]byte]) error) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrPullerRunning
	}
	defer o.running.Store(false)
	return sink(o.chunks())
}
