// Package ringchan is a bounded channel whose producers never block: when the
// buffer is full the oldest element is discarded.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Metrics counts channel traffic. Received only counts Receive and
// TryReceive; reads through C bypass it.
type Metrics struct {
	Written     uint64 `json:"written"`
	Overwritten uint64 `json:"overwritten"`
	Received    uint64 `json:"received"`
}

// Ring is a bounded overwrite-oldest channel.
type Ring[T any] struct {
	mu     sync.Mutex // serializes producers so drop-then-send cannot block
	ch     chan T
	closed bool

	written     atomic.Uint64
	overwritten atomic.Uint64
	received    atomic.Uint64
}

// New creates a ring holding up to capacity elements.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side for range loops and selects.
func (r *Ring[T]) C() <-chan T { return r.ch }

// Send inserts v, discarding the oldest element when full. It reports whether
// an element was discarded. Send after Close is a no-op.
func (r *Ring[T]) Send(v T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	for {
		select {
		case r.ch <- v:
			r.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			r.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (r *Ring[T]) TrySend(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.ch <- v:
		r.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks for the next element; ok is false once closed and empty.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	if ok {
		r.received.Add(1)
	}
	return v, ok
}

// TryReceive returns the next element without blocking.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		if ok {
			r.received.Add(1)
		}
		return v, ok
	default:
		return v, false
	}
}

// Drain returns every buffered element.
func (r *Ring[T]) Drain() []T {
	var out []T
	for {
		v, ok := r.TryReceive()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func (r *Ring[T]) Len() int { return len(r.ch) }
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Close closes the receive side. It is safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Metrics returns a snapshot of the traffic counters.
func (r *Ring[T]) Metrics() Metrics {
	return Metrics{
		Written:     r.written.Load(),
		Overwritten: r.overwritten.Load(),
		Received:    r.received.Load(),
	}
}
