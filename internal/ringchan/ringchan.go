// Package ringchan provides a bounded channel with overwrite-oldest semantics.
//
// The event loop publishes session changes through ring channels so that a slow
// subscriber loses old changes instead of stalling the loop:
//
//	rc := ringchan.New[session.Change](16)
//	rc.Send(change)            // never blocks
//	for c := range rc.C() { }  // consumer side, ends after Close
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel. Send and Close may be called from
// different goroutines; a Send after Close is discarded.
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel holding at most capacity elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, discarding the oldest element when full. It reports whether
// an element was discarded. A Send after Close discards v and reports false.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		// The consumer may drain concurrently, so the drop is non-blocking too.
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TryReceive returns the next element without blocking.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the receive side. It is idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Metrics counts elements accepted and overwritten since creation.
type Metrics struct {
	Written     int64
	Overwritten int64
}

func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{Written: rc.written.Load(), Overwritten: rc.overwritten.Load()}
}
