// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel so producers never block:
// when the buffer is full the oldest element is discarded.
//
//	rc := ringchan.New[string](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(strconv.Itoa(i))
//	}
//	// a reader of rc.C() now sees only "7", "8", "9"
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest one if the buffer is full.
// Reports whether an item was dropped. Never blocks on a single producer.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false

	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
		rc.ch <- v
	}
	atomic.AddInt64(&rc.metrics.Written, 1)

	return dropped
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Close closes the underlying channel. Send panics afterwards.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// GetMetrics returns a snapshot of the counters.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts items written and items discarded to make room.
type Metrics struct {
	Written     int64
	Overwritten int64
}
