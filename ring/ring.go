// Package ring provides a bounded lock-free multi-producer, single-consumer
// queue based on Dmitry Vyukov's sequence-counter algorithm. Each slot owns
// a sequence number that producers and the single consumer use to reserve
// and release slots without a shared lock.
package ring

import "sync/atomic"

// slot holds one queued value plus the sequence counter that arbitrates
// producer/consumer access to it.
type slot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// Ring is a bounded MPSC queue of capacity rounded up to a power of two
// (minimum 2). Enqueue is safe from any number of goroutines; Dequeue must
// only be called from a single consumer goroutine at a time.
type Ring[T any] struct {
	mask     uint64
	capacity uint64
	buf      []slot[T]
	head     atomic.Uint64
	tail     atomic.Uint64
}

// New creates a Ring with the given capacity, normalized up to the next
// power of two with a floor of 2.
func New[T any](capacity int) *Ring[T] {
	c := normalizeCapacity(capacity)
	r := &Ring[T]{
		mask:     c - 1,
		capacity: c,
		buf:      make([]slot[T], c),
	}
	for i := range r.buf {
		r.buf[i].sequence.Store(uint64(i))
	}
	return r
}

func normalizeCapacity(capacity int) uint64 {
	c := uint64(capacity)
	if c < 2 {
		c = 2
	}
	if c&(c-1) == 0 {
		return c
	}
	c--
	for shift := uint64(1); shift < 64; shift <<= 1 {
		c |= c >> shift
	}
	return c + 1
}

// Capacity returns the normalized slot count.
func (r *Ring[T]) Capacity() int {
	return int(r.capacity)
}

// Enqueue reserves the next free slot and stores value. It returns false
// without blocking if the ring is full.
func (r *Ring[T]) Enqueue(value T) bool {
	for {
		pos := r.head.Load()
		s := &r.buf[pos&r.mask]
		seq := s.sequence.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				s.value = value
				s.sequence.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false // full
		default:
			// another producer has already advanced head; retry
		}
	}
}

// Dequeue removes and returns the oldest queued value. It returns false
// without blocking if the ring is empty. Must be called by one consumer
// at a time.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	for {
		pos := r.tail.Load()
		s := &r.buf[pos&r.mask]
		seq := s.sequence.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				out := s.value
				s.value = zero
				s.sequence.Store(pos + r.capacity)
				return out, true
			}
		case diff < 0:
			return zero, false // empty
		default:
			// another consumer advanced tail (shouldn't happen with a single
			// consumer, but retry rather than assume)
		}
	}
}

// IsEmpty reports whether the ring currently holds no elements. Best-effort:
// the result may be stale the instant it is returned under concurrent use.
func (r *Ring[T]) IsEmpty() bool {
	return r.tail.Load() == r.head.Load()
}

// ApproximateSize returns a best-effort element count; not linearisable.
func (r *Ring[T]) ApproximateSize() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}
