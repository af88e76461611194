// Package ring implements the lock-free, single-producer/single-consumer
// ring of spec.md §4.1: one mutator goroutine produces descriptors, one
// transmitter goroutine consumes them. The same structure, instantiated
// over *ListNode instead of word.Descriptor, is also spec.md §4.4's
// bounded node-recycling ring (LIST_RING_SIZE) shared between the
// monitor and transmitter.
//
// Grounded on the teacher pack's codewanderer42820-evm_triarb/ring
// package (cache-line-isolated producer/consumer fields, sequence-
// stamped slots) and on original_source/thread_record.h's Ring, which
// additionally keeps a producer-local ci_snapshot and consumer-local
// pi_snapshot to avoid touching the other side's cache line on every
// operation. original_source/list.h's RingT<T,size> is the same
// technique instantiated for node recycling instead of descriptor
// transport, which is why this package is generic rather than
// hard-coded to word.Descriptor.
package ring

import "sync/atomic"

const cacheLine = 64

// Ring is a fixed-capacity, power-of-two-sized circular buffer. It has
// exactly one producer and one consumer for its entire lifetime
// (spec.md §4.1, §5).
type Ring[T any] struct {
	_    [cacheLine]byte
	pi   atomic.Uint64 // producer index, read by the consumer
	_    [cacheLine - 8]byte
	ci   atomic.Uint64 // consumer index, read by the producer
	_    [cacheLine - 8]byte
	// Producer-local snapshot of ci, refreshed only when the ring
	// appears full — spec.md §4.1's "reduce ci reads" requirement.
	ciSnapshot uint64
	_          [cacheLine - 8]byte
	// Consumer-local snapshot of pi, refreshed only when the ring
	// appears empty.
	piSnapshot uint64
	_          [cacheLine - 8]byte

	mask uint64
	cap  uint64
	buf  []T

	// Next chains growing rings together per spec.md §4.2: when a
	// mutator's current ring fills, it allocates a bigger one and
	// links it here before switching its producer pointer over.
	Next *Ring[T]
}

// New allocates a ring of the given capacity, which must be a power of
// two (spec.md §3's Ring invariant).
func New[T any](capacity uint64) *Ring[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two")
	}
	return &Ring[T]{
		mask: capacity - 1,
		cap:  capacity,
		buf:  make([]T, capacity),
	}
}

// Capacity returns the ring's fixed slot count.
func (r *Ring[T]) Capacity() uint64 { return r.cap }

// Produce enqueues an item. It is called only by the ring's owning
// producer and fails only when the ring is full (spec.md §4.1).
func (r *Ring[T]) Produce(v T) bool {
	pi := r.pi.Load()
	if pi-r.ciSnapshot >= r.cap {
		ci := r.ci.Load()
		if pi-ci >= r.cap {
			return false
		}
		r.ciSnapshot = ci
	}
	r.buf[pi&r.mask] = v
	// The slot store must be visible before pi advances (spec.md §4.1
	// ordering (a)); atomic.Store provides the release fence.
	r.pi.Store(pi + 1)
	return true
}

// Consume dequeues one item. It is called only by the ring's owning
// consumer and fails only when the ring is empty.
func (r *Ring[T]) Consume() (T, bool) {
	ci := r.ci.Load()
	if ci == r.piSnapshot {
		pi := r.pi.Load()
		if ci == pi {
			var zero T
			return zero, false
		}
		r.piSnapshot = pi
	}
	v := r.buf[ci&r.mask]
	r.ci.Store(ci + 1)
	return v, true
}

// Len reports the number of items currently queued. It is an
// approximation when read by anyone other than producer/consumer, and
// is only used for diagnostics.
func (r *Ring[T]) Len() uint64 {
	return r.pi.Load() - r.ci.Load()
}
