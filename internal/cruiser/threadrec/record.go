// Package threadrec implements spec.md §4.2: per-mutator-thread
// book-keeping (a growing chain of MPSC rings) and the lock-free list
// used to enumerate, claim, and reuse records.
//
// Grounded on original_source/thread_record.h's ThreadRecord and
// ThreadRecordList, adapted from pthread_t identity to the gid package's
// goroutine-ID identity.
package threadrec

import (
	"sync/atomic"

	"github.com/heapwatch/cruiser/internal/cruiser/ring"
	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

// InitialRingSize is the capacity of a fresh mutator's first ring.
const InitialRingSize = 1024

// MaxRingSize caps how large a single mutator's ring may grow.
const MaxRingSize = 1 << 22

// Record is the per-mutator-goroutine state: which ring it currently
// produces into, which ring the transmitter currently drains, and the
// slot-reuse bookkeeping that lets ThreadRecordList hand this record to
// a different goroutine later.
type Record struct {
	// pr/cr are touched by different goroutines (producer, consumer)
	// and updated rarely, so sharing a cache line here is acceptable
	// per spec.md §4.2.
	pr *ring.Ring[word.Descriptor] // ring currently accessed by the producer (this record's owner)
	cr *ring.Ring[word.Descriptor] // ring currently accessed by the consumer (the transmitter)

	// GoroutineID identifies the owning mutator; 0 means the slot is
	// free and may be claimed by any goroutine via CompareAndSwap.
	GoroutineID atomic.Uint64

	// Next chains records into ThreadRecordList's lock-free stack.
	Next *Record

	Dropped atomic.Uint64 // descriptors dropped because growth allocation failed

	// Slot is a stable small integer identifying this record, used to
	// index the eager-mode epoch table (internal/cruiser/epoch) without
	// a second lock-free lookup.
	Slot int

	// Protect is the Go translation of spec.md §4.3's per-thread
	// t_protect flag: false means "pass core calls through to the host
	// allocator unchanged," matching the reference's "inside the
	// core's own code paths" behavior (SPEC_FULL.md §4.3). Defaults to
	// true (protected) since, unlike the reference's shadowed libc
	// symbols, this module's own internal allocations never route
	// through the public Alloc/Free entry points in the first place.
	Protect atomic.Bool
}

var nextSlot atomic.Int64

// NewRecord allocates a record owned by the given goroutine ID, with a
// fresh initial-size ring.
func NewRecord(gidv uint64) *Record {
	r := ring.New[word.Descriptor](InitialRingSize)
	rec := &Record{pr: r, cr: r, Slot: int(nextSlot.Add(1))}
	rec.GoroutineID.Store(gidv)
	rec.Protect.Store(true)
	return rec
}

// Produce enqueues a descriptor, growing the ring chain if the current
// ring is full (spec.md §4.2). Invoked only by the owning mutator.
func (r *Record) Produce(d word.Descriptor) bool {
	if r.pr.Produce(d) {
		return true
	}
	newSize := r.pr.Capacity() * 2
	if newSize > MaxRingSize {
		newSize = MaxRingSize
	}
	fresh := ring.New[word.Descriptor](newSize)
	if !fresh.Produce(d) {
		// Capacity 1 growth with an immediately-failing produce cannot
		// happen since fresh is empty; guard kept for clarity.
		r.Dropped.Add(1)
		return false
	}
	// Link before switching the producer pointer: the transmitter
	// discovers fresh via pr.Next as it walks the chain, not via pr
	// itself, so the link must be published first (spec.md §4.2).
	r.pr.Next = fresh
	r.pr = fresh
	return true
}

// Consume drains one descriptor, advancing across exhausted rings in
// the chain. Invoked only by the transmitter.
func (r *Record) Consume() (word.Descriptor, bool) {
	if d, ok := r.cr.Consume(); ok {
		return d, true
	}
	if r.cr.Next != nil {
		r.cr = r.cr.Next
		return r.Consume()
	}
	return word.Descriptor{}, false
}

// Empty reports whether the consumer-side ring chain currently has
// nothing left to drain. Used by the transmitter's idle/liveness scan.
func (r *Record) Empty() bool {
	for cur := r.cr; cur != nil; cur = cur.Next {
		if cur.Len() > 0 {
			return false
		}
	}
	return true
}

// Reset releases this record back to the free pool (GoroutineID = 0),
// making it eligible for ThreadRecordList.Acquire by any goroutine.
// Never removes the record from the list itself, keeping traversal
// wait-free (spec.md §4.2).
func (r *Record) Reset() {
	r.GoroutineID.Store(0)
}
