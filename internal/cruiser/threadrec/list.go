package threadrec

import "sync/atomic"

// List is the lock-free singly linked list of Records described in
// spec.md §4.2/§5: head insertion via CAS, slot reuse via CAS on
// GoroutineID, traversal that never removes a node (so it stays
// wait-free even while records are being reset and reclaimed).
type List struct {
	head atomic.Pointer[Record]
}

// Acquire returns the Record owned by gidv, claiming a free slot
// (GoroutineID == 0) via CompareAndSwap if none already exists, or
// pushing a freshly allocated Record onto the list head if every
// existing slot is taken. Mirrors
// original_source/thread_record.h:ThreadRecordList::getThreadRecord.
func (l *List) Acquire(gidv uint64) *Record {
	for cur := l.head.Load(); cur != nil; cur = cur.Next {
		if cur.GoroutineID.Load() == gidv {
			return cur
		}
	}
	for cur := l.head.Load(); cur != nil; cur = cur.Next {
		if cur.GoroutineID.Load() == 0 && cur.GoroutineID.CompareAndSwap(0, gidv) {
			// Reset only ever happens after the transmitter has fully
			// drained a record (see monitor/transmitter liveness scan),
			// so pr/cr already point at the same exhausted ring and the
			// new owner can produce into it without further setup.
			return cur
		}
	}
	fresh := NewRecord(gidv)
	for {
		old := l.head.Load()
		fresh.Next = old
		if l.head.CompareAndSwap(old, fresh) {
			return fresh
		}
	}
}

// Each calls fn for every record currently in the list, including freed
// (GoroutineID == 0) ones; fn is responsible for skipping those it does
// not care about. Safe to call concurrently with Acquire.
func (l *List) Each(fn func(*Record)) {
	for cur := l.head.Load(); cur != nil; cur = cur.Next {
		fn(cur)
	}
}
