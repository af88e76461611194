package threadrec

import (
	"testing"

	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

func TestRecordGrowsRingOnFull(t *testing.T) {
	rec := NewRecord(1)
	for i := uintptr(0); i < InitialRingSize; i++ {
		if !rec.Produce(word.Descriptor{UserAddr: i}) {
			t.Fatalf("produce %d failed before ring should be full", i)
		}
	}
	// Ring is now full; next produce must grow.
	if !rec.Produce(word.Descriptor{UserAddr: 9999}) {
		t.Fatalf("produce after growth should succeed")
	}
	if rec.pr.Capacity() != InitialRingSize*2 {
		t.Fatalf("expected doubled capacity, got %d", rec.pr.Capacity())
	}
	for i := uintptr(0); i < InitialRingSize; i++ {
		d, ok := rec.Consume()
		if !ok || d.UserAddr != i {
			t.Fatalf("consume %d: got %v, %v", i, d, ok)
		}
	}
	d, ok := rec.Consume()
	if !ok || d.UserAddr != 9999 {
		t.Fatalf("consume across ring chain failed: %v %v", d, ok)
	}
	if !rec.Empty() {
		t.Fatalf("record should be empty after full drain")
	}
}

func TestListAcquireReusesFreedSlot(t *testing.T) {
	var l List
	r1 := l.Acquire(1)
	r1.Reset()
	r2 := l.Acquire(2)
	if r1 != r2 {
		t.Fatalf("expected freed slot to be reused")
	}
	r3 := l.Acquire(1)
	if r3 == r2 {
		t.Fatalf("acquire(1) should not collide with the slot now owned by gid 2")
	}
}

func TestListAcquireIsIdempotentPerGoroutine(t *testing.T) {
	var l List
	r1 := l.Acquire(42)
	r2 := l.Acquire(42)
	if r1 != r2 {
		t.Fatalf("repeated acquire for the same goroutine should return the same record")
	}
}
