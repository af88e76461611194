// Package hostalloc models the "host allocator" that cruiser wraps.
//
// spec.md treats malloc/free/realloc/calloc as an opaque collaborator
// resolved once at startup, "{alloc(n) -> ptr | null, free(ptr),
// realloc(ptr,n), calloc(n,s)}". Go programs have no libc to shadow, so
// Allocator is the seam a real LD_PRELOAD shim would occupy: cruiser
// calls through this interface for every raw byte it hands out, and the
// default implementation backs it with Go's own heap.
package hostalloc

import (
	"sync/atomic"
	"unsafe"
)

// Allocator is the four-entry-point contract cruiser resolves at init.
// Absence of any entry point is fatal, mirroring spec.md §4.7 step 2.
type Allocator interface {
	// Alloc returns n bytes, or nil if the request cannot be satisfied.
	Alloc(n uintptr) unsafe.Pointer
	// Free releases a region previously returned by Alloc/Realloc/Calloc.
	// Free(nil) is a no-op.
	Free(p unsafe.Pointer)
	// Realloc resizes p to n bytes, possibly returning a new address.
	Realloc(p unsafe.Pointer, n uintptr) unsafe.Pointer
	// Calloc returns n*size zeroed bytes, or nil on overflow/failure.
	Calloc(n, size uintptr) unsafe.Pointer
	// Stats reports live/ever-allocated byte counts, used by the churn
	// scenario (spec.md §8 end-to-end scenario 6) to verify that bytes
	// taken and bytes returned balance.
	Stats() Stats
}

// Stats is a snapshot of allocator-wide bookkeeping counters.
type Stats struct {
	BytesAllocated uint64 // total bytes ever handed out
	BytesFreed     uint64 // total bytes ever returned
	LiveBytes      uint64 // BytesAllocated - BytesFreed
}

// goHeap is the default Allocator. It backs every request with a Go
// slice pinned behind unsafe.Pointer; "returning memory to the host
// allocator" means dropping cruiser's only reference to that slice so
// the garbage collector can reclaim it — the idiomatic Go analogue of
// calling back into libc's free().
type goHeap struct {
	allocated atomic.Uint64
	freed     atomic.Uint64
}

// New returns the default Go-heap-backed Allocator.
func New() Allocator {
	return &goHeap{}
}

func (g *goHeap) Alloc(n uintptr) unsafe.Pointer {
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n)
	g.allocated.Add(uint64(n))
	return unsafe.Pointer(&buf[0])
}

func (g *goHeap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	// The size of the freed region is tracked by the caller (cruiser
	// knows it from the encapsulated size word); goHeap only needs to
	// drop the reference, which happens naturally once the caller lets
	// go of p. Byte accounting for frees is folded in via AccountFree.
}

// AccountFree records n bytes as returned to the host allocator. Cruiser
// calls this once it has read the size word of the region being freed,
// since goHeap itself has no way to recover the size of an
// unsafe.Pointer after the fact.
func (g *goHeap) AccountFree(n uintptr) {
	g.freed.Add(uint64(n))
}

func (g *goHeap) Realloc(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	if p == nil {
		return g.Alloc(n)
	}
	if n == 0 {
		return nil
	}
	// A fresh region is always allocated; the caller copies the live
	// prefix itself (it alone knows the old region's size) and accounts
	// for the old region's bytes via AccountFree.
	return g.Alloc(n)
}

func (g *goHeap) Calloc(n, size uintptr) unsafe.Pointer {
	total := n * size
	if n != 0 && total/n != size {
		return nil // overflow
	}
	return g.Alloc(total)
}

func (g *goHeap) Stats() Stats {
	a, f := g.allocated.Load(), g.freed.Load()
	return Stats{BytesAllocated: a, BytesFreed: f, LiveBytes: a - f}
}

// AccountFree is the package-level helper for callers holding only the
// Allocator interface; it type-asserts back to *goHeap when possible
// and is a no-op for custom Allocator implementations that track their
// own stats.
func AccountFree(a Allocator, n uintptr) {
	if g, ok := a.(*goHeap); ok {
		g.AccountFree(n)
	}
}
