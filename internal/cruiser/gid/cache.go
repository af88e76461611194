package gid

import "sync/atomic"

// Cache is a fixed-size, lock-free, linear-probing table mapping
// goroutine IDs to an opaque owner pointer. It is the Go-appropriate
// substitute for the reference's __thread-local t_threadRecord pointer
// (spec.md §4.2): instead of true TLS, cruiser looks the calling
// goroutine's ID up here to find its ThreadRecord without taking a lock
// on the fast path.
//
// Grounded on monkeydluffy772-racedetector/internal/race/shadowmem/
// shadow_cas.go's CAS-based array-of-atomic-pointer design: fixed-size
// array, multiplicative hash, bounded linear probing, CompareAndSwap
// insertion. The collision-overflow behavior differs deliberately: a
// cache miss here just means the caller falls back to scanning
// threadrec.List, so overflow degrades to a slower correct path rather
// than needing special-casing.
type Cache struct {
	slots [1 << 14]atomic.Pointer[cell]
}

type cell struct {
	gid   uint64
	owner any
}

const probeLimit = 8

func hash(gid uint64) uint64 {
	const golden = 0x9E3779B97F4A7C15
	return (gid * golden) >> 50 // top 14 bits -> [0, 1<<14)
}

// Lookup returns the owner cached for gid, or nil if absent (either
// never stored or lost to collision overflow).
func (c *Cache) Lookup(gidv uint64) any {
	h := hash(gidv)
	for i := uint64(0); i < probeLimit; i++ {
		idx := (h + i) & (1<<14 - 1)
		cl := c.slots[idx].Load()
		if cl == nil {
			return nil
		}
		if cl.gid == gidv {
			return cl.owner
		}
	}
	return nil
}

// Store associates gid with owner, returning the value that ends up
// cached for gid (which may belong to a concurrent winning Store for
// the same gid).
func (c *Cache) Store(gidv uint64, owner any) any {
	newCell := &cell{gid: gidv, owner: owner}
	h := hash(gidv)
	for i := uint64(0); i < probeLimit; i++ {
		idx := (h + i) & (1<<14 - 1)
		cur := c.slots[idx].Load()
		if cur == nil {
			if c.slots[idx].CompareAndSwap(nil, newCell) {
				return owner
			}
			cur = c.slots[idx].Load()
		}
		if cur != nil && cur.gid == gidv {
			return cur.owner
		}
	}
	// Collision overflow: caller still gets its own value back, just
	// uncached; every subsequent lookup for this gid misses and falls
	// back to the slow scan.
	return owner
}

// Evict clears the slot currently holding gid, if any. Used when a
// mutator explicitly signals it is exiting (spec.md §4.2's liveness
// probe, translated for goroutines — see SPEC_FULL.md §4.2).
func (c *Cache) Evict(gidv uint64) {
	h := hash(gidv)
	for i := uint64(0); i < probeLimit; i++ {
		idx := (h + i) & (1<<14 - 1)
		cl := c.slots[idx].Load()
		if cl != nil && cl.gid == gidv {
			c.slots[idx].CompareAndSwap(cl, nil)
			return
		}
	}
}
