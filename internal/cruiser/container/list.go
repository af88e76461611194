// Package container implements spec.md §4.4's descriptor container: a
// singly linked list with a sentinel dummy head, single-writer
// insertion (the transmitter), single-writer traversal (the monitor),
// and a bounded ring that recycles unlinked nodes instead of returning
// them to the host allocator on every round.
//
// Grounded on original_source/list.h's non-CAS "List" (the one the
// paper itself describes, guarded there by #ifndef CRUISER_OLD_LIST):
// insertion is a plain pointer write because the transmitter is the
// only inserter, and the live head node is tombstoned rather than
// unlinked on its first bad check to avoid racing with insert — see
// spec.md §4.4 and §9's note on why this is only correct under a
// single-inserter assumption.
package container

import (
	"github.com/heapwatch/cruiser/internal/cruiser/ring"
	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

// RecycleRingSize mirrors spec.md §3's LIST_RING_SIZE (2^22 slots).
const RecycleRingSize = 1 << 22

// Verdict is fn's return value from Traverse, per spec.md §4.4.
// Returning "stop" (0 in the reference) is deliberately not
// representable: spec.md §4.4 calls that feature "disabled to prevent
// adversarial exploitation," so this package offers no way to ask for it.
type Verdict int

const (
	// Live keeps the node in the list for the next round.
	Live Verdict = iota
	// Finished means the descriptor is done (freed, or canary mismatch
	// already handled) and should be unlinked.
	Finished
)

// listNode is one entry in the descriptor list.
type listNode struct {
	cn   word.Descriptor
	next *listNode
}

func (n *listNode) markDeleted()   { n.cn.UserAddr = word.AllOnes }
func (n *listNode) isDeleted() bool { return n.cn.UserAddr == word.AllOnes }

// List is the descriptor container. The zero value is not usable; use
// New.
type List struct {
	dummy *listNode
	ring  *ring.Ring[*listNode]
}

// New constructs an empty descriptor container with its node-recycling
// ring pre-sized to RecycleRingSize.
func New() *List {
	return &List{
		dummy: &listNode{},
		ring:  ring.New[*listNode](RecycleRingSize),
	}
}

// Insert pushes a fresh node at the front of the list. Callable only
// from the transmitter goroutine (spec.md §4.4, §5).
func (l *List) Insert(d word.Descriptor) {
	n, ok := l.ring.Consume()
	if !ok || n == nil {
		n = &listNode{}
	}
	n.cn = d
	n.next = l.dummy.next
	l.dummy.next = n
}

// Traverse walks the list once from the head, invoking fn on every
// non-tombstoned node. Callable only from the monitor goroutine
// (spec.md §4.4, §5). The head is never unlinked directly — only
// tombstoned — so a concurrent Insert can never race with an in-
// progress unlink of the node it is about to replace as head.
func (l *List) Traverse(fn func(word.Descriptor) Verdict) {
	cur := l.dummy.next
	if cur == nil {
		return
	}
	if !cur.isDeleted() {
		if fn(cur.cn) == Finished {
			cur.markDeleted()
		}
	}

	prev := cur
	cur = cur.next
	for cur != nil {
		next := cur.next
		if cur.isDeleted() {
			prev.next = next
			l.recycle(cur)
		} else {
			switch fn(cur.cn) {
			case Live:
				prev = cur
			case Finished:
				prev.next = next
				l.recycle(cur)
			}
		}
		cur = next
	}
}

func (l *List) recycle(n *listNode) {
	n.cn = word.Descriptor{}
	n.next = nil
	l.ring.Produce(n) // best-effort; on overflow the node is simply dropped for the GC
}
