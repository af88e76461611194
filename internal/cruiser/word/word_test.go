package word

import (
	"testing"
	"unsafe"
)

func TestWordSizeRoundsUp(t *testing.T) {
	cases := map[uintptr]uintptr{
		0:        0,
		1:        1,
		Size:     1,
		Size + 1: 2,
	}
	for n, want := range cases {
		if got := WordSize(n); got != want {
			t.Errorf("WordSize(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestUserAddrBaseAddrRoundTrip(t *testing.T) {
	buf := make([]Word, 10)
	p := unsafe.Pointer(&buf[0])
	u := UserAddr(p)
	if got := BaseAddr(u); got != p {
		t.Fatalf("BaseAddr(UserAddr(p)) != p")
	}
}

func TestHeaderLayout(t *testing.T) {
	ws := uintptr(5)
	buf := make([]Word, TotalWords(ws))
	p := unsafe.Pointer(&buf[0])
	Store(p, SizeIdx, ws)
	Store(p, HeadIdx, 0xABCD)
	Store(p, TailIdx(ws), 0xEF01)
	if Load(p, SizeIdx) != ws {
		t.Fatal("size word mismatch")
	}
	if Load(p, HeadIdx) != 0xABCD {
		t.Fatal("head word mismatch")
	}
	if Load(p, TailIdx(ws)) != 0xEF01 {
		t.Fatal("tail word mismatch")
	}
}

func TestCanariesDuplicateFreePrecedence(t *testing.T) {
	// spec.md §9's open question: the lazy-mode duplicate-free check
	// must evaluate as (G_CANARY_FREE xor word_size), never
	// G_CANARY_FREE xor (word_size-already-xored-with-something-else).
	c := NewCanaries()
	ws := Word(7)
	freed := c.FreedHead(ws)
	if !c.IsFreedHead(freed, ws) {
		t.Fatal("IsFreedHead must recognize its own FreedHead encoding")
	}
	if c.IsFreedHead(freed, ws+1) {
		t.Fatal("IsFreedHead must be sensitive to word_size")
	}
}

func TestCanariesAreDistinct(t *testing.T) {
	c := NewCanaries()
	if c.Live == c.Free || c.Live == c.Realloc || c.Free == c.Realloc {
		t.Fatalf("canary constants must be pairwise distinct: %+v", c)
	}
	if c.Live == 0 || c.Free == 0 || c.Realloc == 0 {
		t.Fatalf("canary constants must be non-zero: %+v", c)
	}
}

func TestIDGeneratorSkipsZero(t *testing.T) {
	var g IDGenerator
	g.next.Store(^uintptr(0) - 1) // two increments below wraparound to zero
	if first := g.Next(); first == 0 {
		t.Fatal("IDGenerator.Next must never return 0")
	}
	if second := g.Next(); second == 0 {
		t.Fatal("IDGenerator.Next must never return 0")
	}
}
