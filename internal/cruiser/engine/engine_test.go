package engine

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/heapwatch/cruiser/internal/cruiser/attack"
	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

func newTestContext(t *testing.T, mode word.Mode) (*Context, chan attack.Report) {
	t.Helper()
	c := New(WithMode(mode))
	reports := make(chan attack.Report, 16)
	c.AttackHandler().SetPolicy(attack.PolicyContinue)
	c.AttackHandler().SetOnReport(func(r attack.Report) { reports <- r })
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { c.Stop(time.Second) })
	return c, reports
}

func waitRounds(c *Context, n uint64) {
	deadline := time.Now().Add(2 * time.Second)
	for c.Rounds() < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

// Scenario 1 (spec.md §8): clean lifecycle, no attack over several rounds.
func TestCleanLifecycleLazy(t *testing.T) {
	c, reports := newTestContext(t, word.Lazy)
	u := c.Alloc(64)
	if u == nil {
		t.Fatal("Alloc returned nil")
	}
	buf := unsafe.Slice((*byte)(u), 64)
	for i := range buf {
		buf[i] = 0xAA
	}
	c.Free(u)
	waitRounds(c, 3)
	select {
	case r := <-reports:
		t.Fatalf("unexpected attack report: %+v", r)
	default:
	}
}

func TestCleanLifecycleEager(t *testing.T) {
	c, reports := newTestContext(t, word.Eager)
	u := c.Alloc(64)
	buf := unsafe.Slice((*byte)(u), 64)
	for i := range buf {
		buf[i] = 0xAA
	}
	c.Free(u)
	waitRounds(c, 3)
	select {
	case r := <-reports:
		t.Fatalf("unexpected attack report: %+v", r)
	default:
	}
}

// Scenario 2: right overflow is detected within a bounded number of rounds.
func TestRightOverflowDetectedLazy(t *testing.T) {
	c, reports := newTestContext(t, word.Lazy)
	n := uintptr(100)
	u := c.Alloc(n)
	ws := word.WordSize(n)
	tail := word.At(word.BaseAddr(u), word.TailIdx(ws))
	*tail = 20 // one word past the end

	select {
	case r := <-reports:
		if r.UserAddr != uintptr(u) {
			t.Fatalf("report addr = %#x, want %#x", r.UserAddr, uintptr(u))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an attack report for the right overflow")
	}
}

// Scenario 3: left (underflow) overflow is detected.
func TestLeftOverflowDetectedLazy(t *testing.T) {
	c, reports := newTestContext(t, word.Lazy)
	u := c.Alloc(100)
	head := word.At(word.BaseAddr(u), word.HeadIdx)
	*head = 20 // corrupt the head canary directly

	select {
	case r := <-reports:
		if r.UserAddr != uintptr(u) {
			t.Fatalf("report addr = %#x, want %#x", r.UserAddr, uintptr(u))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an attack report for the left overflow")
	}
}

// Scenario 4: duplicate free is diagnosed, not treated as an attack.
func TestDuplicateFreeIsDiagnosedNotAttack(t *testing.T) {
	c, reports := newTestContext(t, word.Lazy)
	u := c.Alloc(40)
	c.Free(u)
	c.Free(u) // duplicate

	waitRounds(c, 2)
	select {
	case r := <-reports:
		t.Fatalf("duplicate free must not be reported as an attack: %+v", r)
	default:
	}
}

// Scenario 5: growing realloc produces no false attack on the new
// buffer and does detect a genuine overflow past the new end.
func TestGrowReallocNoFalsePositive(t *testing.T) {
	c, reports := newTestContext(t, word.Lazy)
	p := c.Alloc(100)
	q := c.Realloc(p, 1000)
	if q == nil {
		t.Fatal("Realloc returned nil")
	}
	waitRounds(c, 2)
	select {
	case r := <-reports:
		t.Fatalf("unexpected attack after grow realloc: %+v", r)
	default:
	}

	ws := word.WordSize(1000)
	tail := word.At(word.BaseAddr(q), word.TailIdx(ws))
	*tail = 0xdeadbeef

	select {
	case r := <-reports:
		if r.UserAddr != uintptr(q) {
			t.Fatalf("report addr = %#x, want %#x", r.UserAddr, uintptr(q))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an attack report for the grown buffer's overflow")
	}
}

// Scenario 7: NULL-free and zero-size-realloc edge cases (P7).
func TestNullFreeAndZeroRealloc(t *testing.T) {
	c, _ := newTestContext(t, word.Lazy)
	c.Free(nil) // must not panic

	u := c.Alloc(10)
	if got := c.Realloc(u, 0); got != nil {
		t.Fatalf("Realloc(u, 0) = %v, want nil", got)
	}

	n := c.Realloc(nil, 32)
	if n == nil {
		t.Fatalf("Realloc(nil, n) should behave like Alloc(n)")
	}
}

// Eager-mode free-time tail corruption: the attack must be reported,
// and per spec.md §4.3's free_wrapper the block must still be zeroed
// and released to the host allocator rather than leaked.
func TestEagerFreeTailMismatchReportsAndStillReleases(t *testing.T) {
	c, reports := newTestContext(t, word.Eager)
	u := c.Alloc(64)
	ws := word.WordSize(64)
	tail := word.At(word.BaseAddr(u), word.TailIdx(ws))
	*tail = 0xdeadbeef // corrupt before free

	before := c.AllocatorStats().BytesFreed
	c.Free(u)

	select {
	case r := <-reports:
		if r.UserAddr != uintptr(u) {
			t.Fatalf("report addr = %#x, want %#x", r.UserAddr, uintptr(u))
		}
	default:
		t.Fatal("expected an attack report for the corrupted tail at free time")
	}
	if after := c.AllocatorStats().BytesFreed; after == before {
		t.Fatal("attack report must not skip releasing the block to the host allocator")
	}
}

// Eager-mode realloc-time tail corruption: the attack must be reported,
// and per spec.md §4.3's realloc_wrapper the realloc must still proceed
// (original_realloc + re-encapsulation), not abort.
func TestEagerReallocTailMismatchReportsAndStillProceeds(t *testing.T) {
	c, reports := newTestContext(t, word.Eager)
	u := c.Alloc(64)
	ws := word.WordSize(64)
	tail := word.At(word.BaseAddr(u), word.TailIdx(ws))
	*tail = 0xdeadbeef // corrupt before realloc

	got := c.Realloc(u, 256)

	select {
	case r := <-reports:
		if r.UserAddr != uintptr(u) {
			t.Fatalf("report addr = %#x, want %#x", r.UserAddr, uintptr(u))
		}
	default:
		t.Fatal("expected an attack report for the corrupted tail before realloc")
	}
	if got == nil {
		t.Fatal("attack report must not abort the realloc; expected the host allocator path to still run")
	}
}

// Lazy mode: a buffer that was freed (head now in the freed encoding),
// then had its tail corrupted, must still be reported and released -- not silently
// dropped from the list -- exercising checkLazy's IsFreedHead branch
// rather than the still-live branch the other overflow tests cover.
func TestLazyFreedThenOverflowReportsAndStillReleases(t *testing.T) {
	c, reports := newTestContext(t, word.Lazy)
	u := c.Alloc(64)
	c.Free(u)

	ws := word.WordSize(64)
	tail := word.At(word.BaseAddr(u), word.TailIdx(ws))
	*tail = 0xdeadbeef // corrupt the freed buffer's tail before the monitor gets to it

	before := c.AllocatorStats().BytesFreed
	select {
	case r := <-reports:
		if r.UserAddr != uintptr(u) {
			t.Fatalf("report addr = %#x, want %#x", r.UserAddr, uintptr(u))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an attack report for the freed-then-corrupted buffer")
	}
	if after := c.AllocatorStats().BytesFreed; after == before {
		t.Fatal("attack report must not skip releasing the freed block to the host allocator")
	}
}

func TestUnprotectedBypassesEncapsulation(t *testing.T) {
	c, _ := newTestContext(t, word.Lazy)
	var raw unsafe.Pointer
	c.Unprotected(func() {
		raw = c.Alloc(16)
	})
	if raw == nil {
		t.Fatal("unprotected Alloc returned nil")
	}
	// An unprotected allocation carries no header; BaseAddr(raw) would
	// be garbage, so just confirm Free doesn't route it through the
	// canary path (no attack report is possible, checked implicitly by
	// not panicking).
	c.Unprotected(func() { c.Free(raw) })
}
