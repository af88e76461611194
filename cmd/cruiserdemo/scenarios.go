package main

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/heapwatch/cruiser/cruiser"
)

// wordSize matches internal/cruiser/word.Size without importing an
// internal package from a cmd binary; both are uintptr-width.
const wordSize = unsafe.Sizeof(uintptr(0))

var initOnce sync.Once

// initDemo brings up the single package-level cruiser Context shared by
// every scenario in this binary (cruiser.Init is idempotent), running in
// Lazy mode with PolicyContinue so a detected attack is reported rather
// than aborting the whole demo process mid-run.
func initDemo() {
	initOnce.Do(func() {
		cruiser.Init(cruiser.WithMode(cruiser.Lazy))
		cruiser.SetAttackPolicy(cruiser.PolicyContinue)
	})
}

// waitRounds blocks until at least n further monitor rounds have run,
// or the deadline passes.
func waitRounds(n uint64, timeout time.Duration) {
	start := cruiser.Rounds()
	deadline := time.Now().Add(timeout)
	for cruiser.Rounds() < start+n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func runCleanLifecycle() error {
	initDemo()
	before := cruiser.AttackCount()

	p := cruiser.Alloc(64)
	if p == nil {
		return fmt.Errorf("alloc returned nil")
	}
	buf := unsafe.Slice((*byte)(p), 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	cruiser.Free(p)

	waitRounds(3, 2*time.Second)
	if got := cruiser.AttackCount() - before; got != 0 {
		return fmt.Errorf("expected no attacks over a clean lifecycle, got %d", got)
	}
	fmt.Println("64-byte buffer allocated, written, freed, survived 3 monitor rounds clean")
	return nil
}

func runRightOverflow() error {
	initDemo()
	before := cruiser.AttackCount()

	const n = 100
	p := cruiser.Calloc(n, wordSize)
	if p == nil {
		return fmt.Errorf("calloc returned nil")
	}
	words := unsafe.Slice((*uintptr)(p), n+1)
	words[n] = 0xdeadbeef // one word past the end

	waitRounds(1, 3*time.Second)
	time.Sleep(3 * time.Second)
	after := cruiser.AttackCount()
	if after-before == 0 {
		return fmt.Errorf("expected the monitor to flag a right overflow, saw none")
	}
	fmt.Printf("write one word past a %d-word buffer triggered %d attack report(s)\n", n, after-before)
	return nil
}

func runLeftOverflow() error {
	initDemo()
	before := cruiser.AttackCount()

	p := cruiser.Alloc(100)
	if p == nil {
		return fmt.Errorf("alloc returned nil")
	}
	words := unsafe.Slice((*uintptr)(unsafe.Pointer(uintptr(p)-wordSize)), 1)
	words[0] = 0xdeadbeef // the header word directly preceding the buffer

	waitRounds(1, 11*time.Second)
	time.Sleep(10 * time.Second)
	after := cruiser.AttackCount()
	if after-before == 0 {
		return fmt.Errorf("expected the monitor to flag a left overflow, saw none")
	}
	fmt.Printf("write to the header word preceding a buffer triggered %d attack report(s)\n", after-before)
	return nil
}

func runDuplicateFree() error {
	initDemo()
	before := cruiser.AttackCount()

	p := cruiser.Calloc(10, 10)
	if p == nil {
		return fmt.Errorf("calloc returned nil")
	}
	cruiser.Free(p)
	cruiser.Free(p) // duplicate; spec.md §4.3 says diagnose, not corrupt

	waitRounds(2, 2*time.Second)
	if got := cruiser.AttackCount() - before; got != 0 {
		return fmt.Errorf("duplicate free should be a diagnostic, not an attack report; got %d", got)
	}
	fmt.Println("duplicate free of the same buffer was diagnosed without raising an attack")
	return nil
}

func runGrowReallocNoFalsePositive(safeIndex, unsafeIndex int) error {
	initDemo()
	before := cruiser.AttackCount()

	p := cruiser.Alloc(100)
	if p == nil {
		return fmt.Errorf("alloc returned nil")
	}
	p2 := cruiser.Realloc(p, 1000)
	if p2 == nil {
		return fmt.Errorf("realloc returned nil")
	}
	words := unsafe.Slice((*uintptr)(p2), 1000/int(wordSize)+1)
	words[safeIndex] = 0 // inside the grown region, must not be flagged

	waitRounds(2, 2*time.Second)
	if got := cruiser.AttackCount() - before; got != 0 {
		return fmt.Errorf("write inside the grown region must not be flagged, got %d attacks", got)
	}

	words[unsafeIndex] = 0 // past even the grown region
	waitRounds(1, 2*time.Second)
	time.Sleep(time.Second)
	after := cruiser.AttackCount()
	if after-before == 0 {
		return fmt.Errorf("expected the monitor to flag the out-of-bounds write after grow")
	}
	fmt.Printf("safe write inside the grown buffer passed clean; out-of-bounds write after it triggered %d attack report(s)\n", after-before)
	return nil
}

func runGrowRealloc() error {
	return runGrowReallocNoFalsePositive(100, int(1000/wordSize))
}

func runChurn() error {
	initDemo()
	before := cruiser.AttackCount()
	statsBefore := cruiser.Stats()

	const goroutines = 20
	const iterations = 200
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			defer cruiser.GoroutineExiting()
			for i := 0; i < iterations; i++ {
				p := cruiser.Alloc(uintptr(8 + (i % 64)))
				if p == nil {
					continue
				}
				buf := unsafe.Slice((*byte)(p), 8+(i%64))
				for j := range buf {
					buf[j] = byte(i ^ j)
				}
				cruiser.Free(p)
			}
		}()
	}
	wg.Wait()

	waitRounds(3, 3*time.Second)
	if got := cruiser.AttackCount() - before; got != 0 {
		return fmt.Errorf("churn of well-behaved goroutines raised %d attack report(s)", got)
	}
	statsAfter := cruiser.Stats()
	taken := statsAfter.BytesAllocated - statsBefore.BytesAllocated
	returned := statsAfter.BytesFreed - statsBefore.BytesFreed
	if dropped := cruiser.Dropped(); dropped > 0 {
		fmt.Printf("note: %d descriptors were dropped under load (ring full, growth failed)\n", dropped)
	}
	fmt.Printf("%d goroutines x %d iterations: %d bytes taken, %d bytes returned\n",
		goroutines, iterations, taken, returned)
	if taken != returned {
		return fmt.Errorf("bytes taken (%d) and bytes returned (%d) must balance once every free has settled", taken, returned)
	}
	return nil
}
