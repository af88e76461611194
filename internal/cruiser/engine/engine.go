// Package engine is cruiser's process-wide core: the allocator
// interceptor (spec.md §4.3) plus the state that the monitor and
// transmitter goroutines (monitor.go, transmitter.go) operate on.
//
// SPEC_FULL.md §9 ("Design Notes: Global mutable state") resolves the
// reference's scattered static globals into a single Context struct,
// so tests can build independent instances instead of sharing one
// process-wide singleton. The public github.com/heapwatch/cruiser
// package wraps one package-level Context to present the libc-style
// surface spec.md §6 describes.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/heapwatch/cruiser/internal/cruiser/attack"
	"github.com/heapwatch/cruiser/internal/cruiser/config"
	"github.com/heapwatch/cruiser/internal/cruiser/container"
	"github.com/heapwatch/cruiser/internal/cruiser/epoch"
	"github.com/heapwatch/cruiser/internal/cruiser/gid"
	"github.com/heapwatch/cruiser/internal/cruiser/hostalloc"
	"github.com/heapwatch/cruiser/internal/cruiser/telemetry"
	"github.com/heapwatch/cruiser/internal/cruiser/threadrec"
	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

// lifecycle states, spec.md §4.7's latch {0 -> 1 -> 2}.
const (
	stateUninit = iota
	stateInitializing
	stateRunning
	stateStopped
)

// Context is the process-wide state cruiser's public API operates
// through. The zero value is not usable; construct with New.
type Context struct {
	mode     word.Mode
	canaries word.Canaries
	ids      word.IDGenerator
	alloc    hostalloc.Allocator
	cfg      config.Config
	attackH  *attack.Handler
	epochs   *epoch.Table

	records  threadrec.List
	gidCache gid.Cache
	cont     *container.List

	state atomic.Int32
	exit  atomic.Int32

	runCtx context.Context
	cancel context.CancelFunc
	stopCh chan struct{}

	monitorExitState chan struct{}
	txExitState      chan struct{}

	dropped atomic.Uint64
	rounds  atomic.Uint64
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithMode selects eager or lazy verification (spec.md §4, Mode).
func WithMode(m word.Mode) Option { return func(c *Context) { c.mode = m } }

// WithAllocator overrides the host allocator (default: Go-heap-backed,
// see internal/cruiser/hostalloc).
func WithAllocator(a hostalloc.Allocator) Option {
	return func(c *Context) { c.alloc = a }
}

// WithConfig overrides the environment-derived configuration (default:
// config.FromEnv()).
func WithConfig(cfg config.Config) Option {
	return func(c *Context) { c.cfg = cfg }
}

// New constructs a Context. Canary constants are drawn immediately
// (spec.md §4.7 step 3 folded into construction, since unlike the
// reference's dlsym resolution this has no dependency on the host
// allocator being ready yet).
func New(opts ...Option) *Context {
	c := &Context{
		mode:     word.Lazy,
		canaries: word.NewCanaries(),
		alloc:    hostalloc.New(),
		cfg:      config.Default(),
		epochs:   epoch.NewTable(),
		cont:     container.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.attackH = attack.NewHandler()
	c.attackH.SetPolicy(c.cfg.OnAttack)
	return c
}

// Mode reports the verification mode this Context was built with.
func (c *Context) Mode() word.Mode { return c.mode }

// AttackHandler exposes the attack response path, e.g. for tests that
// want PolicyContinue plus an onReport hook.
func (c *Context) AttackHandler() *attack.Handler { return c.attackH }

// Dropped returns the number of descriptors ever dropped because a
// mutator's ring was full and growth allocation failed (spec.md §7).
func (c *Context) Dropped() uint64 { return c.dropped.Load() }

// Rounds returns the number of monitor rounds completed so far.
func (c *Context) Rounds() uint64 { return c.rounds.Load() }

// AllocatorStats exposes the underlying host allocator's byte counters
// (spec.md §8 end-to-end scenario 6, "total bytes returned to the host
// equal total bytes taken").
func (c *Context) AllocatorStats() hostalloc.Stats { return c.alloc.Stats() }

// Init runs the spec.md §4.7 startup sequence idempotently: spawning
// the monitor, which in turn spawns the transmitter, then publishing
// state = running. Concurrent callers block until the first caller's
// Init completes.
func (c *Context) Init(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateUninit, stateInitializing) {
		for c.state.Load() == stateInitializing {
			runtime.Gosched()
		}
		return nil
	}
	if c.alloc == nil {
		telemetry.ERR("no host allocator resolved")
		return fmt.Errorf("cruiser: no host allocator resolved")
	}
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.stopCh = make(chan struct{})
	c.monitorExitState = make(chan struct{})
	c.txExitState = make(chan struct{})
	c.exit.Store(int32(exitRunning))
	go c.monitorLoop()
	c.state.Store(stateRunning)
	telemetry.DBG("cruiser: init complete, mode=%s", c.mode)
	return nil
}

// ensureInit runs Init synchronously on first use, matching spec.md
// §4.3 step 1 ("If uninitialized, run init synchronously").
func (c *Context) ensureInit() {
	if c.state.Load() == stateRunning {
		return
	}
	_ = c.Init(context.Background())
}

// Stop performs the three-phase at-exit drain of spec.md §4.8, waiting
// up to timeout for one full transmitter-then-monitor round to
// complete after shutdown begins, then tears down the background
// goroutines. It is safe to call more than once or before Init.
func (c *Context) Stop(timeout time.Duration) {
	if !c.state.CompareAndSwap(stateRunning, stateStopped) {
		return
	}
	c.exit.Store(int32(exitHooked))
	deadline := time.Now().Add(timeout)
	for exitState(c.exit.Load()) != exitMonitorDone && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.cancel()
	close(c.stopCh)
}

// recordFor returns the calling goroutine's ThreadRecord, acquiring a
// fresh or recycled one on first use (spec.md §4.2).
func (c *Context) recordFor(gidv uint64) *threadrec.Record {
	if v := c.gidCache.Lookup(gidv); v != nil {
		if rec, ok := v.(*threadrec.Record); ok && rec.GoroutineID.Load() == gidv {
			return rec
		}
	}
	rec := c.records.Acquire(gidv)
	c.gidCache.Store(gidv, rec)
	return rec
}

// Unprotected runs fn with the calling goroutine's t_protect flag
// cleared, so any nested Alloc/Free/Realloc/Calloc call passes
// straight through to the host allocator (spec.md §4.3, §5: "Core-
// internal allocations must be flagged with t_protect = 0 around the
// call to prevent recursive re-entry through the interceptor").
func (c *Context) Unprotected(fn func()) {
	rec := c.recordFor(gid.Current())
	prev := rec.Protect.Swap(false)
	defer rec.Protect.Store(prev)
	fn()
}

// Alloc implements spec.md §4.3's alloc().
func (c *Context) Alloc(n uintptr) unsafe.Pointer {
	c.ensureInit()
	gidv := gid.Current()
	rec := c.recordFor(gidv)
	if !rec.Protect.Load() {
		return c.alloc.Alloc(n)
	}

	ws := word.WordSize(n)
	total := word.TotalWords(ws) * word.Size
	p := c.alloc.Alloc(total)
	if p == nil {
		return nil
	}

	var d word.Descriptor
	switch c.mode {
	case word.Eager:
		id := c.ids.Next()
		tick := c.epochs.Tick()
		word.Store(p, word.SizeIdx, ws)
		word.Store(p, word.TailIdx(ws), c.canaries.Live)
		word.Store(p, word.HeadIdx, id)
		d = word.Descriptor{UserAddr: uintptr(word.UserAddr(p)), ID: id, Tick: tick}
	default:
		live := c.canaries.LiveHead(ws)
		word.Store(p, word.SizeIdx, ws)
		word.Store(p, word.TailIdx(ws), live)
		word.Store(p, word.HeadIdx, live)
		d = word.Descriptor{UserAddr: uintptr(word.UserAddr(p))}
	}

	if !rec.Produce(d) {
		c.dropped.Add(1)
		telemetry.WARN("dropped descriptor for buffer %#x: ring full and growth failed", d.UserAddr)
	}
	return word.UserAddr(p)
}

// Free implements spec.md §4.3's free().
func (c *Context) Free(u unsafe.Pointer) {
	if u == nil {
		return
	}
	rec := c.recordFor(gid.Current())
	if !rec.Protect.Load() {
		c.alloc.Free(u)
		return
	}

	p := word.BaseAddr(u)
	switch c.mode {
	case word.Eager:
		ws := word.Load(p, word.SizeIdx)
		tail := word.Load(p, word.TailIdx(ws))
		if tail != c.canaries.Live {
			c.attackH.Report(attack.Report{Site: attack.SiteFree, UserAddr: uintptr(u),
				Detail: "tail canary mismatch at free time"})
			// spec.md §4.3 / original_source/trunk/memory.cpp's
			// free_wrapper: the check never gates the release -- the
			// block is zeroed and returned to the host allocator
			// unconditionally, attack or not.
		}
		tick := c.epochs.Tick()
		c.epochs.Enter(rec.Slot, tick)
		word.Store(p, word.HeadIdx, 0)
		total := word.TotalWords(ws) * word.Size
		c.alloc.Free(p)
		hostalloc.AccountFree(c.alloc, total)
		c.epochs.Quiesce(rec.Slot)
	default:
		h := word.Load(p, word.HeadIdx)
		ws := word.Load(p, word.SizeIdx)
		if c.cfg.DuplicateFreeCheck && c.canaries.IsFreedHead(h, ws) {
			telemetry.WARN("duplicate free of buffer %#x ignored", uintptr(u))
			return
		}
		// spec.md §4.3: p[0] := p[0] xor G_CANARY xor G_CANARY_FREE,
		// i.e. G_CANARY_FREE xor word_size -- the memory stays with
		// the caller until the monitor verifies and releases it.
		word.Store(p, word.HeadIdx, h^c.canaries.Live^c.canaries.Free)
	}
}

// Realloc implements spec.md §4.3's realloc().
func (c *Context) Realloc(u unsafe.Pointer, n2 uintptr) unsafe.Pointer {
	if u == nil {
		return c.Alloc(n2)
	}
	if n2 == 0 {
		c.Free(u)
		return nil
	}
	rec := c.recordFor(gid.Current())
	if !rec.Protect.Load() {
		return c.alloc.Realloc(u, n2)
	}

	p := word.BaseAddr(u)
	ws2 := word.WordSize(n2)

	if c.mode == word.Eager {
		ws := word.Load(p, word.SizeIdx)
		tail := word.Load(p, word.TailIdx(ws))
		if tail != c.canaries.Live {
			c.attackH.Report(attack.Report{Site: attack.SiteRealloc, UserAddr: uintptr(u),
				Detail: "tail canary mismatch before realloc"})
			// spec.md §4.3 / original_source/trunk/memory.cpp's
			// realloc_wrapper eager path: the check never aborts the
			// realloc -- original_realloc and re-encapsulation still
			// happen after the report, attack or not.
		}
		total2 := word.TotalWords(ws2) * word.Size
		newP := c.alloc.Realloc(p, total2)
		if newP == nil {
			return nil
		}
		id := c.ids.Next()
		tick := c.epochs.Tick()
		word.Store(newP, word.SizeIdx, ws2)
		word.Store(newP, word.TailIdx(ws2), c.canaries.Live)
		word.Store(newP, word.HeadIdx, id)
		d := word.Descriptor{UserAddr: uintptr(word.UserAddr(newP)), ID: id, Tick: tick}
		if !rec.Produce(d) {
			c.dropped.Add(1)
		}
		return word.UserAddr(newP)
	}

	ws := word.Load(p, word.SizeIdx)
	if ws2 == ws {
		return u
	}
	if ws2 < ws {
		// In-place shrink, spec.md §4.3: the ordering of these four
		// stores is mandatory -- a concurrent monitor that observes
		// the final head must already see a consistent size and tail.
		word.Store(p, word.HeadIdx, c.canaries.Realloc)
		word.Store(p, word.SizeIdx, ws2)
		word.Store(p, word.TailIdx(ws2), c.canaries.LiveHead(ws2))
		word.Store(p, word.HeadIdx, c.canaries.LiveHead(ws2))
		return u
	}

	h := word.Load(p, word.HeadIdx)
	if h != c.canaries.LiveHead(ws) {
		c.attackH.Report(attack.Report{Site: attack.SiteRealloc, UserAddr: uintptr(u),
			Detail: "head canary mismatch before grow"})
		return nil
	}
	newU := c.Alloc(n2)
	if newU == nil {
		return nil
	}
	copyWords := ws
	if ws2 < copyWords {
		copyWords = ws2
	}
	copyBytes(newU, u, copyWords*word.Size)
	c.Free(u)
	return newU
}

// Calloc implements spec.md §4.3's calloc(), including the bootstrap
// branch for when the engine is not yet running: "serve the request
// from a page allocator directly, still encapsulated, and do not
// enqueue a descriptor."
func (c *Context) Calloc(n, size uintptr) unsafe.Pointer {
	total := n * size
	if n != 0 && total/n != size {
		return nil
	}
	if c.state.Load() != stateRunning {
		return c.bootstrapCalloc(total)
	}
	return c.Alloc(total)
}

func (c *Context) bootstrapCalloc(total uintptr) unsafe.Pointer {
	ws := word.WordSize(total)
	buf := make([]byte, word.TotalWords(ws)*word.Size)
	p := unsafe.Pointer(&buf[0])
	live := c.canaries.LiveHead(ws)
	word.Store(p, word.SizeIdx, ws)
	word.Store(p, word.TailIdx(ws), live)
	word.Store(p, word.HeadIdx, live)
	return word.UserAddr(p)
}

// GoroutineExiting is the Go-appropriate substitute for spec.md §4.2's
// signal-zero liveness probe: a mutator that knows it is about to stop
// calling Alloc/Free/Realloc/Calloc calls this to free its ThreadRecord
// slot deterministically, rather than waiting for the transmitter's
// best-effort cache-eviction detection (see SPEC_FULL.md §4.2).
func (c *Context) GoroutineExiting() {
	gidv := gid.Current()
	v := c.gidCache.Lookup(gidv)
	rec, ok := v.(*threadrec.Record)
	if !ok || rec.GoroutineID.Load() != gidv {
		return
	}
	if !rec.Empty() {
		// Descriptors still queued; let the transmitter drain them
		// before this slot can be safely reused.
		return
	}
	rec.Reset()
	c.gidCache.Evict(gidv)
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
