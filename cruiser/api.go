package cruiser

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"github.com/heapwatch/cruiser/internal/cruiser/attack"
	"github.com/heapwatch/cruiser/internal/cruiser/config"
	"github.com/heapwatch/cruiser/internal/cruiser/engine"
	"github.com/heapwatch/cruiser/internal/cruiser/hostalloc"
	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

// Mode selects between the two verification strategies of spec.md §4.
type Mode = word.Mode

const (
	Lazy  = word.Lazy
	Eager = word.Eager
)

// AttackPolicy selects the process-wide response to a detected
// canary/identity mismatch (spec.md §6).
type AttackPolicy = attack.Policy

const (
	PolicyAbort    = attack.PolicyAbort
	PolicyExit     = attack.PolicyExit
	PolicyContinue = attack.PolicyContinue
)

// Config holds the environment-tunable knobs of SPEC_FULL.md §6
// (CRUISER_SLEEP, CRUISER_NOP, CRUISER_DUP_FREE, CRUISER_ON_ATTACK).
type Config = config.Config

// Option configures the default Context built by Init.
type Option = engine.Option

// WithMode selects eager or lazy verification for the default Context.
func WithMode(m Mode) Option { return engine.WithMode(m) }

// WithAllocator overrides the host allocator for the default Context.
func WithAllocator(a hostalloc.Allocator) Option { return engine.WithAllocator(a) }

// WithConfig overrides the environment-derived configuration for the
// default Context.
func WithConfig(cfg Config) Option { return engine.WithConfig(cfg) }

var (
	defOnce sync.Once
	def     *engine.Context
)

// Init initializes the package-level Context: resolves canary
// constants, spawns the monitor (which spawns the transmitter), and
// busy-waits callers until startup completes (spec.md §4.7).
//
// Init is safe to call multiple times; subsequent calls are no-ops and
// ignore their Options, matching the reference's idempotent init latch.
func Init(opts ...Option) error {
	var err error
	defOnce.Do(func() {
		full := append([]Option{WithConfig(config.FromEnv())}, opts...)
		def = engine.New(full...)
		err = def.Init(context.Background())
	})
	return err
}

// Start is Init's context-aware form: ctx's cancellation is layered
// underneath the spec.md §4.8 at-exit drain state machine as an
// additional way to stop the monitor and transmitter goroutines
// (SPEC_FULL.md §5).
func Start(ctx context.Context, opts ...Option) error {
	var err error
	defOnce.Do(func() {
		full := append([]Option{WithConfig(config.FromEnv())}, opts...)
		def = engine.New(full...)
		err = def.Init(ctx)
	})
	return err
}

func ensureDefault() {
	if def == nil {
		_ = Init()
	}
}

// Stop performs spec.md §4.8's three-phase at-exit drain, waiting up
// to timeout for one final transmitter-then-monitor round to complete,
// then stops the background goroutines. Stop before Init is a no-op.
func Stop(timeout time.Duration) {
	if def == nil {
		return
	}
	def.Stop(timeout)
}

// Alloc implements spec.md §4.3's alloc(): encapsulate a fresh buffer
// of n bytes and hand its user address off for monitoring.
func Alloc(n uintptr) unsafe.Pointer {
	ensureDefault()
	return def.Alloc(n)
}

// Free implements spec.md §4.3's free().
func Free(p unsafe.Pointer) {
	ensureDefault()
	def.Free(p)
}

// Realloc implements spec.md §4.3's realloc().
func Realloc(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	ensureDefault()
	return def.Realloc(p, n)
}

// Calloc implements spec.md §4.3's calloc().
func Calloc(n, size uintptr) unsafe.Pointer {
	ensureDefault()
	return def.Calloc(n, size)
}

// SetAttackPolicy changes the process-wide response to a detected
// attack (spec.md §6).
func SetAttackPolicy(p AttackPolicy) {
	ensureDefault()
	def.AttackHandler().SetPolicy(p)
}

// GoroutineExiting lets a mutator goroutine that is about to stop
// calling into cruiser free its ThreadRecord slot deterministically
// (SPEC_FULL.md §4.2), instead of waiting on the transmitter's
// best-effort liveness probe.
func GoroutineExiting() {
	if def == nil {
		return
	}
	def.GoroutineExiting()
}

// Stats reports the host allocator's byte counters, used by callers to
// verify bytes taken and bytes returned balance (spec.md §8 scenario 6).
func Stats() hostalloc.Stats {
	ensureDefault()
	return def.AllocatorStats()
}

// Dropped returns the number of descriptors ever dropped because a
// mutator's ring was full and growth allocation failed.
func Dropped() uint64 {
	ensureDefault()
	return def.Dropped()
}

// AttackCount returns the number of attack reports handled so far
// (spec.md §4.6). Useful under [PolicyContinue], where a report does
// not stop the process.
func AttackCount() uint64 {
	ensureDefault()
	return def.AttackHandler().Count()
}

// Rounds returns the number of monitor rounds completed so far.
func Rounds() uint64 {
	ensureDefault()
	return def.Rounds()
}
