// Package cruiser provides a concurrent heap buffer-overflow detector:
// a canary-encapsulating allocator wrapper watched by a background
// monitor/transmitter goroutine pair.
//
// Go has no libc to shadow the way the reference LD_PRELOAD shim does,
// so this package exposes the same contract as an explicit API: call
// [Alloc], [Free], [Realloc], and [Calloc] instead of Go's built-in
// allocation, and a background monitor continuously re-checks every
// outstanding allocation for writes past its boundary.
//
// # Quick start
//
//	func main() {
//		cruiser.Init()
//		defer cruiser.Stop(time.Second)
//
//		p := cruiser.Alloc(64)
//		defer cruiser.Free(p)
//		buf := unsafe.Slice((*byte)(p), 64)
//		buf[0] = 0xAA
//	}
//
// # Modes
//
// [Lazy] mode (the default) only flags a buffer's header on free and
// lets the monitor perform both the tail check and the eventual
// release to the host allocator. [Eager] mode returns memory to the
// host allocator immediately and relies on identity words plus
// epoch-gated reclamation to avoid inspecting memory a concurrent free
// may be returning. See SPEC_FULL.md for the full protocol.
//
// # What this does not do
//
// cruiser detects contiguous writes immediately before or after an
// encapsulated buffer. It does not detect non-contiguous or arbitrary
// writes, use-after-free beyond what canary checks incidentally catch,
// or tampering with memory it did not itself encapsulate.
package cruiser
