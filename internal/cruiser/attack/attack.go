// Package attack implements spec.md §4.6's "global response handler"
// and the diagnostic it prints: the single place every canary/identity
// mismatch detected anywhere in the module (free-time, realloc-time,
// monitor round) is funneled through.
//
// Grounded on intuitivelabs/mallocs/qmalloc's dbg.go PANIC/BUG
// convention (log then fail hard) and on
// monkeydluffy772-racedetector/internal/race/detector/report.go's
// practice of tagging every report with the detecting site.
package attack

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/heapwatch/cruiser/internal/cruiser/telemetry"
)

// Policy selects the process-wide response to a detected attack
// (spec.md §6, "Exit behavior on detected attack").
type Policy int32

const (
	// PolicyAbort panics with the diagnostic (see Report); unless the
	// panic is recovered, the process crashes. Default, standing in for
	// the reference's SIGABRT behavior.
	PolicyAbort Policy = iota
	// PolicyExit terminates the process with a non-zero exit code
	// without a crash dump.
	PolicyExit
	// PolicyContinue logs the attack and returns control to the
	// caller. Intended for tests and for programs that want to collect
	// every report from a single run instead of stopping at the first.
	PolicyContinue
)

func (p Policy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	case PolicyExit:
		return "exit"
	case PolicyContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Site names the detecting code path, included in every report per
// spec.md §4.6.
type Site string

const (
	SiteFree    Site = "free"
	SiteRealloc Site = "realloc"
	SiteMonitor Site = "monitor"
)

// Report describes one detected canary/identity mismatch.
type Report struct {
	Site     Site
	UserAddr uintptr
	Detail   string
}

// Handler is the process-wide attack response path. The zero value is
// not usable; construct with NewHandler.
type Handler struct {
	policy atomic.Int32
	count  atomic.Uint64
	// onReport, when set, is invoked with every report before the
	// configured policy is applied. Tests use this to observe reports
	// under PolicyContinue without parsing stderr.
	onReport func(Report)
}

// NewHandler returns a Handler defaulting to PolicyAbort.
func NewHandler() *Handler {
	h := &Handler{}
	h.policy.Store(int32(PolicyAbort))
	return h
}

// SetPolicy changes the process-wide response for subsequent reports.
func (h *Handler) SetPolicy(p Policy) { h.policy.Store(int32(p)) }

// PolicyNow returns the currently configured policy.
func (h *Handler) PolicyNow() Policy { return Policy(h.policy.Load()) }

// SetOnReport installs a test hook invoked with every report.
func (h *Handler) SetOnReport(fn func(Report)) { h.onReport = fn }

// Count returns the number of reports handled so far.
func (h *Handler) Count() uint64 { return h.count.Load() }

// Report logs the attack and applies the current policy. Under
// PolicyAbort it panics (the closest Go analogue to the reference's
// abort()/SIGABRT, since Go owns its own signal handling and cannot
// deliver a real SIGABRT the way the C reference does); under
// PolicyExit it calls os.Exit(-1) after the diagnostic is flushed;
// under PolicyContinue it returns so the caller keeps running.
func (h *Handler) Report(r Report) {
	h.count.Add(1)
	telemetry.Attack("%s: buffer at %#x: %s", r.Site, r.UserAddr, r.Detail)
	if h.onReport != nil {
		h.onReport(r)
	}
	switch h.PolicyNow() {
	case PolicyExit:
		fmt.Fprintf(os.Stderr, "cruiser: attack detected at %s, user addr %#x: %s\n",
			r.Site, r.UserAddr, r.Detail)
		os.Exit(-1)
	case PolicyContinue:
		return
	default: // PolicyAbort
		fmt.Fprintf(os.Stderr, "cruiser: attack detected at %s, user addr %#x: %s\n",
			r.Site, r.UserAddr, r.Detail)
		panic(fmt.Sprintf("cruiser: attack detected at %s, user addr %#x: %s",
			r.Site, r.UserAddr, r.Detail))
	}
}
