// Package telemetry is cruiser's single diagnostic output path: every
// branch in spec.md §7's error table that reaches a human (dropped
// descriptors, duplicate frees, attack reports, symbol/allocator
// resolution failures) logs through here instead of scattering
// fmt.Fprintf(os.Stderr, ...) across the hot path.
//
// Grounded on intuitivelabs/mallocs/qmalloc's log_common.go, which logs
// a C allocator's own overflow/underflow canary failures (qmalloc's
// "check"/"check1"/"check2" fields are the same shape as this module's
// head/tail canaries) through github.com/intuitivelabs/slog; cruiser
// adopts the same library and the same WARN/ERR/BUG shorthand
// convention, renamed for this module's domain.
package telemetry

import (
	"github.com/intuitivelabs/slog"
)

const name = "cruiser"

const (
	pDBG    = "DBG: " + name + ": "
	pWARN   = "WARNING: " + name + ": "
	pERR    = "ERROR: " + name + ": "
	pATTACK = "ATTACK: " + name + ": "
)

// Log is the package-wide logger, matching qmalloc's package-level Log
// variable: debug level enabled, backtrace and call-site location
// tagged on every line, writing to stderr.
var Log slog.Log = slog.New(slog.LDBG, slog.LbackTraceS|slog.LlocInfoS,
	slog.LStdErr)

// DBGon reports whether debug-level logging is enabled.
func DBGon() bool { return Log.L(slog.LDBG) }

// DBG logs a debug-level message: lifecycle transitions, ring growth,
// transmitter idle/wake events.
func DBG(f string, a ...interface{}) { Log.LLog(slog.LDBG, 1, pDBG, f, a...) }

// WARNon reports whether warning-level logging is enabled.
func WARNon() bool { return Log.WARNon() }

// WARN logs a warning: duplicate free, dropped descriptor.
func WARN(f string, a ...interface{}) { Log.LLog(slog.LWARN, 1, pWARN, f, a...) }

// ERRon reports whether error-level logging is enabled.
func ERRon() bool { return Log.ERRon() }

// ERR logs a non-fatal error: allocator resolution failure. (A
// descriptor dropped because ring growth failed is logged with WARN.)
func ERR(f string, a ...interface{}) { Log.LLog(slog.LERR, 1, pERR, f, a...) }

// Attack logs a detected canary/identity mismatch. Always logged
// regardless of level, mirroring spec.md §4.6: "a diagnostic line
// naming the detection site and offending user address is printed on
// the standard error stream."
func Attack(f string, a ...interface{}) { Log.LLog(slog.LERR, 1, pATTACK, f, a...) }
