package engine

import (
	"runtime"
	"time"

	"github.com/heapwatch/cruiser/internal/cruiser/threadrec"
)

// stillThreshold is spec.md §4.6's idle-round count before the
// transmitter sleeps to reduce background cost on idle hosts.
const stillThreshold = 10

// transmitterLoop implements spec.md §4.6's transmitter loop: drain
// every ThreadRecord completely into the descriptor container, probe
// idle records for a dead owner, and back off after enough rounds
// produced nothing.
func (c *Context) transmitterLoop() {
	for c.state.Load() != stateRunning {
		runtime.Gosched()
	}
	still := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.runCtx.Done():
			return
		default:
		}

		n := c.drainOnce()

		switch exitState(c.exit.Load()) {
		case exitHooked:
			c.exit.CompareAndSwap(int32(exitHooked), int32(exitTransmitterBegin))
		case exitTransmitterBegin:
			c.exit.CompareAndSwap(int32(exitTransmitterBegin), int32(exitTransmitterDone))
		}

		if n == 0 {
			still++
			if still >= stillThreshold {
				time.Sleep(time.Millisecond)
				still = 0
			}
		} else {
			still = 0
		}
	}
}

// drainOnce drains every live record's ring chain once and returns the
// number of descriptors consumed.
func (c *Context) drainOnce() int {
	n := 0
	c.records.Each(func(rec *threadrec.Record) {
		if rec.GoroutineID.Load() == 0 {
			return
		}
		for {
			d, ok := rec.Consume()
			if !ok {
				break
			}
			c.cont.Insert(d)
			n++
		}
		if rec.Empty() {
			c.probeLiveness(rec)
		}
	})
	return n
}

// probeLiveness is the Go translation of spec.md §4.2's "signal-zero
// probe to threadID": Go has no portable way to ask whether a specific
// goroutine is still running, so this is a best-effort substitute (see
// SPEC_FULL.md §4.2) -- it only recognizes that an owner is gone when
// the goroutine-ID cache no longer maps the record's gid back to this
// record (the slot was reassigned or explicitly evicted via
// GoroutineExiting). Programs that want deterministic slot reuse
// should call GoroutineExiting() instead of relying on this.
func (c *Context) probeLiveness(rec *threadrec.Record) {
	gidv := rec.GoroutineID.Load()
	if gidv == 0 {
		return
	}
	if owner, ok := c.gidCache.Lookup(gidv).(*threadrec.Record); ok && owner == rec {
		return
	}
	rec.Reset()
}
