package engine

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/heapwatch/cruiser/internal/cruiser/attack"
	"github.com/heapwatch/cruiser/internal/cruiser/container"
	"github.com/heapwatch/cruiser/internal/cruiser/hostalloc"
	"github.com/heapwatch/cruiser/internal/cruiser/word"
)

// monitorLoop implements spec.md §4.6's monitor loop and §4.7's
// startup ordering ("spawn the monitor thread; it in turn spawns the
// transmitter").
func (c *Context) monitorLoop() {
	go c.transmitterLoop()

	for c.state.Load() != stateRunning {
		runtime.Gosched()
	}

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.runCtx.Done():
			return
		default:
		}

		c.runRound()
		c.rounds.Add(1)

		switch exitState(c.exit.Load()) {
		case exitTransmitterDone:
			c.exit.CompareAndSwap(int32(exitTransmitterDone), int32(exitMonitorBegin))
		case exitMonitorBegin:
			c.exit.CompareAndSwap(int32(exitMonitorBegin), int32(exitMonitorDone))
		}

		if c.cfg.RoundSleep > 0 {
			time.Sleep(c.cfg.RoundSleep)
		}
	}
}

// runRound is one complete traversal of the descriptor container
// (spec.md §4.4's "Round").
func (c *Context) runRound() {
	c.cont.Traverse(func(d word.Descriptor) container.Verdict {
		for i := 0; i < c.cfg.NopIterations; i++ {
			runtime.Gosched()
		}
		if c.mode == word.Eager {
			return c.checkEager(d)
		}
		return c.checkLazy(d)
	})
}

// checkLazy implements spec.md §4.5's lazy-mode per-node check.
func (c *Context) checkLazy(d word.Descriptor) container.Verdict {
	u := unsafe.Pointer(d.UserAddr)
	p := word.BaseAddr(u)

	h := word.Load(p, word.HeadIdx)
	if h == c.canaries.Realloc {
		return container.Live // re-check next round
	}
	ws := word.Load(p, word.SizeIdx)
	if word.Load(p, word.HeadIdx) != h {
		return container.Live // size may be stale from a completed realloc
	}

	liveHead := c.canaries.LiveHead(ws)
	if c.canaries.IsFreedHead(h, ws) {
		tail := word.Load(p, word.TailIdx(ws))
		if tail != liveHead {
			c.attackH.Report(attack.Report{
				Site: attack.SiteMonitor, UserAddr: d.UserAddr,
				Detail: "tail canary mismatch on a buffer that was freed (overflow then free)",
			})
			// spec.md §4.5 step 5 / original_source/monitor.h's
			// processNode(): the check never gates the release --
			// original_free runs unconditionally below, attack or not.
		}
		total := word.TotalWords(ws) * word.Size
		c.alloc.Free(p)
		hostalloc.AccountFree(c.alloc, total)
		return container.Finished
	}

	if h != liveHead {
		c.attackH.Report(attack.Report{
			Site: attack.SiteMonitor, UserAddr: d.UserAddr, Detail: "head canary mismatch",
		})
		return container.Finished
	}
	if word.Load(p, word.TailIdx(ws)) != liveHead {
		c.attackH.Report(attack.Report{
			Site: attack.SiteMonitor, UserAddr: d.UserAddr, Detail: "tail canary mismatch",
		})
		return container.Finished
	}
	return container.Live
}

// checkEager implements spec.md §4.5's eager-mode per-node check,
// substituting SPEC_FULL.md §7.1's epoch-based reclamation guard for
// the reference's SIGSEGV recovery.
func (c *Context) checkEager(d word.Descriptor) container.Verdict {
	u := unsafe.Pointer(d.UserAddr)
	p := word.BaseAddr(u)

	h := word.Load(p, word.HeadIdx)
	if h != d.ID {
		return container.Finished // freed or reused
	}
	ws := word.Load(p, word.SizeIdx)

	if !c.epochs.SafeToRead(d.Tick) {
		// A mutator is mid-free and may be concurrently handing this
		// region back to the host allocator; recheck next round.
		return container.Live
	}

	tail := word.Load(p, word.TailIdx(ws))
	if word.Load(p, word.HeadIdx) != d.ID {
		return container.Finished // freed between the id checks; tail not authoritative
	}
	if tail != c.canaries.Live {
		c.attackH.Report(attack.Report{
			Site: attack.SiteMonitor, UserAddr: d.UserAddr, Detail: "tail canary mismatch",
		})
		return container.Finished
	}
	return container.Live
}
