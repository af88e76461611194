package word

import (
	"crypto/rand"
	"encoding/binary"
)

// Canaries holds the three process-wide constants chosen once at init
// (spec.md §3): the live canary, the freed canary, and the transient
// realloc-shrink marker. They must be distinct and non-guessable.
//
// spec.md §9 leaves CSPRNG-vs-fixed-constant seeding as an explicit
// open question and suggests drawing them from a cryptographic RNG;
// this module resolves that question in favor of crypto/rand, since
// the reference's fixed constants leak to any process that reads the
// binary.
type Canaries struct {
	Live    Word // G_CANARY
	Free    Word // G_CANARY_FREE
	Realloc Word // G_CANARY_REALLOC
}

// NewCanaries draws three distinct, non-zero canary constants from a
// cryptographic RNG. It panics only if the system RNG itself fails,
// which indicates the host environment is unusable.
func NewCanaries() Canaries {
	var c Canaries
	vals := make(map[Word]bool, 3)
	draw := func() Word {
		for {
			v := randWord()
			if v != 0 && !vals[v] {
				vals[v] = true
				return v
			}
		}
	}
	c.Live = draw()
	c.Free = draw()
	c.Realloc = draw()
	return c
}

func randWord() Word {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("cruiser: crypto/rand unavailable: " + err.Error())
	}
	return Word(binary.LittleEndian.Uint64(buf[:]))
}

// LiveHead returns the lazy-mode head/tail word for a live buffer of
// ws words: G_CANARY xor ws.
func (c Canaries) LiveHead(ws Word) Word { return c.Live ^ ws }

// FreedHead returns the lazy-mode head word published by free(): the
// spec.md §9 open question resolved explicitly as
// (G_CANARY_FREE xor ws), not (G_CANARY_FREE xor (ws-already-xored)).
func (c Canaries) FreedHead(ws Word) Word { return c.Free ^ ws }

// IsFreedHead reports whether h is the lazy-mode freed-head encoding
// for word-size ws, resolving the precedence ambiguity from spec.md §9
// explicitly rather than relying on operator precedence.
func (c Canaries) IsFreedHead(h, ws Word) bool {
	return h == c.FreedHead(ws)
}
