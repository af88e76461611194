// Package config parses the environment variables spec.md §6 defines
// (CRUISER_SLEEP, CRUISER_NOP) plus the ones SPEC_FULL.md §6 adds on
// top (CRUISER_ON_ATTACK, CRUISER_DUP_FREE).
//
// No package in the retrieval pack loads configuration from the
// environment (the teacher's race detector is configured entirely via
// its Go API; qmalloc takes an Options bitmask at construction time),
// so there is no ecosystem library to ground this on — os.Getenv plus
// strconv is the plain, idiomatic choice for a handful of scalar knobs
// and pulling in a flags/env library for four variables would be the
// non-idiomatic choice. See DESIGN.md.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/heapwatch/cruiser/internal/cruiser/attack"
)

// MaxRoundSleep is the hard clamp spec.md §4.6 requires: "implementation
// must clamp any configured sleep to < 1 s."
const MaxRoundSleep = time.Second - time.Millisecond

// Config is the set of environment-tunable knobs.
type Config struct {
	// RoundSleep is the monitor's inter-round sleep (CRUISER_SLEEP,
	// milliseconds). Zero means no sleep, the reference default.
	RoundSleep time.Duration
	// NopIterations is a busy-loop count inserted into every
	// per-descriptor check, for throughput experiments (CRUISER_NOP).
	NopIterations int
	// DuplicateFreeCheck enables the lazy-mode duplicate-free
	// diagnostic (SPEC_FULL.md §4.8). Defaults on.
	DuplicateFreeCheck bool
	// OnAttack selects the attack.Policy (CRUISER_ON_ATTACK: "abort",
	// "exit", or "continue"). Defaults to attack.PolicyAbort.
	OnAttack attack.Policy
}

// Default returns the reference's hardcoded defaults: no sleep, no nop
// padding, duplicate-free checking on, abort on attack.
func Default() Config {
	return Config{
		DuplicateFreeCheck: true,
		OnAttack:           attack.PolicyAbort,
	}
}

// FromEnv starts from Default and overrides every knob present in the
// environment. Malformed values are ignored and leave the default in
// place; config is a convenience layer, not a validator of user error.
func FromEnv() Config {
	c := Default()
	if v, ok := getenvInt("CRUISER_SLEEP"); ok && v >= 0 {
		d := time.Duration(v) * time.Millisecond
		if d > MaxRoundSleep {
			d = MaxRoundSleep
		}
		c.RoundSleep = d
	}
	if v, ok := getenvInt("CRUISER_NOP"); ok && v >= 0 {
		c.NopIterations = v
	}
	if v, ok := os.LookupEnv("CRUISER_DUP_FREE"); ok {
		c.DuplicateFreeCheck = parseBool(v, c.DuplicateFreeCheck)
	}
	if v, ok := os.LookupEnv("CRUISER_ON_ATTACK"); ok {
		c.OnAttack = parsePolicy(v, c.OnAttack)
	}
	return c
}

func getenvInt(name string) (int, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseBool(s string, deflt bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return deflt
	}
	return v
}

func parsePolicy(s string, deflt attack.Policy) attack.Policy {
	switch s {
	case "abort":
		return attack.PolicyAbort
	case "exit":
		return attack.PolicyExit
	case "continue":
		return attack.PolicyContinue
	default:
		return deflt
	}
}
