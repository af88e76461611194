package config

import (
	"testing"
	"time"

	"github.com/heapwatch/cruiser/internal/cruiser/attack"
)

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CRUISER_SLEEP", "50")
	t.Setenv("CRUISER_NOP", "1000")
	t.Setenv("CRUISER_DUP_FREE", "false")
	t.Setenv("CRUISER_ON_ATTACK", "continue")

	c := FromEnv()
	if c.RoundSleep != 50*time.Millisecond {
		t.Fatalf("RoundSleep = %v, want 50ms", c.RoundSleep)
	}
	if c.NopIterations != 1000 {
		t.Fatalf("NopIterations = %d, want 1000", c.NopIterations)
	}
	if c.DuplicateFreeCheck {
		t.Fatalf("DuplicateFreeCheck should be false")
	}
	if c.OnAttack != attack.PolicyContinue {
		t.Fatalf("OnAttack = %v, want PolicyContinue", c.OnAttack)
	}
}

func TestFromEnvClampsSleepBelowOneSecond(t *testing.T) {
	t.Setenv("CRUISER_SLEEP", "5000")
	c := FromEnv()
	if c.RoundSleep >= time.Second {
		t.Fatalf("RoundSleep = %v, must be clamped below 1s", c.RoundSleep)
	}
}

func TestDefaultMatchesReferenceBehavior(t *testing.T) {
	c := Default()
	if c.RoundSleep != 0 {
		t.Fatalf("default RoundSleep should be 0 (no sleep)")
	}
	if !c.DuplicateFreeCheck {
		t.Fatalf("default DuplicateFreeCheck should be on")
	}
	if c.OnAttack != attack.PolicyAbort {
		t.Fatalf("default OnAttack should be abort")
	}
}
