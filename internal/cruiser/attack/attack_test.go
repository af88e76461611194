package attack

import "testing"

func TestReportUnderPolicyContinueDoesNotPanic(t *testing.T) {
	h := NewHandler()
	h.SetPolicy(PolicyContinue)
	var got Report
	h.SetOnReport(func(r Report) { got = r })
	h.Report(Report{Site: SiteMonitor, UserAddr: 0x1234, Detail: "tail canary mismatch"})
	if got.Site != SiteMonitor || got.UserAddr != 0x1234 {
		t.Fatalf("onReport did not receive the report: %+v", got)
	}
	if h.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", h.Count())
	}
}

func TestReportUnderPolicyAbortPanics(t *testing.T) {
	h := NewHandler()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected PolicyAbort to panic")
		}
	}()
	h.Report(Report{Site: SiteFree, UserAddr: 0x1, Detail: "head canary mismatch"})
}

func TestDefaultPolicyIsAbort(t *testing.T) {
	h := NewHandler()
	if h.PolicyNow() != PolicyAbort {
		t.Fatalf("PolicyNow() = %v, want PolicyAbort", h.PolicyNow())
	}
}
