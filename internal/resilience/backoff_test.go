package resilience

import (
	"testing"
	"time"
)

func TestAllowRespectsPerCycleBudget(t *testing.T) {
	b := New()
	allowed := 0
	for i := 0; i < MaxAttemptsPerCycle+3; i++ {
		if b.Allow("peerX") {
			allowed++
		}
	}
	if allowed != MaxAttemptsPerCycle {
		t.Fatalf("expected %d allowed attempts, got %d", MaxAttemptsPerCycle, allowed)
	}
}

func TestAllowRespectsPeerBackoffWindow(t *testing.T) {
	b := New()
	b.Failure("peer1")
	if b.Allow("peer1") {
		t.Fatal("expected peer in backoff window to be disallowed")
	}
}

func TestSuccessClearsBackoff(t *testing.T) {
	b := New()
	b.Failure("peer1")
	b.Success("peer1")
	if b.FailureCount("peer1") != 0 {
		t.Fatalf("expected failure count reset, got %d", b.FailureCount("peer1"))
	}
}

func TestBackoffDelayGrowsExponentiallyAndCaps(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{9, 256 * time.Second},
		{10, MaxBackoff},
		{100, MaxBackoff},
	}
	for _, c := range cases {
		got := backoffDelay(c.failures)
		if got != c.want {
			t.Fatalf("failures=%d: expected %v, got %v", c.failures, c.want, got)
		}
	}
}

func TestJitterWithinBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		j := Jitter()
		if j < 0 || j >= JitterMax {
			t.Fatalf("jitter %v out of bounds [0, %v)", j, JitterMax)
		}
	}
}

func TestFailureCountIncrementsPerFailure(t *testing.T) {
	b := New()
	b.Failure("peer1")
	b.Failure("peer1")
	if got := b.FailureCount("peer1"); got != 2 {
		t.Fatalf("expected failure count 2, got %d", got)
	}
}
