package node

import "testing"

func TestStateTransitionsFollowLifecycle(t *testing.T) {
	cases := []struct {
		from, to State
		legal    bool
	}{
		{StateInitializing, StateConnecting, true},
		{StateInitializing, StateRunning, false},
		{StateConnecting, StateRunning, true},
		{StateConnecting, StateStopping, true},
		{StateRunning, StateIsolated, true},
		{StateIsolated, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateIsolated, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateInitializing, false},
	}
	for _, c := range cases {
		if got := c.from.canTransitionTo(c.to); got != c.legal {
			t.Errorf("%s -> %s: got legal=%v, want %v", c.from, c.to, got, c.legal)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateRunning.String() != "Running" {
		t.Fatalf("expected Running, got %s", StateRunning.String())
	}
	if got := State(99).String(); got != "Unknown(99)" {
		t.Fatalf("expected Unknown(99), got %s", got)
	}
}
