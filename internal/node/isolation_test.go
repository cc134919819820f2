package node

import "testing"

func TestIsIsolated(t *testing.T) {
	cases := []struct {
		connected int
		messages  int64
		hasRelay  bool
		want      bool
	}{
		{0, 0, false, true},
		{0, 5, true, true},
		{1, 0, false, true},
		{1, 0, true, false},
		{1, 5, false, false},
	}
	for _, c := range cases {
		if got := isIsolated(c.connected, c.messages, c.hasRelay); got != c.want {
			t.Errorf("isIsolated(%d,%d,%v) = %v, want %v", c.connected, c.messages, c.hasRelay, got, c.want)
		}
	}
}

func TestIsolationMonitorFiresAfterThreshold(t *testing.T) {
	mon := &isolationMonitor{}
	for i := 0; i < ConsecutiveIsolatedThreshold-1; i++ {
		if mon.Tick(0, 0, false) {
			t.Fatalf("tick %d fired early", i)
		}
	}
	if !mon.Tick(0, 0, false) {
		t.Fatal("expected monitor to fire on the threshold-th consecutive isolated tick")
	}
}

func TestIsolationMonitorResetsOnHealthyTick(t *testing.T) {
	mon := &isolationMonitor{}
	mon.Tick(0, 0, false)
	mon.Tick(0, 0, false)
	if mon.Tick(1, 5, false) {
		t.Fatal("healthy tick must not fire")
	}
	if mon.consecutive != 0 {
		t.Fatalf("expected counter reset after healthy tick, got %d", mon.consecutive)
	}
	for i := 0; i < ConsecutiveIsolatedThreshold-1; i++ {
		if mon.Tick(0, 0, false) {
			t.Fatalf("tick %d fired before new threshold reached", i)
		}
	}
}
