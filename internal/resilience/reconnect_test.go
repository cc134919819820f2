package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReconnectLoopRetriesFailedPeers(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	connect := func(peerID string) error {
		mu.Lock()
		attempts[peerID]++
		mu.Unlock()
		if peerID == "bad" {
			return errors.New("unreachable")
		}
		return nil
	}

	b := New()
	loop := NewReconnectLoop(b, []string{"good", "bad"}, connect)
	loop.attemptAll()

	mu.Lock()
	defer mu.Unlock()
	if attempts["good"] != 1 || attempts["bad"] != 1 {
		t.Fatalf("expected one attempt per peer on first pass, got %v", attempts)
	}
	if b.FailureCount("bad") != 1 {
		t.Fatalf("expected bad peer to record a failure, got %d", b.FailureCount("bad"))
	}
	if b.FailureCount("good") != 0 {
		t.Fatalf("expected good peer to have no failures, got %d", b.FailureCount("good"))
	}
}

func TestReconnectLoopStartStop(t *testing.T) {
	connect := func(peerID string) error { return nil }
	loop := NewReconnectLoop(New(), []string{"p1"}, connect)
	loop.Start()
	time.Sleep(10 * time.Millisecond)
	loop.Stop()
}
