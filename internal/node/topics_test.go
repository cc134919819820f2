package node

import "testing"

func TestResolveBootstrapPeersPrependsDefaultAndDedups(t *testing.T) {
	got := ResolveBootstrapPeers([]string{"abc@10.0.0.1:4001", DefaultBootstrapPeer, "abc@10.0.0.1:4001"})
	want := []string{DefaultBootstrapPeer, "abc@10.0.0.1:4001"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResolveBootstrapPeersWithNoHostPeers(t *testing.T) {
	got := ResolveBootstrapPeers(nil)
	if len(got) != 1 || got[0] != DefaultBootstrapPeer {
		t.Fatalf("expected only default peer, got %v", got)
	}
}
