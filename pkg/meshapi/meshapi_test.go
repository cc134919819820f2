package meshapi

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestHandleReadAccessorsErrorWhenNoNodeRunning(t *testing.T) {
	h := New()

	if h.IsNodeRunning() {
		t.Fatal("expected no node running on a fresh handle")
	}
	if _, err := h.GetNodeStatus(); err != errNodeNotRunning {
		t.Fatalf("expected errNodeNotRunning, got %v", err)
	}
	if _, err := h.GetPeers(); err != errNodeNotRunning {
		t.Fatalf("expected errNodeNotRunning, got %v", err)
	}
	if _, err := h.ListDatabases(); err != errNodeNotRunning {
		t.Fatalf("expected errNodeNotRunning, got %v", err)
	}
}

func TestStopNodeOnAFreshHandleIsANoOp(t *testing.T) {
	h := New()
	if err := h.StopNode(); err != nil {
		t.Fatalf("expected stopping an unstarted handle to be a no-op, got %v", err)
	}
}

func TestInitAndCurrentInstallTheSameHandle(t *testing.T) {
	h := New()
	Init(h)
	if Current() != h {
		t.Fatal("expected Current() to return the handle installed via Init")
	}
}

func TestCryptoHelperRoundTrip(t *testing.T) {
	seedHex, pubHex, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	sig, err := SignMessageWithKey(seedHex, "hello")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := VerifyMessageSignature(pubHex, "hello", sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	derivedPub, err := GeneratePeerIDFromSecretKey(seedHex)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	if derivedPub != pubHex {
		t.Fatalf("expected derived public key %s to match %s", derivedPub, pubHex)
	}

	dbName := GenerateDBName("hello", pubHex)
	if err := VerifyDBName(dbName, pubHex); err != nil {
		t.Fatalf("verify db name: %v", err)
	}
	if got := ExtractNameFromDB(dbName); got != "hello" {
		t.Fatalf("expected name hello, got %s", got)
	}
}

func TestLogRingHookDropsOldestBeyondLimit(t *testing.T) {
	hook := newLogRingHook()
	for i := 0; i < LogEntryLimit+10; i++ {
		entry := &logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "line"}
		if err := hook.Fire(entry); err != nil {
			t.Fatalf("fire: %v", err)
		}
	}
	entries := hook.snapshot(0)
	if len(entries) != LogEntryLimit {
		t.Fatalf("expected ring buffer capped at %d, got %d", LogEntryLimit, len(entries))
	}
}
