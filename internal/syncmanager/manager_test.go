package syncmanager

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cyberfly-mesh/meshpeer/internal/crypto"
	"github.com/cyberfly-mesh/meshpeer/internal/storage"
	"github.com/cyberfly-mesh/meshpeer/internal/syncstore"
	"github.com/google/uuid"
)

func signedOp(t *testing.T, ts int64) *syncstore.SignedOperation {
	t.Helper()
	_, priv, pubHex, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	op := &syncstore.SignedOperation{
		OpID:      uuid.NewString(),
		Timestamp: ts,
		DBName:    crypto.GenerateDBName("db", pubHex),
		Key:       "k",
		Value:     "v",
		StoreType: syncstore.StoreString,
		PublicKey: pubHex,
	}
	msg := fmt.Sprintf("%s:%d:%s:%s:%s", op.OpID, op.Timestamp, op.DBName, op.Key, op.Value)
	op.Signature = crypto.Sign(priv, []byte(msg))
	return op
}

func testStore(t *testing.T) *syncstore.Store {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "node.db"), NoSync: true})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return syncstore.New(db)
}

func TestHandleSyncRequestRespondsWithOperations(t *testing.T) {
	store := testStore(t)
	store.AddOperationUnverified(opAt(100, "op1"))
	op2 := opAt(200, "op2")
	op2.Key = "k2" // a distinct CRDT key, so op1 is not overwritten by LWW
	store.AddOperationUnverified(op2)

	var sent *Message
	mgr := New("local", store, func(msg *Message) error {
		sent = msg
		return nil
	})

	mgr.HandleMessage(&Message{Kind: KindSyncRequest, Request: &SyncRequest{Requester: "remote"}})

	if sent == nil || sent.Kind != KindSyncResponse {
		t.Fatalf("expected a sync response to be broadcast, got %+v", sent)
	}
	if sent.Response.Requester != "remote" {
		t.Fatalf("expected requester echoed, got %q", sent.Response.Requester)
	}
	if len(sent.Response.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(sent.Response.Operations))
	}
}

func TestHandleSyncResponseIgnoresForeignRequester(t *testing.T) {
	store := testStore(t)
	called := false
	mgr := New("local", store, func(msg *Message) error {
		called = true
		return nil
	})

	mgr.HandleMessage(&Message{Kind: KindSyncResponse, Response: &SyncResponse{
		Requester:  "someone-else",
		Operations: []*syncstore.SignedOperation{opAt(100, "op1")},
	}})

	if called {
		t.Fatal("expected no broadcast for a response addressed to another node")
	}
	if _, ok := store.Get("db:k"); ok {
		t.Fatal("expected no merge for a response addressed to another node")
	}
}

func TestHandleSyncResponseChainsContinuation(t *testing.T) {
	store := testStore(t)
	var requests []*Message
	mgr := New("local", store, func(msg *Message) error {
		requests = append(requests, msg)
		return nil
	})

	mgr.HandleMessage(&Message{Kind: KindSyncResponse, Response: &SyncResponse{
		Requester:         "local",
		Operations:        []*syncstore.SignedOperation{opAt(100, "op1")},
		HasMore:           true,
		ContinuationToken: "ts:100",
	}})

	if len(requests) != 1 || requests[0].Kind != KindSyncRequest {
		t.Fatalf("expected a follow-up sync request, got %+v", requests)
	}
	if *requests[0].Request.SinceTimestamp != 100 {
		t.Fatalf("expected since_timestamp 100, got %d", *requests[0].Request.SinceTimestamp)
	}
}

func TestHandleOperationAppliesAcceptedOps(t *testing.T) {
	store := testStore(t)
	mgr := New("local", store, func(msg *Message) error { return nil })

	op := signedOp(t, 100)
	mgr.HandleMessage(&Message{Kind: KindOperation, Op: op})

	got, ok := store.Get(op.CRDTKey())
	if !ok || got.OpID != op.OpID {
		t.Fatalf("expected operation applied to store, got %+v", got)
	}
}

func TestRequestSyncBroadcastsRequest(t *testing.T) {
	store := testStore(t)
	var sent *Message
	mgr := New("local", store, func(msg *Message) error {
		sent = msg
		return nil
	})

	mgr.RequestSync(nil)
	if sent == nil || sent.Kind != KindSyncRequest || sent.Request.Requester != "local" {
		t.Fatalf("expected local sync request, got %+v", sent)
	}
	if sent.Request.SinceTimestamp != nil {
		t.Fatal("expected nil since_timestamp for initial sync")
	}
}
