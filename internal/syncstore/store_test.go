package syncstore

import (
	"path/filepath"
	"testing"

	"github.com/cyberfly-mesh/meshpeer/internal/storage"
	"github.com/google/uuid"
)

func openTestDB(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	db, err := storage.Open(storage.Config{Path: path, NoSync: true})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func unsignedOp(dbName, key, value string, ts int64, opID string) *SignedOperation {
	return &SignedOperation{
		OpID:      opID,
		Timestamp: ts,
		DBName:    dbName,
		Key:       key,
		Value:     value,
		StoreType: StoreString,
	}
}

func TestAddOperationUnverifiedLWW(t *testing.T) {
	s := New(openTestDB(t))

	a := unsignedOp("db", "x", "va", 1000, "a")
	b := unsignedOp("db", "x", "vb", 1000, "b")

	if !s.AddOperationUnverified(a) {
		t.Fatal("expected first operation to be accepted")
	}
	if !s.AddOperationUnverified(b) {
		t.Fatal("expected op 'b' to win tiebreak over 'a' at equal timestamp")
	}

	got, ok := s.Get("db:x")
	if !ok || got.OpID != "b" {
		t.Fatalf("expected winner 'b', got %+v", got)
	}

	// replay 'a' again: must not win since its id is lexicographically smaller
	if s.AddOperationUnverified(a) {
		t.Fatal("expected op 'a' to lose against already-stored 'b'")
	}
}

func TestAddOperationRejectsBadSignature(t *testing.T) {
	s := New(openTestDB(t))
	op := makeSignedOp(t, "db", "k", "v", true)
	op.Signature = "00"
	if s.AddOperation(op) {
		t.Fatal("expected bad signature to be rejected")
	}
	if _, ok := s.Get(op.CRDTKey()); ok {
		t.Fatal("expected no entry after rejected operation")
	}
}

func TestApplyToStorageIsAtMostOnce(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	op := unsignedOp("mydb", "k", "v", 1000, "op1")

	if err := s.ApplyToStorage(op); err != nil {
		t.Fatalf("apply: %v", err)
	}
	v, err := db.Get("mydb", "k")
	if err != nil || string(v) != "v" {
		t.Fatalf("expected stored value v, got %v %v", v, err)
	}

	// mutate value and re-apply under the same op_id: must be a no-op
	op2 := unsignedOp("mydb", "k", "changed", 1000, "op1")
	if err := s.ApplyToStorage(op2); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	v, _ = db.Get("mydb", "k")
	if string(v) != "v" {
		t.Fatalf("expected value to remain v due to at-most-once apply, got %q", v)
	}
}

func TestApplyToStorageHashRequiresField(t *testing.T) {
	s := New(openTestDB(t))
	op := unsignedOp("mydb", "k", "v", 1000, "op1")
	op.StoreType = StoreHash
	if err := s.ApplyToStorage(op); err == nil {
		t.Fatal("expected error for hash operation missing field")
	}
}

func TestApplyToStorageHashComposesKey(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	op := unsignedOp("mydb", "k", "v", 1000, "op1")
	op.StoreType = StoreHash
	op.Field = "f"
	if err := s.ApplyToStorage(op); err != nil {
		t.Fatalf("apply: %v", err)
	}
	v, err := db.Get("mydb", "k:f")
	if err != nil || string(v) != "v" {
		t.Fatalf("expected stored value at composite key, got %v %v", v, err)
	}
}

func TestMergeOperationsCountsAccepted(t *testing.T) {
	s := New(openTestDB(t))
	a := makeSignedOp(t, "db", "k", "v1", true)
	b := makeSignedOp(t, "db", "k2", "v2", true)
	bad := makeSignedOp(t, "db", "k3", "v3", true)
	bad.Signature = "00"

	accepted := s.MergeOperations([]*SignedOperation{a, b, bad})
	if accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d", accepted)
	}
}

func TestOperationsSinceIsSortedAscending(t *testing.T) {
	s := New(openTestDB(t))
	s.AddOperationUnverified(unsignedOp("db", "k1", "v", 300, uuid.NewString()))
	s.AddOperationUnverified(unsignedOp("db", "k2", "v", 100, uuid.NewString()))
	s.AddOperationUnverified(unsignedOp("db", "k3", "v", 200, uuid.NewString()))

	ops := s.OperationsSince(0)
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	for i := 1; i < len(ops); i++ {
		if ops[i].Timestamp < ops[i-1].Timestamp {
			t.Fatalf("expected ascending order, got %v", ops)
		}
	}

	since := s.OperationsSince(200)
	if len(since) != 2 {
		t.Fatalf("expected 2 ops with ts >= 200, got %d", len(since))
	}
}

func TestApplyAllToStorageSkipsApplied(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	s.AddOperationUnverified(unsignedOp("mydb", "k1", "v1", 100, "op1"))
	s.AddOperationUnverified(unsignedOp("mydb", "k2", "v2", 100, "op2"))

	s.ApplyAllToStorage()

	v1, _ := db.Get("mydb", "k1")
	v2, _ := db.Get("mydb", "k2")
	if string(v1) != "v1" || string(v2) != "v2" {
		t.Fatalf("expected both operations applied, got %q %q", v1, v2)
	}
}
