package storage

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Open(Config{Path: path, NoSync: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	if v, err := s.Get("db1", "missing"); err != nil || v != nil {
		t.Fatalf("expected nil for missing key, got %v %v", v, err)
	}

	if err := s.Put("db1", "k1", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := s.Get("db1", "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("got %q want v1", v)
	}

	if err := s.Delete("db1", "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := s.Get("db1", "k1"); v != nil {
		t.Fatalf("expected nil after delete, got %v", v)
	}
}

func TestListKeysAndDatabases(t *testing.T) {
	s := openTestStore(t)

	_ = s.Put("alpha", "a1", []byte("1"))
	_ = s.Put("alpha", "a2", []byte("2"))
	_ = s.Put("beta", "b1", []byte("3"))

	keys, err := s.ListKeys("alpha")
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}

	dbs, err := s.ListDatabases()
	if err != nil {
		t.Fatalf("list databases: %v", err)
	}
	seen := map[string]bool{}
	for _, d := range dbs {
		seen[d] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Fatalf("expected alpha and beta, got %v", dbs)
	}
	if seen[OplogBucket] {
		t.Fatal("oplog bucket must not be listed as a database")
	}
}

func TestKeyCountAndSizeBytes(t *testing.T) {
	s := openTestStore(t)

	_ = s.Put("db1", "k1", []byte("value1"))
	_ = s.Put("db1", "k2", []byte("value2"))

	n, err := s.KeyCount()
	if err != nil {
		t.Fatalf("key count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys, got %d", n)
	}

	size, err := s.SizeBytes()
	if err != nil {
		t.Fatalf("size bytes: %v", err)
	}
	want := uint64(len("k1") + len("value1") + len("k2") + len("value2"))
	if size != want {
		t.Fatalf("expected %d bytes, got %d", want, size)
	}
}

func TestOperationLog(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.HasOperation("op1")
	if err != nil {
		t.Fatalf("has operation: %v", err)
	}
	if ok {
		t.Fatal("expected op1 to be absent initially")
	}

	if err := s.PutOperation("op1", []byte("payload1")); err != nil {
		t.Fatalf("put operation: %v", err)
	}
	if err := s.PutOperation("op2", []byte("payload2")); err != nil {
		t.Fatalf("put operation: %v", err)
	}

	ok, err = s.HasOperation("op1")
	if err != nil || !ok {
		t.Fatalf("expected op1 present, got %v %v", ok, err)
	}

	data, err := s.GetOperation("op1")
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if string(data) != "payload1" {
		t.Fatalf("got %q want payload1", data)
	}

	all, err := s.GetAllOperations()
	if err != nil {
		t.Fatalf("get all operations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(all))
	}

	count, err := s.OperationCount()
	if err != nil {
		t.Fatalf("operation count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	dbs, _ := s.ListDatabases()
	for _, d := range dbs {
		if d == OplogBucket {
			t.Fatal("oplog bucket leaked into ListDatabases")
		}
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Flush(); err != nil {
		t.Fatalf("flush on empty store: %v", err)
	}
	_ = s.Put("db1", "k", []byte("v"))
	if err := s.Flush(); err != nil {
		t.Fatalf("flush after put: %v", err)
	}
}
