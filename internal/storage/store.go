// Package storage wraps an embedded BoltDB (bbolt) database as an ordered
// byte->byte store split into named trees: one bucket per logical
// database, plus a reserved __oplog__ bucket for serialized signed
// operations. It intentionally hides bbolt's own root bucket bookkeeping
// from callers — list_databases/list_keys never see internal buckets.
package storage

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OplogBucket is the reserved tree holding serialized SignedOperation
// bytes keyed by op_id. It is never returned by ListDatabases.
const OplogBucket = "__oplog__"

// Store is a thread-safe embedded ordered KV store with named trees.
// bbolt already serializes writers internally and allows concurrent
// readers, so Store adds no locking of its own.
type Store struct {
	db *bolt.DB
}

// Config controls how the underlying bbolt file is opened. These mirror
// the reference node's sled configuration (cache size, auto-flush
// interval) translated to bbolt's equivalent knobs.
type Config struct {
	Path           string
	CacheSize      int           // bbolt page cache is OS-managed; kept for parity/logging only
	AutoFlush      time.Duration // informational: writes are flushed synchronously regardless, see Put
	NoSync         bool          // for tests only; production nodes must leave this false
}

// Open creates or opens the bbolt database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(OplogBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init oplog bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Flush forces a durable sync of the database file via bbolt's Sync. Writes
// made through Put are already fsynced at commit time (bbolt's default,
// unless NoSync is set), so the extra sync mostly matters for NoSync stores.
func (s *Store) Flush() error {
	return s.db.Sync()
}

// Get reads a value from the named tree. A missing key or missing tree
// both return (nil, nil).
func (s *Store) Get(dbName, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbName))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s/%s: %w", dbName, key, err)
	}
	return out, nil
}

// Put writes a value into the named tree, creating the tree if absent, and
// flushes immediately: every write-path caller accepts an operation and
// then flushes in the same step, so the store does it here rather than
// relying on the periodic background sync.
func (s *Store) Put(dbName, key string, value []byte) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(dbName))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	}); err != nil {
		return fmt.Errorf("storage: put %s/%s: %w", dbName, key, err)
	}
	return s.Flush()
}

// Delete removes a key from the named tree. Deleting a missing key or from
// a missing tree is a no-op.
func (s *Store) Delete(dbName, key string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbName))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", dbName, key, err)
	}
	return s.Flush()
}

// ListKeys returns every key in the named tree in lexicographic order. A
// missing tree returns an empty (non-nil) slice.
func (s *Store) ListKeys(dbName string) ([]string, error) {
	keys := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list keys %s: %w", dbName, err)
	}
	return keys, nil
}

// ListDatabases returns every user-created tree name, excluding the
// reserved oplog tree and bbolt's own root bucket bookkeeping (there is no
// separate "default" bucket in bbolt, but the oplog tree is hidden the
// same way sled hides its default tree).
func (s *Store) ListDatabases() ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			n := string(name)
			if n == OplogBucket {
				return nil
			}
			names = append(names, n)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list databases: %w", err)
	}
	return names, nil
}

// KeyCount returns the total number of keys across every user tree
// (excluding the oplog tree).
func (s *Store) KeyCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if string(name) == OplogBucket {
				return nil
			}
			count += b.Stats().KeyN
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("storage: key count: %w", err)
	}
	return count, nil
}

// SizeBytes returns the logical sum of key+value byte lengths across every
// user tree. This is the stable, substrate-independent definition the
// reference node settled on (see DESIGN.md), not bbolt's on-disk page
// accounting.
func (s *Store) SizeBytes() (uint64, error) {
	var total uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if string(name) == OplogBucket {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				total += uint64(len(k) + len(v))
				return nil
			})
		})
	})
	if err != nil {
		return 0, fmt.Errorf("storage: size bytes: %w", err)
	}
	return total, nil
}

// PutOperation stores the serialized bytes of a signed operation under its
// op_id in the reserved oplog tree.
func (s *Store) PutOperation(opID string, data []byte) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(OplogBucket))
		return b.Put([]byte(opID), data)
	}); err != nil {
		return fmt.Errorf("storage: put operation %s: %w", opID, err)
	}
	return s.Flush()
}

// GetOperation reads the serialized bytes of a signed operation by op_id.
func (s *Store) GetOperation(opID string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(OplogBucket))
		if v := b.Get([]byte(opID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get operation %s: %w", opID, err)
	}
	return out, nil
}

// HasOperation reports whether op_id is present in the oplog tree.
func (s *Store) HasOperation(opID string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(OplogBucket))
		ok = b.Get([]byte(opID)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("storage: has operation %s: %w", opID, err)
	}
	return ok, nil
}

// GetAllOperations returns every serialized operation in the oplog tree,
// keyed by op_id.
func (s *Store) GetAllOperations() (map[string][]byte, error) {
	out := map[string][]byte{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(OplogBucket))
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get all operations: %w", err)
	}
	return out, nil
}

// OperationCount returns the number of entries in the oplog tree.
func (s *Store) OperationCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(OplogBucket))
		n = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: operation count: %w", err)
	}
	return n, nil
}
