package syncstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cyberfly-mesh/meshpeer/internal/storage"
)

// entry is the value half of the LWW map: the winning timestamp alongside
// the operation that set it.
type entry struct {
	timestamp int64
	op        *SignedOperation
}

// Store is the in-memory LWW register map plus the applied-op guard and a
// handle to the backing KV store that apply_to_storage writes into.
type Store struct {
	mu      sync.RWMutex
	lww     map[string]entry
	applied map[string]struct{}
	db      *storage.Store
}

// New creates a Store backed by db.
func New(db *storage.Store) *Store {
	return &Store{
		lww:     make(map[string]entry),
		applied: make(map[string]struct{}),
		db:      db,
	}
}

// AddOperation verifies op's signature and, if the result wins the LWW
// comparison against the current entry for its CRDT key, replaces it. It
// returns whether op was accepted.
func (s *Store) AddOperation(op *SignedOperation) bool {
	ok, err := op.Verify()
	if err != nil {
		logrus.Debugf("syncstore: rejecting operation %s: %v", op.OpID, err)
		return false
	}
	if !ok {
		logrus.Debugf("syncstore: rejecting operation %s: signature did not verify", op.OpID)
		return false
	}
	return s.AddOperationUnverified(op)
}

// AddOperationUnverified applies the LWW comparison without checking the
// signature, persisting the operation to the oplog tree when it wins. Used
// for locally-created operations and by AddOperation once it has verified
// the signature; SyncResponse merges go through AddOperation (via
// MergeOperations), so each merged operation is verified.
func (s *Store) AddOperationUnverified(op *SignedOperation) bool {
	if !s.applyLWW(op) {
		return false
	}
	s.persistOperation(op)
	return true
}

// applyLWW performs the CRDT comparison and, on a win, installs op as the
// new entry for its key. It does not touch the oplog.
func (s *Store) applyLWW(op *SignedOperation) bool {
	key := op.CRDTKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.lww[key]
	if exists {
		wins := op.Timestamp > cur.timestamp ||
			(op.Timestamp == cur.timestamp && op.OpID > cur.op.OpID)
		if !wins {
			return false
		}
	}
	s.lww[key] = entry{timestamp: op.Timestamp, op: op}
	return true
}

// persistOperation writes op's serialized bytes to the oplog tree keyed by
// op_id, so a restart can rebuild the LWW map without waiting on a sync
// round-trip (original_source/rust/src/node.rs:492 load_from_storage).
func (s *Store) persistOperation(op *SignedOperation) {
	data, err := json.Marshal(op)
	if err != nil {
		logrus.Warnf("syncstore: marshal operation %s for oplog: %v", op.OpID, err)
		return
	}
	if err := s.db.PutOperation(op.OpID, data); err != nil {
		logrus.Warnf("syncstore: persist operation %s to oplog: %v", op.OpID, err)
	}
}

// LoadFromStorage replays every operation recorded in the oplog tree back
// into the in-memory LWW map, without re-persisting entries that are
// already there. It returns the number of operations that won their CRDT
// key once loaded.
func (s *Store) LoadFromStorage() (int, error) {
	raw, err := s.db.GetAllOperations()
	if err != nil {
		return 0, fmt.Errorf("syncstore: load from storage: %w", err)
	}

	loaded := 0
	for opID, data := range raw {
		var op SignedOperation
		if err := json.Unmarshal(data, &op); err != nil {
			logrus.Warnf("syncstore: skipping unreadable oplog entry %s: %v", opID, err)
			continue
		}
		if s.applyLWW(&op) {
			loaded++
		}
	}
	return loaded, nil
}

// ApplyToStorage writes op's value to the backing store if it has not
// already been applied in this process lifetime.
func (s *Store) ApplyToStorage(op *SignedOperation) error {
	s.mu.Lock()
	if _, done := s.applied[op.OpID]; done {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var err error
	switch op.StoreType {
	case StoreHash:
		if op.Field == "" {
			return fmt.Errorf("syncstore: hash operation %s missing field", op.OpID)
		}
		err = s.db.Put(op.DBName, op.Key+":"+op.Field, []byte(op.Value))
	default:
		err = s.db.Put(op.DBName, op.Key, []byte(op.Value))
	}
	if err != nil {
		return fmt.Errorf("syncstore: apply %s: %w", op.OpID, err)
	}

	s.mu.Lock()
	s.applied[op.OpID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// ApplyAllToStorage applies every operation currently in the LWW map that
// hasn't been applied yet. A failure on one operation is logged and does
// not abort the sweep.
func (s *Store) ApplyAllToStorage() {
	s.mu.RLock()
	ops := make([]*SignedOperation, 0, len(s.lww))
	for _, e := range s.lww {
		ops = append(ops, e.op)
	}
	s.mu.RUnlock()

	for _, op := range ops {
		if err := s.ApplyToStorage(op); err != nil {
			logrus.Warnf("syncstore: apply_all_to_storage: %v", err)
		}
	}
}

// MergeOperations folds AddOperation over ops and returns the number
// accepted.
func (s *Store) MergeOperations(ops []*SignedOperation) int {
	accepted := 0
	for _, op := range ops {
		if s.AddOperation(op) {
			accepted++
		}
	}
	return accepted
}

// Get returns the current winning operation for a CRDT key, if any.
func (s *Store) Get(crdtKey string) (*SignedOperation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lww[crdtKey]
	if !ok {
		return nil, false
	}
	return e.op, true
}

// Operations returns a snapshot of every operation currently winning its
// CRDT key, ordered by (timestamp, op_id) ascending — the order the sync
// manager uses to build chunked responses.
func (s *Store) Operations() []*SignedOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SignedOperation, 0, len(s.lww))
	for _, e := range s.lww {
		out = append(out, e.op)
	}
	sortOperations(out)
	return out
}

// OperationsSince returns every operation with timestamp >= sinceMillis,
// sorted ascending by (timestamp, op_id).
func (s *Store) OperationsSince(sinceMillis int64) []*SignedOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SignedOperation, 0, len(s.lww))
	for _, e := range s.lww {
		if e.op.Timestamp >= sinceMillis {
			out = append(out, e.op)
		}
	}
	sortOperations(out)
	return out
}

func sortOperations(ops []*SignedOperation) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.OpID < b.OpID
	})
}
