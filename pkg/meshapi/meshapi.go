// Package meshapi is the host-facing facade described in §4.8: a small
// synchronous/asynchronous call surface a mobile language binding can wrap
// directly, sitting in front of the supervised node loop in internal/node.
//
// The facade is built as an explicit Handle rather than a hidden
// package-global: New builds one, and every accessor is a method on it. A binding layer that
// needs a single process-wide instance owns that global itself (see
// Init/Current below); the core type underneath never assumes it.
package meshapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyberfly-mesh/meshpeer/internal/crypto"
	"github.com/cyberfly-mesh/meshpeer/internal/discovery"
	"github.com/cyberfly-mesh/meshpeer/internal/node"
)

// commandTimeout bounds how long an async command invoker waits for the
// dispatcher to reply before giving up; the dispatcher itself never blocks
// (SendCommand fails fast on a full queue), so this only guards against a
// wedged node.
const commandTimeout = 10 * time.Second

// errNodeNotRunning is the only error surfaced by read accessors, per §7.
var errNodeNotRunning = fmt.Errorf("meshapi: node not running")

// Handle owns at most one running Node plus the log ring buffer mirroring
// its log output. It is safe for concurrent use: reads take an RLock,
// start/stop take the write lock, matching §4.8's "writes to the holder
// happen only in start_node/stop_node" rule.
type Handle struct {
	mu   sync.RWMutex
	n    *node.Node
	logs *logRingHook

	queueMu sync.Mutex
	queued  []queuedWrite
}

// queuedWrite is a pending StoreDataQueued entry buffered while no node is
// running.
type queuedWrite struct {
	dbName, key, value string
}

// New constructs a Handle with its log ring buffer wired into the standard
// logrus logger (every internal/node component logs through it).
func New() *Handle {
	h := &Handle{logs: newLogRingHook()}
	logrus.AddHook(h.logs)
	return h
}

var (
	defaultMu sync.Mutex
	current   *Handle
)

// Init installs h as the process-wide default Handle used by the
// package-level functions below, returning it for convenience. Binding
// layers that want a single global facade call this once at process
// start; code that wants an isolated, testable facade should just use a
// Handle directly and ignore Init/Current entirely.
func Init(h *Handle) *Handle {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	current = h
	return h
}

// Current returns the Handle installed by Init, constructing and
// installing a fresh one on first use.
func Current() *Handle {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if current == nil {
		current = New()
	}
	return current
}

// StartNode builds and starts a Node under h. The facade holds at most one
// node (§4.8): if one is already installed, StartNode returns an error and
// leaves it in place.
func (h *Handle) StartNode(dataDir, walletSecretHex string, bootstrapPeers []string, region string) (*node.NodeInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n != nil {
		return nil, fmt.Errorf("meshapi: node already running")
	}

	n, err := node.New(node.Config{
		DataDir:         dataDir,
		ListenAddr:      "/ip4/0.0.0.0/tcp/0",
		BootstrapPeers:  bootstrapPeers,
		Region:          region,
		WalletSecretHex: walletSecretHex,
	})
	if err != nil {
		return nil, err
	}
	info, err := n.Start()
	if err != nil {
		return nil, err
	}
	h.n = n
	h.flushQueuedWrites(n)
	return info, nil
}

// flushQueuedWrites drains any StoreDataQueued entries buffered while no
// node was running, submitting each as a local write directly against n.
// It must not call back into Handle's own locked methods: StartNode (the
// only caller) already holds h.mu.
func (h *Handle) flushQueuedWrites(n *node.Node) {
	h.queueMu.Lock()
	pending := h.queued
	h.queued = nil
	h.queueMu.Unlock()

	for _, w := range pending {
		cmd := node.Command{Kind: node.CmdStoreData, Store: &node.StoreDataArgs{
			DBName: w.dbName, Key: w.key, Value: w.value, Local: true,
		}}
		if err := n.SendCommand(cmd); err != nil {
			logrus.Warnf("meshapi: flush queued write %s/%s: %v", w.dbName, w.key, err)
		}
	}
}

// StoreDataQueued mirrors the teacher's MobileNode.QueueTx/FlushTxs
// pattern: when no node is running, the write is buffered in memory and
// replayed as a local write the next time StartNode succeeds. When a node
// is already running, it is applied immediately via StoreDataLocal. This
// is a host-side convenience only; it never touches the replication
// protocol in §4.5, and a process restart loses anything still queued.
func (h *Handle) StoreDataQueued(ctx context.Context, dbName, key, value string) error {
	if h.IsNodeRunning() {
		return h.StoreDataLocal(ctx, dbName, key, value)
	}
	h.queueMu.Lock()
	h.queued = append(h.queued, queuedWrite{dbName: dbName, key: key, value: value})
	h.queueMu.Unlock()
	return nil
}

// StopNode stops the running node, if any, and clears the holder.
func (h *Handle) StopNode() error {
	h.mu.Lock()
	n := h.n
	h.n = nil
	h.mu.Unlock()

	if n == nil {
		return nil
	}
	return n.Stop()
}

// IsNodeRunning reports whether a node is currently installed in the
// holder and in the Running or Isolated state.
func (h *Handle) IsNodeRunning() bool {
	h.mu.RLock()
	n := h.n
	h.mu.RUnlock()
	if n == nil {
		return false
	}
	switch n.State() {
	case node.StateRunning, node.StateIsolated:
		return true
	default:
		return false
	}
}

func (h *Handle) activeNode() (*node.Node, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == nil {
		return nil, errNodeNotRunning
	}
	return h.n, nil
}

// GetNodeStatus returns the running node's status snapshot.
func (h *Handle) GetNodeStatus() (node.Status, error) {
	n, err := h.activeNode()
	if err != nil {
		return node.Status{}, err
	}
	return n.Status(), nil
}

// GetNodeInfo returns the running node's identity snapshot.
func (h *Handle) GetNodeInfo() (node.NodeInfo, error) {
	n, err := h.activeNode()
	if err != nil {
		return node.NodeInfo{}, err
	}
	return n.Info(), nil
}

// GetPeers returns the current peer-registry snapshot.
func (h *Handle) GetPeers() ([]*discovery.DiscoveredPeer, error) {
	n, err := h.activeNode()
	if err != nil {
		return nil, err
	}
	return n.Peers(), nil
}

// ListDatabases, ListKeys, GetAllEntries, GetAllData, and DeleteData read
// or write storage directly, bypassing the command channel; they do not
// need the node to be in the Running state, only installed, since storage
// stays open across Isolated/Connecting.
func (h *Handle) ListDatabases() ([]string, error) {
	n, err := h.activeNode()
	if err != nil {
		return nil, err
	}
	return n.Storage().ListDatabases()
}

func (h *Handle) ListKeys(dbName string) ([]string, error) {
	n, err := h.activeNode()
	if err != nil {
		return nil, err
	}
	return n.Storage().ListKeys(dbName)
}

// GetAllEntries returns every key/value pair in dbName.
func (h *Handle) GetAllEntries(dbName string) (map[string][]byte, error) {
	n, err := h.activeNode()
	if err != nil {
		return nil, err
	}
	keys, err := n.Storage().ListKeys(dbName)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := n.Storage().Get(dbName, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// GetAllData is an alias for GetAllEntries: the reference host surface
// names both get_all_entries and get_all_data for the same per-database
// dump, kept as two entry points here for binding-layer naming parity.
func (h *Handle) GetAllData(dbName string) (map[string][]byte, error) {
	return h.GetAllEntries(dbName)
}

// DeleteData removes a single key from a database tree.
func (h *Handle) DeleteData(dbName, key string) error {
	n, err := h.activeNode()
	if err != nil {
		return err
	}
	return n.Storage().Delete(dbName, key)
}

// GetLogs returns up to limit of the most recent log entries (all of them
// if limit <= 0).
func (h *Handle) GetLogs(limit int) []LogEntry {
	return h.logs.snapshot(limit)
}

// ClearLogs empties the log ring buffer.
func (h *Handle) ClearLogs() {
	h.logs.clear()
}

// Crypto helpers (§6) -- thin pass-throughs to internal/crypto so a host
// binding never needs to depend on that package directly.

func SignMessageWithKey(secretSeedHex, message string) (string, error) {
	seed, err := crypto.SecureHexDecode(secretSeedHex)
	if err != nil {
		return "", err
	}
	priv, err := crypto.GenerateKeyFromSeed(seed)
	if err != nil {
		return "", err
	}
	return crypto.Sign(priv, []byte(message)), nil
}

func VerifyMessageSignature(publicKeyHex, message, signatureHex string) (bool, error) {
	return crypto.Verify(publicKeyHex, []byte(message), signatureHex)
}

func GenerateKeypair() (secretSeedHex, publicKeyHex string, err error) {
	seed, _, pub, err := crypto.GenerateKeypair()
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%x", seed), pub, nil
}

func GenerateDBName(name, publicKeyHex string) string {
	return crypto.GenerateDBName(name, publicKeyHex)
}

func VerifyDBName(dbName, publicKeyHex string) error {
	return crypto.VerifyDBNameSecure(dbName, publicKeyHex)
}

func ExtractNameFromDB(dbName string) string {
	return crypto.ExtractNameFromDB(dbName)
}

func ValidateTimestamp(tsMillis int64, toleranceSeconds int64) error {
	return crypto.ValidateTimestamp(tsMillis, time.Duration(toleranceSeconds)*time.Second)
}

// GeneratePeerIDFromSecretKey derives the hex-encoded public key (the
// identifier peers see on the wire) from a secret-key seed, without
// starting a node.
func GeneratePeerIDFromSecretKey(secretSeedHex string) (string, error) {
	seed, err := crypto.SecureHexDecode(secretSeedHex)
	if err != nil {
		return "", err
	}
	priv, err := crypto.GenerateKeyFromSeed(seed)
	if err != nil {
		return "", err
	}
	return crypto.PublicKeyHex(priv), nil
}
