package node

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	multiaddr "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	gocrypto "github.com/cyberfly-mesh/meshpeer/internal/crypto"
	"github.com/cyberfly-mesh/meshpeer/internal/discovery"
	"github.com/cyberfly-mesh/meshpeer/internal/resilience"
	"github.com/cyberfly-mesh/meshpeer/internal/storage"
	"github.com/cyberfly-mesh/meshpeer/internal/syncmanager"
	"github.com/cyberfly-mesh/meshpeer/internal/syncstore"
	"github.com/cyberfly-mesh/meshpeer/pkg/utils"
)

// Config describes how a Node should start.
type Config struct {
	DataDir        string
	ListenAddr     string
	DiscoveryTag   string
	BootstrapPeers []string
	RelayURL       string
	Region         string
	// WalletSecretHex, if set, seeds the node's identity instead of loading
	// or generating <data_dir>/secret_key.
	WalletSecretHex string
}

// Node is the supervised peer: it owns the libp2p endpoint, the local
// storage and sync state, and the background tasks that keep them
// converged with the rest of the overlay.
type Node struct {
	cfg Config

	priv      ed25519.PrivateKey
	pubKeyHex string
	nodeID    string

	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	storage       *storage.Store
	registry      *discovery.Registry
	syncStore     *syncstore.Store
	syncMgr       *syncmanager.Manager
	backoff       *resilience.Backoff
	reconnectLoop *resilience.ReconnectLoop

	mu    sync.RWMutex
	state State

	startedAt time.Time

	messagesReceived int64 // atomic

	// pendingLatency maps an outstanding LatencyRequest's request_id to the
	// millisecond timestamp it was sent at, guarded by mu.
	pendingLatency map[string]int64

	commands chan Command
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Node from cfg, loading or generating its identity and
// opening storage, but does not yet touch the network. Call Start to begin
// connecting.
func New(cfg Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	priv, err := loadOrCreateIdentity(cfg.DataDir, cfg.WalletSecretHex)
	if err != nil {
		return nil, fmt.Errorf("node: identity: %w", err)
	}
	pubKeyHex := gocrypto.PublicKeyHex(priv)

	store, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "sled_db")})
	if err != nil {
		return nil, fmt.Errorf("node: open storage: %w", err)
	}
	dbs, _ := store.ListDatabases()
	logrus.Infof("node: storage opened with %d trees", len(dbs))

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:       cfg,
		priv:      priv,
		pubKeyHex: pubKeyHex,
		storage:   store,
		backoff:   resilience.NewWithConfig(resilienceConfigFromEnv()),
		topics:    make(map[string]*pubsub.Topic),
		subs:      make(map[string]*pubsub.Subscription),
		commands:  make(chan Command, CommandQueueCapacity),
		events:    make(chan Event, 256),
		state:     StateInitializing,
		ctx:       ctx,
		cancel:    cancel,
	}
	n.syncStore = syncstore.New(store)
	if loaded, err := n.syncStore.LoadFromStorage(); err != nil {
		logrus.Warnf("node: replaying oplog: %v", err)
	} else if loaded > 0 {
		logrus.Infof("node: replayed %d operations from oplog", loaded)
	}
	n.syncStore.ApplyAllToStorage()
	return n, nil
}

// resilienceConfigFromEnv builds the §4.6 backoff tuning from the Mobile
// reconnect-tuning environment variables (SPEC_FULL's Mobile config
// section), falling back to resilience's own package defaults when unset.
func resilienceConfigFromEnv() resilience.Config {
	maxAttempts := utils.EnvOrDefaultInt("MESH_RECONNECT_MAX_ATTEMPTS_PER_CYCLE", resilience.MaxAttemptsPerCycle)
	cycleSeconds := utils.EnvOrDefaultInt("MESH_RECONNECT_CYCLE_SECONDS", int(resilience.CycleDuration/time.Second))
	maxBackoffSeconds := utils.EnvOrDefaultUint64("MESH_RECONNECT_MAX_BACKOFF_SECONDS", uint64(resilience.MaxBackoff/time.Second))
	return resilience.Config{
		MaxAttemptsPerCycle: maxAttempts,
		CycleDuration:       time.Duration(cycleSeconds) * time.Second,
		MaxBackoff:          time.Duration(maxBackoffSeconds) * time.Second,
	}
}

func loadOrCreateIdentity(dataDir, walletSecretHex string) (ed25519.PrivateKey, error) {
	if walletSecretHex != "" {
		seed, err := gocrypto.SecureHexDecode(walletSecretHex)
		if err != nil {
			return nil, err
		}
		return gocrypto.GenerateKeyFromSeed(seed)
	}

	path := filepath.Join(dataDir, "secret_key")
	seed, err := os.ReadFile(path)
	if err == nil {
		return gocrypto.GenerateKeyFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	seed = make([]byte, gocrypto.SecretKeySize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, err
	}
	return gocrypto.GenerateKeyFromSeed(seed)
}

func (n *Node) setState(next State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.canTransitionTo(next) {
		logrus.Warnf("node: ignoring illegal state transition %s -> %s", n.state, next)
		return
	}
	logrus.Infof("node: state %s -> %s", n.state, next)
	n.state = next
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Events returns the channel the host should drain for lifecycle events.
func (n *Node) Events() <-chan Event { return n.events }

func (n *Node) emit(kind EventKind, detail string) {
	select {
	case n.events <- Event{Kind: kind, Detail: detail}:
	default:
		logrus.Warnf("node: event channel full, dropping %s", kind)
	}
}

// Start builds the libp2p endpoint, connects to bootstrap peers, subscribes
// to every gossip topic, and launches the background tasks described in
// §4.7. It returns once the endpoint is online and bootstrap connects have
// been attempted (not necessarily succeeded).
func (n *Node) Start() (*NodeInfo, error) {
	n.setState(StateConnecting)

	h, err := libp2p.New(libp2p.ListenAddrStrings(n.cfg.ListenAddr))
	if err != nil {
		return nil, fmt.Errorf("node: create host: %w", err)
	}
	n.host = h
	n.nodeID = h.ID().String()

	ps, err := pubsub.NewGossipSub(n.ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("node: create pubsub: %w", err)
	}
	n.pubsub = ps

	if kdht, err := dht.New(n.ctx, h); err != nil {
		logrus.Warnf("node: DHT unavailable: %v", err)
	} else {
		n.dht = kdht
		if err := kdht.Bootstrap(n.ctx); err != nil {
			logrus.Warnf("node: DHT bootstrap: %v", err)
		}
	}

	tag := n.cfg.DiscoveryTag
	if tag == "" {
		tag = "meshpeer"
	}
	mdns.NewMdnsService(h, tag, &mdnsNotifee{node: n})

	n.registry = discovery.NewRegistry(n.nodeID)
	n.syncMgr = syncmanager.New(n.nodeID, n.syncStore, n.broadcastSync)

	n.connectBootstrapPeers()

	if err := n.subscribeAll(); err != nil {
		return nil, fmt.Errorf("node: subscribe topics: %w", err)
	}

	// §4.6: a background loop re-attempts the bootstrap peers every
	// CycleDuration, gated by the same Backoff table connectWithRetry and
	// recoverFromIsolation consult.
	bootstrapAddrs := ResolveBootstrapPeers(n.cfg.BootstrapPeers)
	n.reconnectLoop = resilience.NewReconnectLoop(n.backoff, bootstrapAddrs, n.reconnectOnce)
	n.reconnectLoop.Start()

	n.wg.Add(3)
	go n.runAnnouncer()
	go n.runIsolationMonitor()
	go n.runCommandDispatcher()

	n.wg.Add(1)
	go n.runInitialSync()

	n.startedAt = time.Now()
	n.setState(StateRunning)
	n.emit(EventStarted, n.nodeID)

	info := n.Info()
	return &info, nil
}

// mdnsNotifee adapts the node to mdns.Notifee, mirroring the teacher's
// HandlePeerFound connect-and-register idiom.
type mdnsNotifee struct{ node *Node }

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	n := m.node
	if info.ID == n.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		logrus.Debugf("node: mDNS connect to %s failed: %v", info.ID, err)
		return
	}
	n.registerPeerConnected(info.ID.String())
}

func (n *Node) registerPeerConnected(peerID string) {
	n.registry.RegisterConnectedPeer(peerID)
	n.emit(EventPeerConnected, peerID)
}

func (n *Node) registerPeerDisconnected(peerID string) {
	n.registry.UnregisterPeer(peerID)
	n.emit(EventPeerDisconnected, peerID)
}

func (n *Node) connectBootstrapPeers() {
	peers := ResolveBootstrapPeers(n.cfg.BootstrapPeers)
	for _, addr := range peers {
		nodeIDHex, _ := discovery.ParsePeerEntry(addr)
		if nodeIDHex == "" {
			continue
		}
		n.registry.RegisterConnectedPeer(nodeIDHex)
		n.connectWithRetry(addr)
	}
}

// connectWithRetry tries a direct connect, falling back to relay-assisted
// connect, retrying up to 5 times with exponential backoff 1s -> 30s. Each
// attempt also consults n.backoff, keyed by the bootstrap address string
// (the same key ReconnectLoop and recoverFromIsolation use): the shared
// per-cycle connection budget and per-peer cooldown from §4.6 govern every
// outbound connect, not just the isolation-monitor and background
// reconnect paths.
func (n *Node) connectWithRetry(addr string) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		logrus.Debugf("node: bootstrap addr %q unparseable as multiaddr, tracked by id only: %v", addr, err)
		return
	}

	delay := 1 * time.Second
	for attempt := 0; attempt < 5; attempt++ {
		if !n.backoff.Allow(addr) {
			if !n.sleepOrDone(delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		if !n.sleepOrDone(resilience.Jitter()) {
			return
		}

		if n.dialOnce(pi) {
			n.backoff.Success(addr)
			n.registerPeerConnected(pi.ID.String())
			return
		}
		n.backoff.Failure(addr)

		if !n.sleepOrDone(delay) {
			return
		}
		delay = nextDelay(delay)
	}
	logrus.Warnf("node: exhausted retries connecting to bootstrap peer %s", addr)
}

// sleepOrDone sleeps for d, returning false early if the node's context is
// cancelled first.
func (n *Node) sleepOrDone(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-n.ctx.Done():
		return false
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// dialOnce attempts a single direct connect to pi, falling back to a
// relay-assisted connect when configured. It reports whether either
// succeeded; it does not retry or sleep.
func (n *Node) dialOnce(pi *peer.AddrInfo) bool {
	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	err := n.host.Connect(ctx, *pi)
	cancel()
	if err == nil {
		return true
	}

	if n.cfg.RelayURL == "" {
		return false
	}
	rctx, rcancel := context.WithTimeout(n.ctx, 15*time.Second)
	rerr := n.connectViaRelay(rctx, pi.ID)
	rcancel()
	if rerr != nil {
		logrus.Debugf("node: relay-assisted connect to %s failed: %v", pi.ID, rerr)
		return false
	}
	return true
}

// reconnectOnce is the resilience.ConnectFunc run by n.reconnectLoop: a
// single dial attempt, with the Allow/Jitter/Success/Failure bookkeeping
// already applied by ReconnectLoop.attemptAll around the call.
func (n *Node) reconnectOnce(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("node: reconnect addr %q unparseable: %w", addr, err)
	}
	if !n.dialOnce(pi) {
		return fmt.Errorf("node: reconnect to %s failed", addr)
	}
	n.registerPeerConnected(pi.ID.String())
	return nil
}

// connectViaRelay dials n.cfg.RelayURL, then connects to target through a
// circuit-relay address built from it: "<relay multiaddr>/p2p-circuit/p2p/<target>".
// This requires go-libp2p's circuit relay transport, enabled by default.
func (n *Node) connectViaRelay(ctx context.Context, target peer.ID) error {
	relayInfo, err := peer.AddrInfoFromString(n.cfg.RelayURL)
	if err != nil {
		return fmt.Errorf("node: parse relay url: %w", err)
	}
	if err := n.host.Connect(ctx, *relayInfo); err != nil {
		return fmt.Errorf("node: connect to relay: %w", err)
	}

	circuitAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("%s/p2p-circuit/p2p/%s", n.cfg.RelayURL, target.String()))
	if err != nil {
		return fmt.Errorf("node: build relay circuit address: %w", err)
	}
	relayed := peer.AddrInfo{ID: target, Addrs: []multiaddr.Multiaddr{circuitAddr}}
	return n.host.Connect(ctx, relayed)
}

// Stop flushes storage, emits Stopped, tears down the gossip router, and
// terminates every background task.
func (n *Node) Stop() error {
	n.setState(StateStopping)

	if n.reconnectLoop != nil {
		n.reconnectLoop.Stop()
	}

	n.cancel()
	n.wg.Wait()

	if err := n.storage.Flush(); err != nil {
		logrus.Warnf("node: flush on stop: %v", err)
	}
	if n.host != nil {
		_ = n.host.Close()
	}
	_ = n.storage.Close()

	n.setState(StateStopped)
	n.emit(EventStopped, n.nodeID)
	return nil
}

// Status returns the current snapshot used by get_node_status. Connected
// and discovered peers are both derived from the registry: a mobile node
// does not separate overlay membership from logical discovery (§4.3).
func (n *Node) Status() Status {
	count := n.registry.Count()
	return Status{
		State:            n.State().String(),
		ConnectedPeers:   count,
		DiscoveredPeers:  count,
		MessagesReceived: atomic.LoadInt64(&n.messagesReceived),
	}
}

// Peers returns the current registry snapshot.
func (n *Node) Peers() []*discovery.DiscoveredPeer {
	return n.registry.Peers()
}

// Storage exposes the node's storage handle so that the synchronous
// storage accessors (list_databases, list_keys, get_all_entries, ...) can
// bypass the command channel, matching §4.8's "read accessors are
// synchronous" rule; get_data still goes through the command channel.
func (n *Node) Storage() *storage.Store {
	return n.storage
}

// Info returns the identity, capability, and usage snapshot used by
// start_node/get_node_info.
func (n *Node) Info() NodeInfo {
	var uptime int64
	if !n.startedAt.IsZero() {
		uptime = int64(time.Since(n.startedAt).Seconds())
	}
	dbs, err := n.storage.ListDatabases()
	if err != nil {
		logrus.Warnf("node: list databases for node info: %v", err)
	}
	keyCount, err := n.storage.KeyCount()
	if err != nil {
		logrus.Warnf("node: key count for node info: %v", err)
	}
	return NodeInfo{
		NodeID:         n.nodeID,
		PublicKey:      n.pubKeyHex,
		DataDir:        n.cfg.DataDir,
		Region:         n.cfg.Region,
		Capabilities:   MobileCapabilities(),
		UptimeSeconds:  uptime,
		ConnectedPeers: n.registry.Count(),
		DatabaseCount:  len(dbs),
		KeyCount:       keyCount,
	}
}

// broadcastSync encodes and publishes a syncmanager.Message on the sync
// topic.
func (n *Node) broadcastSync(msg *syncmanager.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.publish(TopicSync, data)
}

func (n *Node) publish(topicName string, data []byte) error {
	n.mu.RLock()
	t, ok := n.topics[topicName]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("node: topic %s not joined", topicName)
	}
	return t.Publish(n.ctx, data)
}
