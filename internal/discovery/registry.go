package discovery

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry is the sole source of truth for peer counts exposed to the
// host: connected and discovered peers share one map, so a mobile node
// never separates overlay membership from logical discovery.
type Registry struct {
	mu      sync.RWMutex
	localID string
	peers   map[string]*DiscoveredPeer
	dedup   map[string]int64 // announcement id -> last timestamp seen
}

// NewRegistry creates an empty registry for localID, which is never
// inserted as a peer.
func NewRegistry(localID string) *Registry {
	return &Registry{
		localID: localID,
		peers:   make(map[string]*DiscoveredPeer),
		dedup:   make(map[string]int64),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// ProcessAnnouncement verifies and applies a PeerAnnouncement. It returns
// true iff this call created a new registry entry.
func (r *Registry) ProcessAnnouncement(a *PeerAnnouncement) bool {
	if a.NodeID == r.localID {
		return false
	}

	r.mu.Lock()
	if last, ok := r.dedup[a.ID]; ok && last >= a.Timestamp {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	ok, err := a.Verify()
	if err != nil || !ok {
		logrus.Warnf("discovery: rejecting announcement from %s: invalid signature (%v)", a.NodeID, err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dedup[a.ID] = a.Timestamp

	existing, had := r.peers[a.NodeID]
	if !had {
		r.peers[a.NodeID] = &DiscoveredPeer{
			NodeID:       a.NodeID,
			PublicKey:    a.PublicKey,
			Address:      a.Address,
			Region:       a.Region,
			Version:      a.Version,
			Capabilities: a.Capabilities,
			LastSeen:     nowMillis(),
		}
		return true
	}

	existing.PublicKey = a.PublicKey
	if a.Address != "" {
		existing.Address = a.Address
	}
	if a.Region != "" {
		existing.Region = a.Region
	}
	if a.Version != "" {
		existing.Version = a.Version
	}
	existing.Capabilities = a.Capabilities
	existing.LastSeen = nowMillis()
	return false
}

// ProcessPeerList verifies l and returns the subset of entries worth
// connecting out to: those whose node_id is neither local nor already
// known.
func (r *Registry) ProcessPeerList(l *PeerListAnnouncement) ([]string, error) {
	ok, err := l.Verify()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var fresh []string
	for _, entry := range l.Peers {
		nodeID, _ := ParsePeerEntry(entry)
		if nodeID == r.localID {
			continue
		}
		if _, known := r.peers[nodeID]; known {
			continue
		}
		fresh = append(fresh, entry)
	}
	return fresh, nil
}

// RegisterConnectedPeer is the fast path driven by an overlay neighbor-up
// event: it inserts a minimally populated peer if absent, or refreshes
// last_seen otherwise.
func (r *Registry) RegisterConnectedPeer(nodeID string) {
	if nodeID == r.localID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[nodeID]; ok {
		p.LastSeen = nowMillis()
		return
	}
	r.peers[nodeID] = &DiscoveredPeer{NodeID: nodeID, LastSeen: nowMillis()}
}

// RegisterPeerFromList inserts-or-refreshes a peer learned from a peer-list
// entry, merging optional metadata without ever overwriting a known value
// with an absent one.
func (r *Registry) RegisterPeerFromList(nodeID, address, region string) {
	if nodeID == r.localID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		p = &DiscoveredPeer{NodeID: nodeID}
		r.peers[nodeID] = p
	}
	if address != "" {
		p.Address = address
	}
	if region != "" {
		p.Region = region
	}
	p.LastSeen = nowMillis()
}

// UnregisterPeer removes a peer on overlay neighbor-down.
func (r *Registry) UnregisterPeer(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nodeID)
}

// UpdateLatency stores a measured latency for a known peer. It is a no-op
// if the peer is absent.
func (r *Registry) UpdateLatency(nodeID string, ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return
	}
	p.LatencyMs = &ms
}

// CleanupExpired sweeps peers whose last_seen exceeds PeerExpiry seconds
// and trims dedup cache entries beyond the same horizon.
func (r *Registry) CleanupExpired() {
	cutoff := nowMillis() - int64(PeerExpiry)*1000

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.peers {
		if p.LastSeen < cutoff {
			delete(r.peers, id)
		}
	}
	for id, ts := range r.dedup {
		if ts < cutoff {
			delete(r.dedup, id)
		}
	}
}

// Peers returns a snapshot slice of every currently registered peer.
func (r *Registry) Peers() []*DiscoveredPeer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DiscoveredPeer, 0, len(r.peers))
	for _, p := range r.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Get returns a copy of a single registered peer, if known.
func (r *Registry) Get(nodeID string) (*DiscoveredPeer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Count returns the number of currently registered peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
