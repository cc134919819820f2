package node

import (
	"crypto/ed25519"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	gocrypto "github.com/cyberfly-mesh/meshpeer/internal/crypto"
	"github.com/cyberfly-mesh/meshpeer/internal/discovery"
	"github.com/cyberfly-mesh/meshpeer/internal/resilience"
	"github.com/cyberfly-mesh/meshpeer/internal/syncmanager"
)

const previewLen = 120

func newRequestID() string { return uuid.NewString() }

func truncate(b []byte) string {
	if len(b) <= previewLen {
		return string(b)
	}
	return string(b[:previewLen]) + "..."
}

func (n *Node) subscribeAll() error {
	for _, name := range AllTopics {
		t, err := n.pubsub.Join(name)
		if err != nil {
			return err
		}
		sub, err := t.Subscribe()
		if err != nil {
			return err
		}
		evts, err := t.EventHandler()
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.topics[name] = t
		n.subs[name] = sub
		n.mu.Unlock()

		n.wg.Add(2)
		go n.runListener(name, sub)
		go n.runTopicEvents(name, evts)
	}
	return nil
}

// runTopicEvents drains one topic's neighbor-up/neighbor-down events: a
// PeerJoin is the overlay creating a peer (§3's "created on overlay
// neighbor-up"), a PeerLeave destroys it. Several topics share the same
// underlying mesh peers, so registerPeerConnected/Disconnected are called
// once per topic per transition; both are idempotent against repeats.
func (n *Node) runTopicEvents(topicName string, evts *pubsub.TopicEventHandler) {
	defer n.wg.Done()
	defer evts.Cancel()
	for {
		pe, err := evts.NextPeerEvent(n.ctx)
		if err != nil {
			return
		}
		switch pe.Type {
		case pubsub.PeerJoin:
			n.registerPeerConnected(pe.Peer.String())
		case pubsub.PeerLeave:
			n.registerPeerDisconnected(pe.Peer.String())
		}
	}
}

// runListener owns one topic's subscription, dispatching every received
// message by topic name until the node's context is cancelled.
func (n *Node) runListener(topicName string, sub *pubsub.Subscription) {
	defer n.wg.Done()
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			logrus.Warnf("node: listener %s: %v", topicName, err)
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		atomic.AddInt64(&n.messagesReceived, 1)
		n.emit(EventGossipReceived, topicName)
		n.dispatchMessage(topicName, msg.Data)
	}
}

func (n *Node) dispatchMessage(topicName string, data []byte) {
	switch topicName {
	case TopicDiscovery:
		n.handleDiscoveryMessage(data)
	case TopicPeerList:
		n.handlePeerListMessage(data)
	case TopicImprovedDiscoveryV2:
		n.handleDiscoveryV2Message(data)
	case TopicSync:
		n.handleSyncMessage(data)
	case TopicData:
		n.handleDataMessage(data)
	default:
		logrus.Debugf("node: no handler for topic %s", topicName)
	}
}

func (n *Node) handleDiscoveryMessage(data []byte) {
	var a discovery.PeerAnnouncement
	if err := json.Unmarshal(data, &a); err != nil {
		logrus.Debugf("node: unparseable discovery message: %s", truncate(data))
		return
	}
	if n.registry.ProcessAnnouncement(&a) {
		n.emit(EventPeerDiscovered, a.NodeID)
	}
}

func (n *Node) handlePeerListMessage(data []byte) {
	var l discovery.PeerListAnnouncement
	if err := json.Unmarshal(data, &l); err == nil && l.FromNodeID != "" {
		n.connectOutToFreshPeers(&l)
		return
	}

	var legacy discovery.PeerDiscoveryAnnouncement
	if err := json.Unmarshal(data, &legacy); err != nil {
		logrus.Debugf("node: unparseable peer-list message: %s", truncate(data))
		return
	}
	if legacy.NodeID != "" && legacy.NodeID != n.nodeID {
		n.registry.RegisterPeerFromList(legacy.NodeID, "", legacy.Region)
	}
}

func (n *Node) connectOutToFreshPeers(l *discovery.PeerListAnnouncement) {
	fresh, err := n.registry.ProcessPeerList(l)
	if err != nil {
		logrus.Debugf("node: rejecting peer list from %s: %v", l.FromNodeID, err)
		return
	}
	for _, entry := range fresh {
		nodeID, addr := discovery.ParsePeerEntry(entry)
		n.registry.RegisterPeerFromList(nodeID, addr, "")
	}
}

func (n *Node) handleDiscoveryV2Message(data []byte) {
	envelope, err := discovery.DecodeSignedDiscoveryMessage(data)
	if err != nil {
		logrus.Debugf("node: unparseable v2 discovery message: %s", truncate(data))
		return
	}
	if len(envelope.From) != ed25519.PublicKeySize || !ed25519.Verify(envelope.From, envelope.Data, envelope.Signature) {
		logrus.Debugf("node: v2 discovery envelope failed signature verification")
		return
	}
	dn, err := discovery.DecodeDiscoveryNode(envelope.Data)
	if err != nil {
		logrus.Debugf("node: unparseable v2 discovery node payload: %s", truncate(envelope.Data))
		return
	}
	if dn.NodeID != "" && dn.NodeID != n.nodeID {
		n.registry.RegisterPeerFromList(dn.NodeID, "", dn.Region)
	}
}

func (n *Node) handleSyncMessage(data []byte) {
	var msg syncmanager.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.Debugf("node: unparseable sync message: %s", truncate(data))
		return
	}
	if msg.Kind == syncmanager.KindSyncResponse && msg.Response != nil {
		n.emit(EventSyncReceived, msg.Response.Requester)
	}
	n.syncMgr.HandleMessage(&msg)
}

func (n *Node) handleDataMessage(data []byte) {
	typ, err := discovery.MessageType(data)
	if err != nil {
		logrus.Debugf("node: unparseable data message: %s", truncate(data))
		return
	}
	switch typ {
	case discovery.MsgTypeLatencyRequest:
		var req discovery.LatencyRequest
		if err := json.Unmarshal(data, &req); err != nil {
			logrus.Debugf("node: unparseable latency request: %s", truncate(data))
			return
		}
		n.handleLatencyRequest(&req)
	case discovery.MsgTypeLatencyResponse:
		var resp discovery.LatencyResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			logrus.Debugf("node: unparseable latency response: %s", truncate(data))
			return
		}
		n.handleLatencyResponse(&resp)
	default:
		logrus.Debugf("node: unknown data message type %q", typ)
	}
}

func (n *Node) handleLatencyRequest(req *discovery.LatencyRequest) {
	ok, err := req.Verify()
	if err != nil || !ok {
		logrus.Debugf("node: rejecting latency request from %s: %v", req.FromNodeID, err)
		return
	}
	resp := &discovery.LatencyResponse{
		Type:        discovery.MsgTypeLatencyResponse,
		RequestID:   req.RequestID,
		FromNodeID:  n.nodeID,
		RespondedAt: time.Now().UnixMilli(),
		PublicKey:   n.pubKeyHex,
	}
	resp.Signature = n.sign([]byte(resp.SigningMessage()))
	out, err := json.Marshal(resp)
	if err != nil {
		logrus.Warnf("node: marshal latency response: %v", err)
		return
	}
	if err := n.publish(TopicData, out); err != nil {
		logrus.Warnf("node: publish latency response: %v", err)
	}
}

func (n *Node) handleLatencyResponse(resp *discovery.LatencyResponse) {
	ok, err := resp.Verify()
	if err != nil || !ok {
		logrus.Debugf("node: rejecting latency response from %s: %v", resp.FromNodeID, err)
		return
	}
	sentAt, ok2 := n.takePendingLatencyRequest(resp.RequestID)
	if !ok2 {
		return
	}
	latency := discovery.OneWayLatency(sentAt, resp.RespondedAt)
	n.registry.UpdateLatency(resp.FromNodeID, latency)
	n.emit(EventLatencyMeasured, resp.FromNodeID)
}

// SendLatencyRequest builds, signs, records, and broadcasts a
// LatencyRequest targeting peerID (the pairing is by request_id; the data
// topic is shared, so every peer observes the request but only peerID is
// expected to answer it).
func (n *Node) SendLatencyRequest(peerID string) error {
	req := &discovery.LatencyRequest{
		Type:       discovery.MsgTypeLatencyRequest,
		RequestID:  newRequestID(),
		FromNodeID: n.nodeID,
		SentAt:     time.Now().UnixMilli(),
		PublicKey:  n.pubKeyHex,
	}
	req.Signature = n.sign([]byte(req.SigningMessage()))
	n.putPendingLatencyRequest(req.RequestID, req.SentAt)

	out, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return n.publish(TopicData, out)
}

func (n *Node) putPendingLatencyRequest(requestID string, sentAt int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pendingLatency == nil {
		n.pendingLatency = make(map[string]int64)
	}
	n.pendingLatency[requestID] = sentAt
}

func (n *Node) takePendingLatencyRequest(requestID string) (int64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sentAt, ok := n.pendingLatency[requestID]
	if ok {
		delete(n.pendingLatency, requestID)
	}
	return sentAt, ok
}

// runInitialSync waits 5s after startup then issues the first SyncRequest,
// after which the chunked pull proceeds entirely driven by responses.
func (n *Node) runInitialSync() {
	defer n.wg.Done()
	select {
	case <-time.After(5 * time.Second):
	case <-n.ctx.Done():
		return
	}
	n.syncMgr.RequestSync(nil)
}

// runAnnouncer rebuilds and re-broadcasts identity every AnnounceInterval.
func (n *Node) runAnnouncer() {
	defer n.wg.Done()
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.announceOnce()
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) announceOnce() {
	a := buildAnnouncement(n.nodeID, n.pubKeyHex, "", n.cfg.Region, n.sign)
	out, err := json.Marshal(a)
	if err != nil {
		logrus.Warnf("node: marshal announcement: %v", err)
		return
	}
	if err := n.publish(TopicDiscovery, out); err != nil {
		logrus.Warnf("node: publish announcement: %v", err)
	}

	if n.registry.Count() > 0 {
		l := buildPeerList(n.nodeID, n.pubKeyHex, n.registry.Peers(), n.sign)
		lout, err := json.Marshal(l)
		if err != nil {
			logrus.Warnf("node: marshal peer list: %v", err)
		} else if err := n.publish(TopicPeerList, lout); err != nil {
			logrus.Warnf("node: publish peer list: %v", err)
		}
	}

	v2, err := buildDiscoveryV2Envelope(n.nodeID, n.cfg.Region, uint32(n.registry.Count()), n.priv.Public().(ed25519.PublicKey), n.signRaw)
	if err != nil {
		logrus.Warnf("node: build v2 discovery envelope: %v", err)
	} else if err := n.publish(TopicImprovedDiscoveryV2, v2); err != nil {
		logrus.Warnf("node: publish v2 discovery: %v", err)
	}

	n.registry.CleanupExpired()
}

// runIsolationMonitor samples connectivity health every
// IsolationCheckInterval seconds and, after three consecutive isolated
// samples, retries every bootstrap peer (a direct connect first, then a
// relay-assisted one when a relay is configured).
func (n *Node) runIsolationMonitor() {
	defer n.wg.Done()
	ticker := time.NewTicker(IsolationCheckInterval * time.Second)
	defer ticker.Stop()
	mon := &isolationMonitor{}
	var lastMessages int64
	for {
		select {
		case <-ticker.C:
			cur := atomic.LoadInt64(&n.messagesReceived)
			delta := cur - lastMessages
			lastMessages = cur

			connected := n.registry.Count()
			hasRelay := n.cfg.RelayURL != ""
			if mon.Tick(connected, delta, hasRelay) {
				n.setState(StateIsolated)
				n.recoverFromIsolation()
				n.setState(StateRunning)
			}
		case <-n.ctx.Done():
			return
		}
	}
}

// recoverFromIsolation runs one serialized, backoff-gated sweep over every
// bootstrap peer (§4.7's isolation-recovery connect retries are serialized
// per cycle), rather than connectWithRetry's own 5-attempt loop, since a
// sweep that the isolation monitor repeats whenever isolation persists
// needs only one try per peer per sweep.
func (n *Node) recoverFromIsolation() {
	for _, addr := range ResolveBootstrapPeers(n.cfg.BootstrapPeers) {
		if !n.backoff.Allow(addr) {
			continue
		}
		if !n.sleepOrDone(resilience.Jitter()) {
			return
		}

		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logrus.Debugf("node: isolation recovery addr %q unparseable: %v", addr, err)
			continue
		}
		if n.dialOnce(pi) {
			n.backoff.Success(addr)
			n.registerPeerConnected(pi.ID.String())
			continue
		}
		n.backoff.Failure(addr)
	}
}

func (n *Node) sign(msg []byte) string {
	return gocrypto.Sign(n.priv, msg)
}

// signRaw signs msg and returns the raw Ed25519 signature bytes, for the
// binary v2 discovery envelope (everything else signs into a hex string).
func (n *Node) signRaw(msg []byte) []byte {
	return ed25519.Sign(n.priv, msg)
}
