package node

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cyberfly-mesh/meshpeer/internal/discovery"
)

// AnnounceInterval is how often the periodic announcer broadcasts.
const AnnounceInterval = 10 * time.Second

// MobileCapabilities returns the capability flags a mobile-profile node
// advertises: only blobs and mobile are set, matching §4.7's periodic
// announcer rule.
func MobileCapabilities() discovery.Capabilities {
	return discovery.Capabilities{Blobs: true, Mobile: true}
}

// buildAnnouncement constructs a signed PeerAnnouncement for the local
// identity.
func buildAnnouncement(nodeID, publicKeyHex, address, region string, sign func([]byte) string) *discovery.PeerAnnouncement {
	a := &discovery.PeerAnnouncement{
		Type:         discovery.MsgTypePeerAnnouncement,
		ID:           uuid.NewString(),
		NodeID:       nodeID,
		PublicKey:    publicKeyHex,
		Address:      address,
		Capabilities: MobileCapabilities(),
		Region:       region,
		Timestamp:    time.Now().UnixMilli(),
	}
	a.Sign(sign)
	return a
}

// buildPeerList constructs a signed PeerListAnnouncement over the given
// known-peer node ids and addresses.
func buildPeerList(localNodeID, publicKeyHex string, peers []*discovery.DiscoveredPeer, sign func([]byte) string) *discovery.PeerListAnnouncement {
	entries := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.Address != "" {
			entries = append(entries, fmt.Sprintf("%s@%s", p.NodeID, p.Address))
		} else {
			entries = append(entries, p.NodeID)
		}
	}
	l := &discovery.PeerListAnnouncement{
		Type:       discovery.MsgTypePeerList,
		FromNodeID: localNodeID,
		PublicKey:  publicKeyHex,
		Peers:      entries,
		Timestamp:  time.Now().UnixMilli(),
	}
	l.Signature = sign([]byte(l.SigningMessage()))
	return l
}

// buildDiscoveryV2Envelope constructs and postcard-encodes the v2 discovery
// envelope broadcast alongside the JSON announcement: From is the raw
// public key, Data is the postcard-encoded DiscoveryNode payload, and
// Signature is the raw Ed25519 signature over Data (not hex, unlike the
// JSON announcements, since this wire format carries raw byte sequences
// throughout).
func buildDiscoveryV2Envelope(nodeID, region string, peerCount uint32, pub []byte, signRaw func([]byte) []byte) ([]byte, error) {
	dn := discovery.NewDiscoveryNode(nodeID, nodeID, region, peerCount, MobileCapabilities())
	data, err := discovery.EncodeDiscoveryNode(dn)
	if err != nil {
		return nil, fmt.Errorf("node: encode v2 discovery node: %w", err)
	}
	msg := &discovery.SignedDiscoveryMessage{
		From:      pub,
		Data:      data,
		Signature: signRaw(data),
	}
	return discovery.EncodeSignedDiscoveryMessage(msg)
}
