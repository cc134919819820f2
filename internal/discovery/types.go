// Package discovery implements the peer-overlay data types (announcements,
// peer lists, latency probes), the legacy back-compat envelope, and the
// peer registry that tracks every node learned through them.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cyberfly-mesh/meshpeer/internal/crypto"
)

// PeerExpiry is how long a peer may go unseen before cleanup removes it.
const PeerExpiry = 300 // seconds

// Message type tags carried on the shared "data"/"discovery" topics, the
// Go equivalent of the reference's #[serde(tag="type")] DiscoveryMessage
// enum: every message on a dispatch-by-content topic names its own kind so
// a receiver never has to guess from field shape alone.
const (
	MsgTypePeerAnnouncement    = "PeerAnnouncement"
	MsgTypePeerList            = "PeerList"
	MsgTypeLatencyRequest      = "LatencyRequest"
	MsgTypeLatencyResponse     = "LatencyResponse"
)

// taggedType is the minimal shape every tagged message shares, used to peek
// at the "type" field without committing to a concrete struct.
type taggedType struct {
	Type string `json:"type"`
}

// MessageType reports the "type" tag of a JSON-encoded tagged message,
// erroring if the field is absent so callers never silently fall back to
// field-presence sniffing.
func MessageType(data []byte) (string, error) {
	var t taggedType
	if err := json.Unmarshal(data, &t); err != nil {
		return "", err
	}
	if t.Type == "" {
		return "", fmt.Errorf("discovery: message missing \"type\" tag")
	}
	return t.Type, nil
}

// Capabilities describes what a peer advertises it can serve.
type Capabilities struct {
	MQTT       bool `json:"mqtt"`
	Streams    bool `json:"streams"`
	Timeseries bool `json:"timeseries"`
	Geo        bool `json:"geo"`
	Blobs      bool `json:"blobs"`
	Mobile     bool `json:"mobile"`
}

// DiscoveredPeer is an entry in the peer registry.
type DiscoveredPeer struct {
	NodeID       string       `json:"node_id"`
	PublicKey    string       `json:"public_key"`
	Address      string       `json:"address,omitempty"`
	Region       string       `json:"region,omitempty"`
	Version      string       `json:"version,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	LastSeen     int64        `json:"last_seen"`
	LatencyMs    *int64       `json:"latency_ms,omitempty"`
}

// PeerAnnouncement is a signed self-advertisement broadcast on the
// discovery topic.
type PeerAnnouncement struct {
	Type         string       `json:"type"`
	ID           string       `json:"id"`
	NodeID       string       `json:"node_id"`
	PublicKey    string       `json:"public_key"`
	Address      string       `json:"address,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	Region       string       `json:"region,omitempty"`
	Version      string       `json:"version,omitempty"`
	Timestamp    int64        `json:"timestamp"`
	Signature    string       `json:"signature"`
}

// SigningMessage returns the canonical string signed/verified for this
// announcement: "{id}:{node_id}:{timestamp}:{address}".
func (a *PeerAnnouncement) SigningMessage() string {
	return fmt.Sprintf("%s:%s:%d:%s", a.ID, a.NodeID, a.Timestamp, a.Address)
}

// Sign fills in the signature field using priv.
func (a *PeerAnnouncement) Sign(sign func(msg []byte) string) {
	a.Signature = sign([]byte(a.SigningMessage()))
}

// Verify checks the announcement's signature against its public key.
func (a *PeerAnnouncement) Verify() (bool, error) {
	return crypto.Verify(a.PublicKey, []byte(a.SigningMessage()), a.Signature)
}

// PeerListAnnouncement is a signed list of known peers, broadcast on the
// peer-list topic so recipients can connect out to entries they don't
// already know.
type PeerListAnnouncement struct {
	Type       string   `json:"type"`
	FromNodeID string   `json:"from_node_id"`
	PublicKey  string   `json:"public_key"`
	Peers      []string `json:"peers"`
	Timestamp  int64    `json:"timestamp"`
	Signature  string   `json:"signature"`
}

// SigningMessage returns "{from_node_id}:{timestamp}:{peers joined by ','}".
func (l *PeerListAnnouncement) SigningMessage() string {
	return fmt.Sprintf("%s:%d:%s", l.FromNodeID, l.Timestamp, strings.Join(l.Peers, ","))
}

func (l *PeerListAnnouncement) Verify() (bool, error) {
	return crypto.Verify(l.PublicKey, []byte(l.SigningMessage()), l.Signature)
}

// ParsePeerEntry splits a peer-list entry of the form "{node_id}@{address}"
// or bare "{node_id}" into its parts. address is "" when absent.
func ParsePeerEntry(entry string) (nodeID, address string) {
	if i := strings.IndexByte(entry, '@'); i >= 0 {
		return entry[:i], entry[i+1:]
	}
	return entry, ""
}

// PeerDiscoveryAnnouncement is the older desktop peer's flat JSON format,
// tried as a fallback when a peer-list message doesn't parse as
// PeerListAnnouncement.
type PeerDiscoveryAnnouncement struct {
	NodeID         string `json:"node_id"`
	ConnectedPeers int    `json:"connected_peers"`
	Timestamp      int64  `json:"timestamp"`
	Region         string `json:"region,omitempty"`
	Signature      string `json:"signature"`
}

// LatencyRequest is a signed ping sent to a specific peer.
type LatencyRequest struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	FromNodeID string `json:"from_node_id"`
	SentAt     int64  `json:"sent_at"`
	PublicKey  string `json:"public_key"`
	Signature  string `json:"signature"`
}

func (r *LatencyRequest) SigningMessage() string {
	return fmt.Sprintf("%s:%s:%d", r.RequestID, r.FromNodeID, r.SentAt)
}

func (r *LatencyRequest) Verify() (bool, error) {
	return crypto.Verify(r.PublicKey, []byte(r.SigningMessage()), r.Signature)
}

// LatencyResponse answers a LatencyRequest by the same request_id.
type LatencyResponse struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	FromNodeID  string `json:"from_node_id"`
	RespondedAt int64  `json:"responded_at"`
	PublicKey   string `json:"public_key"`
	Signature   string `json:"signature"`
}

func (r *LatencyResponse) SigningMessage() string {
	return fmt.Sprintf("%s:%s:%d", r.RequestID, r.FromNodeID, r.RespondedAt)
}

func (r *LatencyResponse) Verify() (bool, error) {
	return crypto.Verify(r.PublicKey, []byte(r.SigningMessage()), r.Signature)
}

// OneWayLatency computes the estimated one-way latency in milliseconds
// between a request sent at sentAt and a response stamped respondedAt.
func OneWayLatency(sentAt, respondedAt int64) int64 {
	d := (respondedAt - sentAt) / 2
	if d < 0 {
		return 0
	}
	return d
}
