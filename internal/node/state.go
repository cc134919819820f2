// Package node implements the supervised node loop: endpoint bind,
// bootstrap connect with retry and relay fallback, topic subscriptions,
// periodic announcer, isolation monitor, and the command dispatcher that
// ties them to storage, the peer registry, and the sync store.
package node

import (
	"fmt"

	"github.com/cyberfly-mesh/meshpeer/internal/discovery"
)

// State is a node's position in its lifecycle state machine.
type State int

const (
	StateInitializing State = iota
	StateConnecting
	StateRunning
	StateIsolated
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateConnecting:
		return "Connecting"
	case StateRunning:
		return "Running"
	case StateIsolated:
		return "Isolated"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// transitions enumerates the legal edges of the node state machine:
// Initializing -> Connecting -> Running <-> Isolated -> Stopping -> Stopped.
var transitions = map[State]map[State]bool{
	StateInitializing: {StateConnecting: true},
	StateConnecting:   {StateRunning: true, StateStopping: true},
	StateRunning:      {StateIsolated: true, StateStopping: true},
	StateIsolated:     {StateRunning: true, StateStopping: true},
	StateStopping:     {StateStopped: true},
	StateStopped:      {},
}

func (s State) canTransitionTo(next State) bool {
	return transitions[s][next]
}

// NodeInfo is the snapshot returned by start_node/get_node_info. Beyond
// identity, GetNodeInfo fills in the capability/version summary described
// in SPEC_FULL's supplemented features: the flags this node advertises,
// how long it has been running, and how much it holds in storage and the
// peer registry.
type NodeInfo struct {
	NodeID         string                 `json:"node_id"`
	PublicKey      string                 `json:"public_key"`
	DataDir        string                 `json:"data_dir"`
	Region         string                 `json:"region,omitempty"`
	Capabilities   discovery.Capabilities `json:"capabilities"`
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	ConnectedPeers int                    `json:"connected_peers"`
	DatabaseCount  int                    `json:"database_count"`
	KeyCount       int                    `json:"key_count"`
}

// Status is the snapshot returned by get_node_status.
type Status struct {
	State            string `json:"state"`
	ConnectedPeers   int    `json:"connected_peers"`
	DiscoveredPeers  int    `json:"discovered_peers"`
	MessagesReceived int64  `json:"messages_received"`
}

// EventKind tags the events streamed to the host.
type EventKind string

const (
	EventStarted          EventKind = "Started"
	EventStopped          EventKind = "Stopped"
	EventPeerConnected    EventKind = "PeerConnected"
	EventPeerDisconnected EventKind = "PeerDisconnected"
	EventPeerDiscovered   EventKind = "PeerDiscovered"
	EventGossipReceived   EventKind = "GossipReceived"
	EventSyncReceived     EventKind = "SyncReceived"
	EventLatencyMeasured  EventKind = "LatencyMeasured"
	EventError            EventKind = "Error"
)

// Event is a single entry on the event stream to the host.
type Event struct {
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}
