package node

// IsolationCheckInterval is how often the isolation monitor samples node
// health.
const IsolationCheckInterval = 30

// ConsecutiveIsolatedThreshold is how many consecutive isolated checks
// trigger a relay-assisted reconnect sweep.
const ConsecutiveIsolatedThreshold = 3

// isIsolated reports whether the node should be considered isolated given
// the current connected-peer count, gossip messages received since the
// last check, and whether a relay is configured.
func isIsolated(connectedPeers int, messagesReceived int64, hasRelay bool) bool {
	if connectedPeers == 0 {
		return true
	}
	return messagesReceived == 0 && !hasRelay
}

// isolationMonitor tracks the consecutive-isolated-checks counter across
// ticks and reports whether a given tick crosses ConsecutiveIsolatedThreshold.
type isolationMonitor struct {
	consecutive int
}

// Tick records one isolation sample and returns true the moment the
// consecutive-isolated count reaches ConsecutiveIsolatedThreshold, resetting
// the counter immediately after so repeated ticks need three more isolated
// samples to fire again.
func (m *isolationMonitor) Tick(connectedPeers int, messagesReceived int64, hasRelay bool) bool {
	if !isIsolated(connectedPeers, messagesReceived, hasRelay) {
		m.consecutive = 0
		return false
	}
	m.consecutive++
	if m.consecutive >= ConsecutiveIsolatedThreshold {
		m.consecutive = 0
		return true
	}
	return false
}
