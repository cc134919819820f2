package meshapi

import (
	"context"

	"github.com/cyberfly-mesh/meshpeer/internal/discovery"
	"github.com/cyberfly-mesh/meshpeer/internal/node"
)

// The functions below mirror §6's host command surface one-to-one,
// operating on the process-wide Handle installed via Init/Current. A host
// binding that only ever runs one node at a time (the common case for a
// mobile language binding) can call these directly instead of threading a
// *Handle through its own FFI layer.

func StartNode(dataDir, walletSecretHex string, bootstrapPeers []string, region string) (*node.NodeInfo, error) {
	return Current().StartNode(dataDir, walletSecretHex, bootstrapPeers, region)
}

func StopNode() error { return Current().StopNode() }

func IsNodeRunning() bool { return Current().IsNodeRunning() }

func GetNodeStatus() (node.Status, error) { return Current().GetNodeStatus() }

func GetNodeInfo() (node.NodeInfo, error) { return Current().GetNodeInfo() }

func GetPeers() ([]*discovery.DiscoveredPeer, error) { return Current().GetPeers() }

func SendGossip(ctx context.Context, topic string, message []byte) error {
	return Current().SendGossip(ctx, topic, message)
}

func SendLatencyRequest(ctx context.Context, peerID string) error {
	return Current().SendLatencyRequest(ctx, peerID)
}

func StoreData(ctx context.Context, dbName, key, value, publicKeyHex, signatureHex string) error {
	return Current().StoreData(ctx, dbName, key, value, publicKeyHex, signatureHex)
}

func StoreDataLocal(ctx context.Context, dbName, key, value string) error {
	return Current().StoreDataLocal(ctx, dbName, key, value)
}

func StoreDataQueued(ctx context.Context, dbName, key, value string) error {
	return Current().StoreDataQueued(ctx, dbName, key, value)
}

func GetData(ctx context.Context, dbName, key string) ([]byte, error) {
	return Current().GetData(ctx, dbName, key)
}

func RequestSync(ctx context.Context, sinceMillis *int64) error {
	return Current().RequestSync(ctx, sinceMillis)
}

func ListDatabases() ([]string, error) { return Current().ListDatabases() }

func ListKeys(dbName string) ([]string, error) { return Current().ListKeys(dbName) }

func GetAllEntries(dbName string) (map[string][]byte, error) { return Current().GetAllEntries(dbName) }

func GetAllData(dbName string) (map[string][]byte, error) { return Current().GetAllData(dbName) }

func DeleteData(dbName, key string) error { return Current().DeleteData(dbName, key) }

func GetLogs(limit int) []LogEntry { return Current().GetLogs(limit) }

func ClearLogs() { Current().ClearLogs() }
