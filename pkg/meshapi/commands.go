package meshapi

import (
	"context"

	"github.com/cyberfly-mesh/meshpeer/internal/node"
)

// invoke sends cmd to the running node and waits for a reply until ctx is
// done (up to commandTimeout when ctx is nil), giving the async command
// invokers (send_gossip, store_data, ...) a synchronous-looking call shape.
// A non-nil ctx without a deadline waits as long as the node takes.
func (h *Handle) invoke(ctx context.Context, cmd node.Command) (node.CommandResult, error) {
	n, err := h.activeNode()
	if err != nil {
		return node.CommandResult{}, err
	}

	reply := make(chan node.CommandResult, 1)
	cmd.Reply = reply
	if err := n.SendCommand(cmd); err != nil {
		return node.CommandResult{}, err
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
	}

	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return node.CommandResult{}, ctx.Err()
	}
}

// SendGossip publishes message on the given gossip topic.
func (h *Handle) SendGossip(ctx context.Context, topic string, message []byte) error {
	_, err := h.invoke(ctx, node.Command{Kind: node.CmdSendGossip, Gossip: &node.SendGossipArgs{Topic: topic, Message: message}})
	return err
}

// SendLatencyRequest probes peerID and records the outstanding request;
// the measured latency arrives later as an EventLatencyMeasured event.
func (h *Handle) SendLatencyRequest(ctx context.Context, peerID string) error {
	_, err := h.invoke(ctx, node.Command{Kind: node.CmdSendLatencyRequest, PeerID: peerID})
	return err
}

// GetData reads a value through the command channel rather than directly
// from storage: §4.8 lists get_node_status/get_peers/is_node_running/
// list_databases/list_keys/get_logs as the synchronous accessors and
// leaves get_data out of that list, so it follows the async command path
// like store_data.
func (h *Handle) GetData(ctx context.Context, dbName, key string) ([]byte, error) {
	res, err := h.invoke(ctx, node.Command{Kind: node.CmdGetData, Get: &node.GetDataArgs{DBName: dbName, Key: key}})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// StoreData writes a pre-signed operation and broadcasts it to the rest of
// the overlay. The node trusts host-originated writes: the signature is
// carried along but not re-verified locally.
func (h *Handle) StoreData(ctx context.Context, dbName, key, value, publicKeyHex, signatureHex string) error {
	_, err := h.invoke(ctx, node.Command{Kind: node.CmdStoreData, Store: &node.StoreDataArgs{
		DBName: dbName, Key: key, Value: value, PublicKey: publicKeyHex, Signature: signatureHex,
	}})
	return err
}

// StoreDataLocal writes directly to local storage without a signature and
// without broadcasting -- not broadcast-safe, per §6.
func (h *Handle) StoreDataLocal(ctx context.Context, dbName, key, value string) error {
	_, err := h.invoke(ctx, node.Command{Kind: node.CmdStoreData, Store: &node.StoreDataArgs{
		DBName: dbName, Key: key, Value: value, Local: true,
	}})
	return err
}

// RequestSync issues a SyncRequest on the sync topic, optionally bounded
// to operations at or after sinceMillis.
func (h *Handle) RequestSync(ctx context.Context, sinceMillis *int64) error {
	_, err := h.invoke(ctx, node.Command{Kind: node.CmdRequestSync, SinceTimestamp: sinceMillis})
	return err
}

// Stop requests an orderly shutdown through the command channel rather
// than calling Node.Stop directly, for a host that prefers to route every
// call through the command surface. Unlike StopNode, it does not clear the
// holder: the stopped node stays installed until StopNode is called.
func (h *Handle) Stop(ctx context.Context) error {
	_, err := h.invoke(ctx, node.Command{Kind: node.CmdStop})
	return err
}
