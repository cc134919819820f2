package node

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyberfly-mesh/meshpeer/internal/syncstore"
)

var (
	errCommandQueueFull = fmt.Errorf("node: command queue full")
	errMissingArgs      = fmt.Errorf("node: command missing required arguments")
)

// SendCommand enqueues cmd on the supervisor's bounded command channel,
// returning an error immediately if the channel is full rather than
// blocking the caller indefinitely.
func (n *Node) SendCommand(cmd Command) error {
	select {
	case n.commands <- cmd:
		return nil
	default:
		return errCommandQueueFull
	}
}

// runCommandDispatcher drains the host-issued command channel until the
// node's context is cancelled, applying each command to storage, the
// registry, or the sync store and replying on the command's Reply channel
// when one is supplied.
func (n *Node) runCommandDispatcher() {
	defer n.wg.Done()
	for {
		select {
		case cmd := <-n.commands:
			n.dispatchCommand(cmd)
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) dispatchCommand(cmd Command) {
	switch cmd.Kind {
	case CmdStop:
		reply(cmd.Reply, CommandResult{})
		// Stop cancels n.ctx and waits on n.wg, which this very goroutine is
		// part of; running it inline would deadlock, so hand it off.
		go func() {
			if err := n.Stop(); err != nil {
				logrus.Warnf("node: stop: %v", err)
			}
		}()

	case CmdGetStatus:
		st := n.Status()
		reply(cmd.Reply, CommandResult{Status: &st})

	case CmdGetPeers:
		peers := n.Peers()
		ids := make([]string, 0, len(peers))
		for _, p := range peers {
			ids = append(ids, p.NodeID)
		}
		reply(cmd.Reply, CommandResult{Peers: ids})

	case CmdSendGossip:
		if cmd.Gossip == nil {
			reply(cmd.Reply, CommandResult{Err: errMissingArgs})
			return
		}
		err := n.publish(cmd.Gossip.Topic, cmd.Gossip.Message)
		reply(cmd.Reply, CommandResult{Err: err})

	case CmdSendLatencyRequest:
		err := n.SendLatencyRequest(cmd.PeerID)
		reply(cmd.Reply, CommandResult{Err: err})

	case CmdStoreData:
		err := n.handleStoreData(cmd.Store)
		reply(cmd.Reply, CommandResult{Err: err})

	case CmdGetData:
		data, err := n.handleGetData(cmd.Get)
		reply(cmd.Reply, CommandResult{Data: data, Err: err})

	case CmdRequestSync:
		n.syncMgr.RequestSync(cmd.SinceTimestamp)
		reply(cmd.Reply, CommandResult{})

	default:
		reply(cmd.Reply, CommandResult{Err: fmt.Errorf("node: unknown command %q", cmd.Kind)})
	}
}

func reply(ch chan CommandResult, res CommandResult) {
	if ch == nil {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// handleStoreData applies a host-issued write. A pre-signed write
// (store_data) is entered into the sync store without re-verifying its
// signature, applied to storage, and propagated to the rest of the overlay;
// a local write (store_data_local) is applied directly to storage and never
// broadcast.
func (n *Node) handleStoreData(args *StoreDataArgs) error {
	if args == nil {
		return errMissingArgs
	}

	if args.Local {
		return n.storage.Put(args.DBName, args.Key, []byte(args.Value))
	}

	op := &syncstore.SignedOperation{
		OpID:      newRequestID(),
		Timestamp: time.Now().UnixMilli(),
		DBName:    args.DBName,
		Key:       args.Key,
		Value:     args.Value,
		StoreType: syncstore.StoreString,
		PublicKey: args.PublicKey,
		Signature: args.Signature,
	}

	// We trust our own local store here: this operation originates from this
	// node's own host binding, not an untrusted peer, so it is applied
	// unconditionally rather than re-verified. AddOperationUnverified also
	// persists the operation to the oplog tree.
	n.syncStore.AddOperationUnverified(op)
	if err := n.syncStore.ApplyToStorage(op); err != nil {
		return err
	}

	return n.syncMgr.PublishLocalWrite(op)
}

func (n *Node) handleGetData(args *GetDataArgs) ([]byte, error) {
	if args == nil {
		return nil, errMissingArgs
	}
	return n.storage.Get(args.DBName, args.Key)
}
