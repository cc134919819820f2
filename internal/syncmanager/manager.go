package syncmanager

import (
	"github.com/sirupsen/logrus"

	"github.com/cyberfly-mesh/meshpeer/internal/syncstore"
)

// Broadcaster publishes an encoded sync message on the sync topic.
type Broadcaster func(msg *Message) error

// Manager drives the replication protocol against a local Store, echoing
// responses only to the requester that is this node and chaining
// continuation requests until a chunked catch-up completes.
type Manager struct {
	localNodeID string
	store       *syncstore.Store
	broadcast   Broadcaster
}

// New creates a Manager for localNodeID, backed by store, publishing
// through broadcast.
func New(localNodeID string, store *syncstore.Store, broadcast Broadcaster) *Manager {
	return &Manager{localNodeID: localNodeID, store: store, broadcast: broadcast}
}

// HandleMessage dispatches an inbound sync message by its tag.
func (m *Manager) HandleMessage(msg *Message) {
	switch msg.Kind {
	case KindSyncRequest:
		m.handleSyncRequest(msg.Request)
	case KindSyncResponse:
		m.handleSyncResponse(msg.Response)
	case KindOperation:
		m.handleOperation(msg.Op)
	default:
		logrus.Debugf("syncmanager: ignoring message with unknown kind %q", msg.Kind)
	}
}

func (m *Manager) handleSyncRequest(req *SyncRequest) {
	if req == nil {
		return
	}
	var ops []*syncstore.SignedOperation
	if req.SinceTimestamp != nil {
		ops = m.store.OperationsSince(*req.SinceTimestamp)
	} else {
		ops = m.store.Operations()
	}

	resp := BuildSyncResponse(req.Requester, ops)
	if err := m.broadcast(&Message{Kind: KindSyncResponse, Response: resp}); err != nil {
		logrus.Warnf("syncmanager: broadcasting sync response: %v", err)
	}
}

func (m *Manager) handleSyncResponse(resp *SyncResponse) {
	if resp == nil || resp.Requester != m.localNodeID {
		return
	}

	m.store.MergeOperations(resp.Operations)
	m.store.ApplyAllToStorage()

	if !resp.HasMore {
		return
	}
	since, err := ParseContinuationToken(resp.ContinuationToken)
	if err != nil {
		logrus.Warnf("syncmanager: unparseable continuation token: %v", err)
		return
	}
	m.RequestSync(&since)
}

func (m *Manager) handleOperation(op *syncstore.SignedOperation) {
	if op == nil {
		return
	}
	if !m.store.AddOperation(op) {
		logrus.Debugf("syncmanager: operation %s rejected or duplicate", op.OpID)
		return
	}
	if err := m.store.ApplyToStorage(op); err != nil {
		logrus.Warnf("syncmanager: applying operation %s: %v", op.OpID, err)
	}
}

// RequestSync broadcasts a SyncRequest for this node, optionally scoped to
// operations at or after sinceMillis.
func (m *Manager) RequestSync(sinceMillis *int64) {
	req := &SyncRequest{Requester: m.localNodeID, SinceTimestamp: sinceMillis}
	if err := m.broadcast(&Message{Kind: KindSyncRequest, Request: req}); err != nil {
		logrus.Warnf("syncmanager: broadcasting sync request: %v", err)
	}
}

// PublishLocalWrite wraps op as an Operation message and broadcasts it,
// matching the local-write flow: the caller is responsible for having
// already written op to storage and called AddOperationUnverified before
// invoking this.
func (m *Manager) PublishLocalWrite(op *syncstore.SignedOperation) error {
	return m.broadcast(&Message{Kind: KindOperation, Op: op})
}
