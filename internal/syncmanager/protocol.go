// Package syncmanager implements the replication protocol that runs over
// the sync gossip topic: request/response bulk catch-up with a
// continuation cursor, and single-operation broadcast.
package syncmanager

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cyberfly-mesh/meshpeer/internal/syncstore"
)

// MaxOpsPerResponse caps how many operations a single SyncResponse chunk
// carries.
const MaxOpsPerResponse = 128

// Message is the tagged union carried on the sync topic. Exactly one of
// Request, Response, or Operation is set; Kind names which.
type Message struct {
	Kind     Kind                       `json:"kind"`
	Request  *SyncRequest               `json:"request,omitempty"`
	Response *SyncResponse              `json:"response,omitempty"`
	Op       *syncstore.SignedOperation `json:"op,omitempty"`
}

// Kind tags which variant of Message is populated.
type Kind string

const (
	KindSyncRequest  Kind = "SyncRequest"
	KindSyncResponse Kind = "SyncResponse"
	KindOperation    Kind = "Operation"
)

// SyncRequest asks a peer for every operation at or after SinceTimestamp
// (all operations when nil).
type SyncRequest struct {
	Requester      string `json:"requester"`
	SinceTimestamp *int64 `json:"since_timestamp,omitempty"`
}

// SyncResponse carries a chunk of operations back to Requester, with a
// continuation token when more remain.
type SyncResponse struct {
	Requester         string                       `json:"requester"`
	Operations        []*syncstore.SignedOperation `json:"operations"`
	HasMore           bool                         `json:"has_more"`
	ContinuationToken string                       `json:"continuation_token,omitempty"`
}

// BuildSyncResponse selects up to MaxOpsPerResponse operations from ops
// (already filtered by the caller's since_timestamp and sorted ascending
// by (timestamp, op_id)) and builds the response chunk for requester.
func BuildSyncResponse(requester string, ops []*syncstore.SignedOperation) *SyncResponse {
	resp := &SyncResponse{Requester: requester}

	if len(ops) <= MaxOpsPerResponse {
		resp.Operations = ops
		return resp
	}

	chunk := ops[:MaxOpsPerResponse]
	resp.Operations = chunk
	resp.HasMore = true
	resp.ContinuationToken = ContinuationToken(chunk[len(chunk)-1].Timestamp)
	return resp
}

// ContinuationToken formats the "ts:{n}" cursor used to resume a chunked
// catch-up.
func ContinuationToken(ts int64) string {
	return "ts:" + strconv.FormatInt(ts, 10)
}

// ParseContinuationToken extracts the timestamp from a "ts:{n}" token.
func ParseContinuationToken(token string) (int64, error) {
	rest, ok := strings.CutPrefix(token, "ts:")
	if !ok {
		return 0, fmt.Errorf("syncmanager: malformed continuation token %q", token)
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("syncmanager: malformed continuation token %q: %w", token, err)
	}
	return n, nil
}
