// Package syncstore holds the signed-operation type, the in-memory LWW
// register map it merges into, and the apply pipeline that drains accepted
// operations into storage exactly once.
package syncstore

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cyberfly-mesh/meshpeer/internal/crypto"
)

// StoreType selects how an operation's value is laid out in storage.
type StoreType string

const (
	StoreString StoreType = "String"
	StoreHash   StoreType = "Hash"
	StoreJSON   StoreType = "JSON"
)

// SignedOperation is a single signed LWW register write, as carried over
// the sync topic and persisted in the oplog tree.
type SignedOperation struct {
	OpID         string    `json:"op_id"`
	Timestamp    int64     `json:"timestamp"`
	DBName       string    `json:"db_name"`
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	StoreType    StoreType `json:"store_type"`
	Field        string    `json:"field,omitempty"`
	Score        *float64  `json:"score,omitempty"`
	JSONPath     string    `json:"json_path,omitempty"`
	StreamFields []string  `json:"stream_fields,omitempty"`
	TSTimestamp  *int64    `json:"ts_timestamp,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	PublicKey    string    `json:"public_key"`
	Signature    string    `json:"signature"`
}

// CRDTKey returns the compound identifier this operation targets:
// "{db_name}:{key}:{field}" when Field is present, else "{db_name}:{key}".
func (o *SignedOperation) CRDTKey() string {
	if o.Field != "" {
		return fmt.Sprintf("%s:%s:%s", o.DBName, o.Key, o.Field)
	}
	return fmt.Sprintf("%s:%s", o.DBName, o.Key)
}

func (o *SignedOperation) fullSigningMessage() string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", o.OpID, o.Timestamp, o.DBName, o.Key, o.Value)
}

func (o *SignedOperation) shortSigningMessage() string {
	return fmt.Sprintf("%s:%s:%s", o.DBName, o.Key, o.Value)
}

// Sign stamps the operation with publicKeyHex and a signature over its full
// signing message, computed with priv.
func (o *SignedOperation) Sign(priv ed25519.PrivateKey, publicKeyHex string) {
	o.PublicKey = publicKeyHex
	o.Signature = crypto.Sign(priv, []byte(o.fullSigningMessage()))
}

// Verify checks the operation's signature against its embedded public key,
// first trying the full signing message, then the short one. It also
// enforces the db_name/public_key binding invariant.
func (o *SignedOperation) Verify() (bool, error) {
	if err := crypto.VerifyDBNameSecure(o.DBName, o.PublicKey); err != nil {
		return false, err
	}

	ok, err := crypto.Verify(o.PublicKey, []byte(o.fullSigningMessage()), o.Signature)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	return crypto.Verify(o.PublicKey, []byte(o.shortSigningMessage()), o.Signature)
}
