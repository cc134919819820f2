package syncstore

import (
	"testing"

	"github.com/cyberfly-mesh/meshpeer/internal/crypto"
	"github.com/google/uuid"
)

func makeSignedOp(t *testing.T, dbName, key, value string, full bool) *SignedOperation {
	t.Helper()
	_, priv, pubHex, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	op := &SignedOperation{
		OpID:      uuid.NewString(),
		Timestamp: 1000,
		DBName:    crypto.GenerateDBName(dbName, pubHex),
		Key:       key,
		Value:     value,
		StoreType: StoreString,
		PublicKey: pubHex,
	}
	var msg string
	if full {
		msg = op.fullSigningMessage()
	} else {
		msg = op.shortSigningMessage()
	}
	op.Signature = crypto.Sign(priv, []byte(msg))
	return op
}

func TestVerifyFullAndShortForms(t *testing.T) {
	full := makeSignedOp(t, "db", "k", "v", true)
	ok, err := full.Verify()
	if err != nil || !ok {
		t.Fatalf("expected full-form signature to verify, got %v %v", ok, err)
	}

	short := makeSignedOp(t, "db", "k", "v", false)
	ok, err = short.Verify()
	if err != nil || !ok {
		t.Fatalf("expected short-form signature to verify, got %v %v", ok, err)
	}
}

func TestVerifyRejectsBadDBNameBinding(t *testing.T) {
	op := makeSignedOp(t, "db", "k", "v", true)
	op.DBName = "db-deadbeef"
	if ok, _ := op.Verify(); ok {
		t.Fatal("expected verification to fail for mismatched db name binding")
	}
}

func TestCRDTKey(t *testing.T) {
	op := &SignedOperation{DBName: "mydb", Key: "k"}
	if got := op.CRDTKey(); got != "mydb:k" {
		t.Fatalf("got %q", got)
	}
	op.Field = "f"
	if got := op.CRDTKey(); got != "mydb:k:f" {
		t.Fatalf("got %q", got)
	}
}
