package crypto

import (
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	_, priv, pubHex, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	msg := []byte("test message")
	sig := Sign(priv, msg)

	ok, err := Verify(pubHex, msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to be valid")
	}
}

func TestVerifyWrongMessage(t *testing.T) {
	_, priv, pubHex, _ := GenerateKeypair()
	sig := Sign(priv, []byte("real message"))

	ok, err := Verify(pubHex, []byte("different message"), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected signature to be invalid for a different message")
	}
}

func TestVerifyBadLengths(t *testing.T) {
	if _, err := Verify("aabb", []byte("m"), "ccdd"); err == nil {
		t.Fatal("expected error for short public key/signature")
	}
}

func TestSecureHexDecode(t *testing.T) {
	b, err := SecureHexDecode("abcd1234")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []byte{0xab, 0xcd, 0x12, 0x34}
	if string(b) != string(want) {
		t.Fatalf("got %x want %x", b, want)
	}

	if b, err := SecureHexDecode(""); err != nil || len(b) != 0 {
		t.Fatalf("expected empty decode to succeed, got %v %v", b, err)
	}

	if _, err := SecureHexDecode("abc"); err == nil {
		t.Fatal("expected odd-length hex to be rejected")
	}

	if _, err := SecureHexDecode("zz"); err == nil {
		t.Fatal("expected non-hex characters to be rejected")
	}
}

func TestValidateTimestamp(t *testing.T) {
	now := time.Now().UnixMilli()
	if err := ValidateTimestamp(now, 0); err != nil {
		t.Fatalf("current timestamp should validate: %v", err)
	}
	if err := ValidateTimestamp(now-int64(2*DefaultTimestampTolerance/time.Millisecond), 0); err == nil {
		t.Fatal("expected too-old timestamp to fail")
	}
	if err := ValidateTimestamp(now+int64(2*DefaultTimestampTolerance/time.Millisecond), 0); err == nil {
		t.Fatal("expected too-future timestamp to fail")
	}
	// tolerance is clamped to MaxTimestampTolerance
	farOld := now - int64(2*MaxTimestampTolerance/time.Millisecond)
	if err := ValidateTimestamp(farOld, 10*time.Hour); err == nil {
		t.Fatal("expected timestamp beyond max tolerance to fail even with a larger requested tolerance")
	}
}

func TestDBNameGenerationAndVerification(t *testing.T) {
	_, _, pubHex, _ := GenerateKeypair()
	dbName := GenerateDBName("testdb", pubHex)

	if got := ExtractNameFromDB(dbName); got != "testdb" {
		t.Fatalf("expected testdb, got %q", got)
	}
	if err := VerifyDBNameSecure(dbName, pubHex); err != nil {
		t.Fatalf("expected valid db name to verify: %v", err)
	}

	_, _, otherHex, _ := GenerateKeypair()
	if err := VerifyDBNameSecure(dbName, otherHex); err == nil {
		t.Fatal("expected db name verification to fail against a different public key")
	}
}

func TestVerifyDBNameSecureRejectsControlChars(t *testing.T) {
	_, _, pubHex, _ := GenerateKeypair()
	dbName := "bad\x01name-" + pubHex
	if err := VerifyDBNameSecure(dbName, pubHex); err == nil {
		t.Fatal("expected control character in name to be rejected")
	}
}

func TestExtractNameFromDBNoSeparator(t *testing.T) {
	if got := ExtractNameFromDB("simple"); got != "" {
		t.Fatalf("expected empty extraction for name with no separator, got %q", got)
	}
}
