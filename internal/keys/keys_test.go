package keys

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	msg := []byte("transfer 100 satoshi to pv1deadbeef")
	sig, err := m.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}
	pubKey := m.classicalPriv.PubKey().SerializeCompressed()
	if !m.Verify(pubKey, msg, sig) {
		t.Fatal("expected hybrid signature to verify against its own message")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	msg := []byte("original message")
	sig, err := m.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}
	pubKey := m.classicalPriv.PubKey().SerializeCompressed()
	if m.Verify(pubKey, []byte("tampered message"), sig) {
		t.Fatal("expected verification to fail for a tampered message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	other, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	msg := []byte("message")
	sig, err := m.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}
	wrongPubKey := other.classicalPriv.PubKey().SerializeCompressed()
	if m.Verify(wrongPubKey, msg, sig) {
		t.Fatal("expected verification to fail against a different key")
	}
}

func TestDeriveAddressAndAddressToHashRoundTrip(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	pubKey := m.classicalPriv.PubKey().SerializeCompressed()
	addr, err := m.DeriveAddress(pubKey)
	if err != nil {
		t.Fatalf("DeriveAddress: %s", err)
	}
	if len(addr) < 4 || addr[:3] != "pv1" {
		t.Fatalf("expected address to carry the pv1 prefix, got %q", addr)
	}
	hash, err := m.AddressToHash(addr)
	if err != nil {
		t.Fatalf("AddressToHash: %s", err)
	}
	if len(hash) != 20 {
		t.Errorf("expected a 20-byte hash, got %d bytes", len(hash))
	}
}

func TestAddressToHashRejectsBadPrefix(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	if _, err := m.AddressToHash("xyz1234"); err == nil {
		t.Error("expected AddressToHash to reject an unrecognized prefix")
	}
}

func TestHybridSignatureMarshalRoundTrip(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	sig, err := m.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %s", err)
	}
	hs, err := UnmarshalHybridSignature(sig)
	if err != nil {
		t.Fatalf("UnmarshalHybridSignature: %s", err)
	}
	remarshaled := hs.Marshal()
	if len(remarshaled) != len(sig) {
		t.Errorf("expected marshal round trip to preserve length: got %d want %d", len(remarshaled), len(sig))
	}
}

func TestProofOfPersonhoodIsDeterministic(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	a := m.ProofOfPersonhood("pv1deadbeef", 1.0)
	b := m.ProofOfPersonhood("pv1deadbeef", 1.0)
	if a != b {
		t.Error("expected ProofOfPersonhood to be deterministic for the same address/difficulty")
	}
}

func TestProofOfPersonhoodRejectsEmptyAddress(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	if m.ProofOfPersonhood("", 1.0) {
		t.Error("expected empty address to fail proof of personhood")
	}
	if m.ProofOfPersonhood("pv1x", 0) {
		t.Error("expected non-positive difficulty to fail proof of personhood")
	}
}
