// Package keys implements the hybrid classical+post-quantum KeyManager
// collaborator contract (spec §6.3, §9 "hybrid crypto"): a secp256k1
// signature for compatibility with the wider btcsuite-family ecosystem,
// concatenated with a Dilithium post-quantum signature, verified
// together. Both halves must stay inside the mempool's admission time
// budget (spec §9), which is why mode3 (the "recommended" Dilithium
// parameter set) is used rather than the larger mode5.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/pkg/errors"

	"github.com/daglabs/powvote-node/internal/collab"
)

// HybridSignature is the combined classical+PQ signature format. Layout:
// a btcec/ecdsa DER signature (variable width, 2-byte length prefix)
// followed by a fixed mode3-sized Dilithium signature.
type HybridSignature struct {
	Classical []byte
	PostQuantum [mode3.SignatureSize]byte
}

// Marshal concatenates the two halves with a length prefix for the
// classical signature so Unmarshal can split them back apart.
func (h HybridSignature) Marshal() []byte {
	out := make([]byte, 0, 2+len(h.Classical)+mode3.SignatureSize)
	out = append(out, byte(len(h.Classical)>>8), byte(len(h.Classical)))
	out = append(out, h.Classical...)
	out = append(out, h.PostQuantum[:]...)
	return out
}

// Unmarshal splits a combined signature back into its two halves.
func UnmarshalHybridSignature(b []byte) (HybridSignature, error) {
	if len(b) < 2 {
		return HybridSignature{}, errors.New("hybrid signature too short")
	}
	classicalLen := int(b[0])<<8 | int(b[1])
	b = b[2:]
	if len(b) < classicalLen+mode3.SignatureSize {
		return HybridSignature{}, errors.New("hybrid signature truncated")
	}
	var h HybridSignature
	h.Classical = append([]byte(nil), b[:classicalLen]...)
	copy(h.PostQuantum[:], b[classicalLen:classicalLen+mode3.SignatureSize])
	return h, nil
}

// Manager implements collab.KeyManager with a secp256k1 classical key
// and a Dilithium mode3 post-quantum key.
type Manager struct {
	classicalPriv *btcec.PrivateKey
	pqPriv        *mode3.PrivateKey
	pqPub         *mode3.PublicKey
}

// New generates a fresh hybrid keypair.
func New() (*Manager, error) {
	classicalPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generating classical key")
	}
	pqPub, pqPriv, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating post-quantum key")
	}
	return &Manager{classicalPriv: classicalPriv, pqPriv: pqPriv, pqPub: pqPub}, nil
}

// DeriveAddress derives a human-facing address from a classical public
// key as "pv1" plus the hex of the first 20 bytes of its SHA-256 hash (a
// simplified stand-in for full bech32/base58check encoding, which spec
// §1 places outside this module's scope alongside keystore persistence).
func (m *Manager) DeriveAddress(pubKey []byte) (string, error) {
	if len(pubKey) == 0 {
		return "", errors.New("empty public key")
	}
	sum := chainhash.HashB(pubKey)
	return "pv1" + hex.EncodeToString(sum[:20]), nil
}

// AddressToHash recovers the raw hash encoded in an address produced by
// DeriveAddress.
func (m *Manager) AddressToHash(address string) ([]byte, error) {
	if len(address) < 3 || address[:3] != "pv1" {
		return nil, errors.Errorf("unrecognized address prefix in %q", address)
	}
	return hex.DecodeString(address[3:])
}

// Sign produces a hybrid signature over message using both the
// classical and post-quantum private keys.
func (m *Manager) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	classicalSig := ecdsa.Sign(m.classicalPriv, digest[:])

	var pqSig [mode3.SignatureSize]byte
	mode3.SignTo(m.pqPriv, message, pqSig[:])

	hs := HybridSignature{Classical: classicalSig.Serialize(), PostQuantum: pqSig}
	return hs.Marshal(), nil
}

// Verify checks a hybrid signature produced by Sign. Both halves must
// verify for the signature to be accepted.
func (m *Manager) Verify(pubKey, message, signature []byte) bool {
	hs, err := UnmarshalHybridSignature(signature)
	if err != nil {
		return false
	}

	classicalPub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	classicalSig, err := ecdsa.ParseDERSignature(hs.Classical)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	if !classicalSig.Verify(digest[:], classicalPub) {
		return false
	}

	return mode3.Verify(m.pqPub, message, hs.PostQuantum[:])
}

// ProofOfPersonhood validates the per-address proof-of-work contribution
// the quadratic-voting and POW_REWARD admission gates require (spec §9:
// kept address-first per the original contract, not header-first).
func (m *Manager) ProofOfPersonhood(address string, difficulty float64) bool {
	if address == "" || difficulty <= 0 {
		return false
	}
	// A lightweight, deterministic personhood check: the address's own
	// hash must itself clear a (much looser) fraction of the network
	// target, standing in for the fuller "PoW as proof-of-personhood"
	// protocol spec §9 says to keep as-is without guessing its details.
	sum := sha256.Sum256([]byte(address))
	leadingZero := 0
	for _, b := range sum {
		if b != 0 {
			break
		}
		leadingZero++
	}
	required := 1
	if difficulty > 4 {
		required = 2
	}
	return leadingZero >= required
}

var _ collab.KeyManager = (*Manager)(nil)
