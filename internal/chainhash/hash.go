// Package chainhash implements the canonical block-header encoding and
// SHA3-256 hashing required by spec §4.1 and §6.1.
package chainhash

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// HashSize is the size, in bytes, of a Hash.
const HashSize = 32

// Hash is a 32-byte value, rendered as 64 lowercase hex characters at
// trust boundaries (spec §3 "Hash").
type Hash [HashSize]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalJSON renders the hash as its lowercase-hex string, matching the
// trust-boundary encoding spec §3 and §6.1 require.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON parses the lowercase-hex string form back into a Hash.
func (h *Hash) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.Errorf("invalid hash JSON literal: %s", b)
	}
	parsed, err := NewFromStr(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// NewFromStr parses a 64-character lowercase hex string into a Hash.
func NewFromStr(s string) (Hash, error) {
	var h Hash
	if !IsValidHashFormat(s) {
		return h, errors.Errorf("invalid hash format: %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrap(err, "decoding hash hex")
	}
	copy(h[:], b)
	return h, nil
}

// IsValidHashFormat reports whether s is 64 lowercase hex characters and
// does not look like an implausibly low-entropy string (spec §4.1,
// "reject strings with >60 zero nibbles").
func IsValidHashFormat(s string) bool {
	if len(s) != HashSize*2 {
		return false
	}
	zeroNibbles := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			if c == '0' {
				zeroNibbles++
			}
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return zeroNibbles <= 60
}

// Header is the canonical set of fields hashed to produce a block hash
// (spec §6.1). Implementers on both sides of the wire must encode these
// identically or blocks will fail to validate against each other.
type Header struct {
	Version      uint32
	PreviousHash Hash
	MerkleRoot   Hash
	Timestamp    uint64 // seconds since epoch
	Difficulty   uint64 // fixed-point representation
	Nonce        uint64
}

// CanonicalBytes serializes the header into the fixed-width big-endian
// byte layout spec §6.1 mandates:
// version(u32) ‖ previous_hash(32B) ‖ merkle_root(32B) ‖ timestamp(u64) ‖
// difficulty(u64) ‖ nonce(u64).
func (h Header) CanonicalBytes() []byte {
	buf := make([]byte, 4+HashSize+HashSize+8+8+8)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], h.Version)
	off += 4
	copy(buf[off:], h.PreviousHash[:])
	off += HashSize
	copy(buf[off:], h.MerkleRoot[:])
	off += HashSize
	binary.BigEndian.PutUint64(buf[off:], h.Timestamp)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.Difficulty)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.Nonce)
	return buf
}

// HashHeader computes the SHA3-256 hash of the header's canonical byte
// encoding (spec §4.1 hash_header).
func HashHeader(h Header) Hash {
	return HashBytes(h.CanonicalBytes())
}

// HashBytes computes the SHA3-256 hash of an arbitrary byte slice. Used
// both for header hashing and for merkle-tree node hashing (C2).
func HashBytes(b []byte) Hash {
	return Hash(sha3.Sum256(b))
}

// DoubleHashBytes hashes the two concatenated hashes together, the shape
// the merkle builder needs for internal nodes.
func DoubleHashBytes(a, b Hash) Hash {
	buf := make([]byte, HashSize*2)
	copy(buf[:HashSize], a[:])
	copy(buf[HashSize:], b[:])
	return HashBytes(buf)
}

// EmptyHash returns the hash of the empty byte string, used as the
// merkle root of a block with zero transactions (spec §4.2).
func EmptyHash() Hash {
	return HashBytes(nil)
}

// IsLowercaseHex reports whether every character of s is a lowercase hex
// digit. It is a small guard a decoder can run before NewFromStr, to
// produce a clearer rejection reason than a generic decode error.
func IsLowercaseHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
