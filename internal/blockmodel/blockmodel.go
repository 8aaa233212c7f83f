// Package blockmodel holds the wire-level Transaction/Block/BlockHeader
// shapes of spec §3, shared across the mempool, PoW engine and node
// packages. Field naming follows the teacher's domainmessage/mining
// conventions (OutPoint, TxIn/TxOut, TxDesc-style descriptors).
package blockmodel

import (
	"time"

	"github.com/daglabs/powvote-node/internal/chainhash"
)

// OutPoint uniquely identifies a transaction output being spent.
type OutPoint struct {
	TxID  chainhash.Hash
	Index uint32
}

// TxInput spends a previously-created output (spec §3).
type TxInput struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint64

	// Amount must equal the referenced UTXO's amount at validation time
	// (spec §3 TxInput invariant, §4.7.2 step 4).
	Amount uint64
}

// TxOutput creates a new spendable output (spec §3).
type TxOutput struct {
	Amount          uint64
	RecipientAddress string
}

// Transaction is the spec §3 transaction shape: inputs, outputs, an
// optional vote payload (quadratic voting, spec §5), and the combined
// hybrid signature over its canonical bytes.
type Transaction struct {
	Version   uint32
	Inputs    []TxInput
	Outputs   []TxOutput
	LockTime  uint64

	// Vote is non-nil when this transaction carries a quadratic-voting
	// ballot (spec §5); ordinary value transfers leave it nil.
	Vote *VotePayload

	// Signature is the combined hybrid (classical+PQ) signature produced
	// by a collab.KeyManager over CanonicalBytes().
	Signature []byte
	PublicKey []byte
}

// VotePayload is the quadratic-voting ballot spec §5 attaches to a
// transaction: a proposal identifier and the number of voting credits
// committed, whose cost is the square of the vote weight.
type VotePayload struct {
	ProposalID string
	VoteWeight int64
	Support    bool
}

// VoteCost is the quadratic cost of casting VoteWeight votes (spec §5:
// "cost grows with the square of the vote count").
func (v *VotePayload) VoteCost() int64 {
	if v == nil {
		return 0
	}
	w := v.VoteWeight
	if w < 0 {
		w = -w
	}
	return w * w
}

// ID is the transaction's canonical hash, used as its identifier
// throughout the mempool and chain store.
func (tx *Transaction) ID() chainhash.Hash {
	return chainhash.HashBytes(tx.CanonicalBytes())
}

// CanonicalBytes renders a deterministic encoding of the transaction for
// hashing and signing, excluding the signature itself.
func (tx *Transaction) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendUint32(buf, tx.Version)
	buf = appendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PreviousOutPoint.TxID[:]...)
		buf = appendUint32(buf, in.PreviousOutPoint.Index)
		buf = appendUint32(buf, uint32(len(in.SignatureScript)))
		buf = append(buf, in.SignatureScript...)
		buf = appendUint64(buf, in.Sequence)
		buf = appendUint64(buf, in.Amount)
	}
	buf = appendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = appendUint64(buf, out.Amount)
		buf = append(buf, []byte(out.RecipientAddress)...)
	}
	buf = appendUint64(buf, tx.LockTime)
	if tx.Vote != nil {
		buf = append(buf, []byte(tx.Vote.ProposalID)...)
		buf = appendUint64(buf, uint64(tx.Vote.VoteWeight))
		if tx.Vote.Support {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// IsCoinbase reports whether tx is a coinbase transaction (a single
// input with a zero previous outpoint, spec §4.8.1).
func (tx *Transaction) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	op := tx.Inputs[0].PreviousOutPoint
	return op.TxID.IsZero() && op.Index == ^uint32(0)
}

// SerializeSize approximates the transaction's on-wire byte size, used
// for fee-rate calculations (spec §4.7.3).
func (tx *Transaction) SerializeSize() int64 {
	return int64(len(tx.CanonicalBytes()) + len(tx.Signature) + len(tx.PublicKey))
}

// BlockHeader is the spec §3/§4.1 header: a type alias of
// chainhash.Header, so it is the hashed struct itself and is hashed via
// chainhash.HashHeader.
type BlockHeader = chainhash.Header

// Block pairs a header with its transaction list; the coinbase is
// conventionally transactions[0] (spec §4.8.1).
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// Hash returns the block's identifying hash (its header hash).
func (b *Block) Hash() chainhash.Hash {
	return chainhash.HashHeader(b.Header)
}

// Timestamp returns the header's timestamp, satisfying collab.Block.
func (b *Block) Timestamp() time.Time {
	return time.Unix(int64(b.Header.Timestamp), 0)
}

// Height satisfies collab.Block; height is tracked externally by the
// chain store and attached here by callers that already know it.
type HeightTaggedBlock struct {
	*Block
	BlockHeight uint64
}

func (h *HeightTaggedBlock) Height() uint64 { return h.BlockHeight }

// TxDesc mirrors the teacher's mining.TxDesc: a mempool entry plus the
// bookkeeping the PoW engine's block-template builder needs.
type TxDesc struct {
	Tx      *Transaction
	Added   time.Time
	Fee     uint64
	FeeRate float64 // fee per byte, spec §4.7.3's bucketing key
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
