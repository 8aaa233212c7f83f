// Package collab declares the collaborator contracts spec §6.3 places
// out of scope for this module's own implementation: the UTXO store,
// chain store, audit sink, metrics sink and key manager the mempool and
// PoW engine consume but do not own.
package collab

import (
	"context"
	"time"

	"github.com/daglabs/powvote-node/internal/chainhash"
)

// OutPoint uniquely names a UTXO (spec §3).
type OutPoint struct {
	PrevTxHash chainhash.Hash
	OutIndex   uint32
}

// UTXO is the referenced-output view the mempool and PoW engine need
// from the UTXO store.
type UTXO struct {
	Amount uint64
	Spent  bool
	Height uint64
	Address string
}

// UTXOStore is the linearizable-for-admission collaborator contract of
// spec §6.3.
type UTXOStore interface {
	Get(ctx context.Context, txID chainhash.Hash, idx uint32) (UTXO, bool, error)
	MarkSpent(ctx context.Context, op OutPoint) error
	FindUTXOsForVoting(ctx context.Context, address string) ([]UTXO, error)
	CalculateVotingPower(ctx context.Context, utxos []UTXO) (*VotingPower, error)
}

// VotingPower is a big-ish integer (spec says u128); modeled as a pair
// of uint64 halves to avoid pulling in a bignum type for a quantity
// that's opaque to everything except the quadratic-voting gate.
type VotingPower struct {
	Hi, Lo uint64
}

// Block is the minimal block shape the chain store contract exchanges.
// The full Block type lives in package blockmodel; this is intentionally
// duplicated-by-reference (not embedded) so collab stays free of a
// dependency on the node's internal block representation.
type Block interface {
	Hash() chainhash.Hash
	Height() uint64
	Timestamp() time.Time
}

// ChainStore is the collaborator contract for persisted chain state
// (spec §6.3). Production persistence/on-disk layout is explicitly out
// of scope (spec §1); this is the seam a real implementation plugs in.
type ChainStore interface {
	GetBlockByHeight(ctx context.Context, height uint64) (Block, bool, error)
	GetCurrentHeight(ctx context.Context) (uint64, error)
	SaveBlock(ctx context.Context, block Block) error
	HasTransaction(ctx context.Context, id chainhash.Hash) (bool, error)
	GetValidators(ctx context.Context) ([]string, error)
	UpdateDifficulty(ctx context.Context, tipHash chainhash.Hash, difficulty float64) error
}

// AuditSink records rejection reasons and admission events verbatim
// (spec §4.7.2 step 10, §7 "exposed verbatim to submitters"). It must
// tolerate back-pressure without blocking the caller.
type AuditSink interface {
	Log(eventType string, payload map[string]interface{})
}

// MetricsSink is the non-blocking counters/gauges/histograms contract.
type MetricsSink interface {
	CounterInc(name string, labels map[string]string)
	GaugeSet(name string, value float64, labels map[string]string)
	HistogramObserve(name string, value float64, labels map[string]string)
}

// KeyManager is the hybrid (classical + post-quantum) signing contract
// spec §9 calls for. DeriveAddress/AddressToHash let the mempool and PoW
// engine translate between public keys and the address strings carried
// on transactions and coinbase payouts.
type KeyManager interface {
	DeriveAddress(pubKey []byte) (string, error)
	AddressToHash(address string) ([]byte, error)
	Sign(message []byte) (signature []byte, err error)
	Verify(pubKey, message, signature []byte) bool
	// ProofOfPersonhood validates the per-address PoW contribution the
	// quadratic-voting and POW_REWARD gates require (spec §9: the
	// contract is kept address-first, not header-first, "as-is").
	ProofOfPersonhood(address string, difficulty float64) bool
}

// NopAuditSink discards every event; useful for tests and as a safe
// default so admission never blocks on a missing sink.
type NopAuditSink struct{}

func (NopAuditSink) Log(string, map[string]interface{}) {}

// NopMetricsSink discards every observation.
type NopMetricsSink struct{}

func (NopMetricsSink) CounterInc(string, map[string]string)            {}
func (NopMetricsSink) GaugeSet(string, float64, map[string]string)     {}
func (NopMetricsSink) HistogramObserve(string, float64, map[string]string) {}
