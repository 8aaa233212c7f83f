// Package mempool implements the pending-transaction pool of spec §4.7:
// admission, fee-rate buckets, replace-by-fee, ancestor/descendant
// bounds, dynamic minimum fee under congestion, and introspection.
//
// The entry/ancestry bookkeeping follows the shape of the teacher's
// domain/mempool/mempool.go (pool/depends/dependsByPrev/outpoints maps,
// staged maybeAcceptTransaction pipeline) and
// domain/miningmanager/mempool/transactions_pool.go (fee-ordered
// selection, expiry sweep); the fee-bucket/dynamic-fee/RBF layers are
// this module's own, grounded in the same files' general maintenance-
// tick and double-spend-check patterns.
package mempool

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/daglabs/powvote-node/internal/blockmodel"
	"github.com/daglabs/powvote-node/internal/chainhash"
	"github.com/daglabs/powvote-node/internal/collab"
	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/nodeerr"
	"github.com/daglabs/powvote-node/internal/panics"
)

var log = logger.Get(logger.SubsystemTags.MPOL)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	// MaxSize is the maximum number of transactions held (spec §4.7.1).
	MaxSize = 50000
	// MaxMemoryUsage bounds total serialized bytes (spec §4.7.1).
	MaxMemoryUsage = 300 * 1024 * 1024
	// MaxAncestors / MaxDescendants bound ancestry chains (spec §4.7.1).
	MaxAncestors   = 25
	MaxDescendants = 25
	// MaxAge is how long an entry survives before expiry (spec §4.7.5).
	MaxAge = 72 * time.Hour
	// RBFIncrement is the multiplier a replacement's fee rate must clear
	// over the summed fee rate of everything it conflicts with (spec
	// §4.7.2 step 6).
	RBFIncrement = 1.10
	// HighCongestionThreshold gates the dynamic-fee requirement on top of
	// the static floor (spec §4.7.2 step 8).
	HighCongestionThreshold = 0.75
	// CleanupInterval is the maintenance tick period (spec §4.7.5).
	CleanupInterval = 10 * time.Second
	// AdmissionMutexTimeout bounds how long a caller waits for the
	// per-tx-id admission mutex (spec §4.7.2, "30s timeout").
	AdmissionMutexTimeout = 30 * time.Second

	minBucketSize   = 5
	maxBucketCount  = 1000
	bucketTolerance = 1e-5
	feeRoundPlaces  = 5
)

// Config wires in the collaborators and policy knobs the mempool needs.
type Config struct {
	UTXOStore   collab.UTXOStore
	ChainStore  collab.ChainStore
	AuditSink   collab.AuditSink
	MetricsSink collab.MetricsSink
	KeyManager  collab.KeyManager

	MaxTxSize     int64
	BaseMinFee    float64 // MIN_FEE_RATE
	NetworkHealthy func() bool
}

// Entry is the internal MempoolEntry of spec §3: a transaction plus
// derived fee-rate, ancestry and admission-time bookkeeping. Mempool
// exclusively owns entries.
type Entry struct {
	Tx          *blockmodel.Transaction
	ID          chainhash.Hash
	Fee         uint64
	VSize       int64
	FeeRate     float64
	Ancestors   map[chainhash.Hash]struct{}
	Descendants map[chainhash.Hash]struct{}
	AdmittedAt  time.Time
}

// feeBucket groups tx ids whose fee rate rounds to the same value
// (spec §4.7.3).
type feeBucket struct {
	rate float64
	ids  map[chainhash.Hash]struct{}
}

// Mempool is the pending-transaction pool.
type Mempool struct {
	cfg Config

	mu      sync.RWMutex
	entries map[chainhash.Hash]*Entry
	byPrev  map[blockmodel.OutPoint]chainhash.Hash // outpoint -> spender tx id, double-spend index
	buckets []*feeBucket

	totalBytes int64
	lastValidFee float64

	orphans map[chainhash.Hash]*blockmodel.Transaction

	idMutexes   map[chainhash.Hash]chan struct{}
	idMutexesMu sync.Mutex

	stopCh chan struct{}
}

// New constructs an empty Mempool and starts its maintenance loop.
func New(cfg Config) *Mempool {
	if cfg.BaseMinFee <= 0 {
		cfg.BaseMinFee = 1
	}
	if cfg.NetworkHealthy == nil {
		cfg.NetworkHealthy = func() bool { return true }
	}
	m := &Mempool{
		cfg:         cfg,
		entries:     make(map[chainhash.Hash]*Entry),
		byPrev:      make(map[blockmodel.OutPoint]chainhash.Hash),
		orphans:     make(map[chainhash.Hash]*blockmodel.Transaction),
		idMutexes:   make(map[chainhash.Hash]chan struct{}),
		lastValidFee: cfg.BaseMinFee,
		stopCh:      make(chan struct{}),
	}
	spawn("mempool-maintenance", m.maintenanceLoop)
	return m
}

// Close stops the maintenance loop.
func (m *Mempool) Close() {
	close(m.stopCh)
}

// RejectReason carries the specific admission-pipeline step a
// transaction failed at (spec §4.7.2, "the specific failure is
// recorded").
type RejectReason string

const (
	RejectNetworkUnhealthy RejectReason = "network_unhealthy"
	RejectStructural       RejectReason = "structural_validation"
	RejectFeeTooLow        RejectReason = "fee_too_low"
	RejectUTXOMissing      RejectReason = "utxo_missing"
	RejectUTXOSpent        RejectReason = "utxo_spent"
	RejectAmountMismatch   RejectReason = "amount_mismatch"
	RejectInvalidSignature RejectReason = "invalid_signature"
	RejectSelfDoubleSpend  RejectReason = "self_double_spend"
	RejectTypeGate         RejectReason = "type_specific_gate"
	RejectRBFInsufficient  RejectReason = "rbf_fee_insufficient"
	RejectAncestryBound    RejectReason = "ancestry_bound"
	RejectCongestion       RejectReason = "congestion_fee_floor"
	RejectFull             RejectReason = "mempool_full"
)

// AdmitResult reports the outcome of Admit.
type AdmitResult struct {
	Accepted bool
	Reason   RejectReason
	Evicted  []chainhash.Hash
}

// Admit runs the full admission pipeline of spec §4.7.2 for tx, under a
// per-tx-id mutex bounded by AdmissionMutexTimeout.
func (m *Mempool) Admit(ctx context.Context, tx *blockmodel.Transaction) (AdmitResult, error) {
	id := tx.ID()

	unlock, ok := m.lockTxID(ctx, id)
	if !ok {
		return AdmitResult{}, nodeerr.New(nodeerr.KindTimedOut, "admission mutex acquisition timed out")
	}
	defer unlock()

	result, reason := m.admitLocked(ctx, tx, id)
	m.auditAdmission(id, result, reason)
	return result, nil
}

func (m *Mempool) admitLocked(ctx context.Context, tx *blockmodel.Transaction, id chainhash.Hash) (AdmitResult, RejectReason) {
	// 1. Network-health gate.
	if !m.cfg.NetworkHealthy() {
		return AdmitResult{Reason: RejectNetworkUnhealthy}, RejectNetworkUnhealthy
	}

	// 2. Structural validation.
	if reason, ok := m.validateStructure(tx); !ok {
		return AdmitResult{Reason: reason}, reason
	}

	// Signature validation (spec §4.7.2 step 3/§4.8.2 step 3): the
	// combined hybrid signature must verify over the tx's canonical
	// bytes before any economic checks run.
	if reason, ok := m.validateSignature(tx); !ok {
		return AdmitResult{Reason: reason}, reason
	}

	vsize := tx.SerializeSize()
	minFee := m.dynamicMinFee()

	// 4. UTXO validation (computes the real fee from resolved input
	// amounts; ordered ahead of the size-vs-fee gate below since that
	// gate needs the fee this step derives).
	fee, reason, ok := m.validateUTXOs(ctx, tx)
	if !ok {
		return AdmitResult{Reason: reason}, reason
	}

	// 3. Size vs fee.
	if float64(fee) < float64(vsize)*m.cfg.BaseMinFee {
		return AdmitResult{Reason: RejectFeeTooLow}, RejectFeeTooLow
	}

	// 5. Type-specific gate.
	if reason, ok := m.validateTypeGate(ctx, tx); !ok {
		return AdmitResult{Reason: reason}, reason
	}

	feeRate := float64(fee) / math.Max(1, float64(vsize))

	m.mu.Lock()
	defer m.mu.Unlock()

	// 6. RBF arbitration.
	conflicts := m.conflictsLocked(tx)
	var evicted []chainhash.Hash
	if len(conflicts) > 0 {
		var conflictFeeRateSum float64
		for _, c := range conflicts {
			conflictFeeRateSum += c.FeeRate
		}
		if feeRate <= RBFIncrement*conflictFeeRateSum {
			return AdmitResult{Reason: RejectRBFInsufficient}, RejectRBFInsufficient
		}
		for _, c := range conflicts {
			evicted = append(evicted, c.ID)
			m.removeLocked(c.ID)
		}
	}

	// 7. Ancestry check.
	ancestors := m.ancestorsOfLocked(tx)
	if len(ancestors) > MaxAncestors {
		return AdmitResult{Reason: RejectAncestryBound}, RejectAncestryBound
	}
	for a := range ancestors {
		if parent, ok := m.entries[a]; ok && len(parent.Descendants)+1 > MaxDescendants {
			return AdmitResult{Reason: RejectAncestryBound}, RejectAncestryBound
		}
	}

	// 8. Congestion gate.
	occupancy := float64(len(m.entries)) / float64(MaxSize)
	if occupancy > HighCongestionThreshold && feeRate < minFee {
		return AdmitResult{Reason: RejectCongestion}, RejectCongestion
	}

	if len(m.entries) >= MaxSize || m.totalBytes+vsize > MaxMemoryUsage {
		return AdmitResult{Reason: RejectFull}, RejectFull
	}

	// 9. Insert.
	entry := &Entry{
		Tx:          tx,
		ID:          id,
		Fee:         fee,
		VSize:       vsize,
		FeeRate:     feeRate,
		Ancestors:   ancestors,
		Descendants: make(map[chainhash.Hash]struct{}),
		AdmittedAt:  time.Now(),
	}
	m.insertLocked(entry)
	m.lastValidFee = feeRate

	return AdmitResult{Accepted: true, Evicted: evicted}, ""
}

func (m *Mempool) validateStructure(tx *blockmodel.Transaction) (RejectReason, bool) {
	if tx == nil {
		return RejectStructural, false
	}
	if len(tx.Inputs) == 0 && !tx.IsCoinbase() {
		return RejectStructural, false
	}
	if len(tx.Inputs) > 1500 || len(tx.Outputs) == 0 || len(tx.Outputs) > 1500 {
		return RejectStructural, false
	}
	if m.cfg.MaxTxSize > 0 && tx.SerializeSize() > m.cfg.MaxTxSize {
		return RejectStructural, false
	}
	seen := make(map[blockmodel.OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in.PreviousOutPoint]; dup {
			return RejectSelfDoubleSpend, false
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}
	// Timestamp admission window (spec §4.7.2 step 2, "[now-2h, now+15min]")
	// is enforced by the caller's wire-message timestamp, which the
	// Transaction type itself doesn't carry; the admission envelope
	// checks it before Admit is ever called.
	return "", true
}

// validateUTXOs checks each input against the UTXO store (spec §4.7.2
// step 4) and computes the real fee from resolved input amounts (spec
// §3: fee = sum(inputs) - sum(outputs)).
func (m *Mempool) validateUTXOs(ctx context.Context, tx *blockmodel.Transaction) (uint64, RejectReason, bool) {
	var totalOut uint64
	for _, o := range tx.Outputs {
		totalOut += o.Amount
	}
	if tx.IsCoinbase() {
		return 0, "", true
	}
	if m.cfg.UTXOStore == nil {
		return 0, "", true
	}
	var totalIn uint64
	for _, in := range tx.Inputs {
		utxo, ok, err := m.cfg.UTXOStore.Get(ctx, in.PreviousOutPoint.TxID, in.PreviousOutPoint.Index)
		if err != nil || !ok {
			return 0, RejectUTXOMissing, false
		}
		if utxo.Spent {
			return 0, RejectUTXOSpent, false
		}
		if in.Amount != utxo.Amount {
			return 0, RejectAmountMismatch, false
		}
		// Whether this input's outpoint already has a spender in the pool
		// is the RBF arbitration step's concern (step 6 below), not this
		// one: rejecting it here would make replace-by-fee unreachable.
		totalIn += utxo.Amount
	}
	if totalIn < totalOut {
		return 0, RejectFeeTooLow, false
	}
	return totalIn - totalOut, "", true
}

// validateSignature checks the combined hybrid signature against the
// transaction's canonical bytes (spec §4.7.2 step 3). Coinbase
// transactions carry no signature to check.
func (m *Mempool) validateSignature(tx *blockmodel.Transaction) (RejectReason, bool) {
	if tx.IsCoinbase() || m.cfg.KeyManager == nil {
		return "", true
	}
	if !m.cfg.KeyManager.Verify(tx.PublicKey, tx.CanonicalBytes(), tx.Signature) {
		return RejectInvalidSignature, false
	}
	return "", true
}

func (m *Mempool) validateTypeGate(ctx context.Context, tx *blockmodel.Transaction) (RejectReason, bool) {
	if tx.Vote == nil {
		return "", true
	}
	if m.cfg.KeyManager == nil {
		return "", true
	}
	sender, err := m.cfg.KeyManager.DeriveAddress(tx.PublicKey)
	if err != nil || sender == "" {
		return RejectTypeGate, false
	}
	if !m.cfg.KeyManager.ProofOfPersonhood(sender, 1.0) {
		return RejectTypeGate, false
	}
	return "", true
}

func (m *Mempool) conflictsLocked(tx *blockmodel.Transaction) []*Entry {
	seen := make(map[chainhash.Hash]struct{})
	var out []*Entry
	for _, in := range tx.Inputs {
		if spenderID, ok := m.byPrev[in.PreviousOutPoint]; ok {
			if _, dup := seen[spenderID]; dup {
				continue
			}
			seen[spenderID] = struct{}{}
			if e, ok := m.entries[spenderID]; ok {
				out = append(out, e)
			}
		}
	}
	return out
}

func (m *Mempool) ancestorsOfLocked(tx *blockmodel.Transaction) map[chainhash.Hash]struct{} {
	ancestors := make(map[chainhash.Hash]struct{})
	for _, in := range tx.Inputs {
		if parent, ok := m.entries[in.PreviousOutPoint.TxID]; ok {
			ancestors[parent.ID] = struct{}{}
			for a := range parent.Ancestors {
				ancestors[a] = struct{}{}
			}
		}
	}
	return ancestors
}

func (m *Mempool) insertLocked(entry *Entry) {
	m.entries[entry.ID] = entry
	for _, in := range entry.Tx.Inputs {
		m.byPrev[in.PreviousOutPoint] = entry.ID
	}
	for a := range entry.Ancestors {
		if parent, ok := m.entries[a]; ok {
			parent.Descendants[entry.ID] = struct{}{}
		}
	}
	m.totalBytes += entry.VSize
	m.addToBucketLocked(entry)
}

func (m *Mempool) removeLocked(id chainhash.Hash) {
	entry, ok := m.entries[id]
	if !ok {
		return
	}
	delete(m.entries, id)
	for _, in := range entry.Tx.Inputs {
		delete(m.byPrev, in.PreviousOutPoint)
	}
	for a := range entry.Ancestors {
		if parent, ok := m.entries[a]; ok {
			delete(parent.Descendants, id)
		}
	}
	m.totalBytes -= entry.VSize
	m.removeFromBucketsLocked(id)
}

// Remove evicts tx from the pool (inclusion-in-block, external eviction).
func (m *Mempool) Remove(id chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	m.releaseTxIDMutex(id)
}

func (m *Mempool) auditAdmission(id chainhash.Hash, result AdmitResult, reason RejectReason) {
	if m.cfg.AuditSink == nil {
		return
	}
	payload := map[string]interface{}{"tx_id": id.String(), "accepted": result.Accepted}
	if reason != "" {
		payload["reason"] = string(reason)
	}
	m.cfg.AuditSink.Log("mempool_admission", payload)
	if m.cfg.MetricsSink != nil {
		labels := map[string]string{"accepted": boolLabel(result.Accepted)}
		m.cfg.MetricsSink.CounterInc("mempool_admissions_total", labels)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// lockTxID leases the per-tx-id admission slot, implemented as a
// capacity-1 token channel rather than a sync.Mutex: a timed-out or
// cancelled waiter simply never receives the token, leaving it in the
// channel for the next caller instead of leaking a goroutine stuck
// forever on Lock() with no one left to unlock it.
func (m *Mempool) lockTxID(ctx context.Context, id chainhash.Hash) (func(), bool) {
	m.idMutexesMu.Lock()
	ch, ok := m.idMutexes[id]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		m.idMutexes[id] = ch
	}
	m.idMutexesMu.Unlock()

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	case <-time.After(AdmissionMutexTimeout):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (m *Mempool) releaseTxIDMutex(id chainhash.Hash) {
	m.idMutexesMu.Lock()
	defer m.idMutexesMu.Unlock()
	delete(m.idMutexes, id)
}

// addToBucketLocked places entry into the fee bucket matching its rate
// within bucketTolerance, creating one if needed (spec §4.7.3
// find_bucket).
func (m *Mempool) addToBucketLocked(entry *Entry) {
	rate := roundFee(entry.FeeRate)
	for _, b := range m.buckets {
		if math.Abs(b.rate-rate) < bucketTolerance {
			b.ids[entry.ID] = struct{}{}
			return
		}
	}
	m.buckets = append(m.buckets, &feeBucket{rate: rate, ids: map[chainhash.Hash]struct{}{entry.ID: {}}})
}

func (m *Mempool) removeFromBucketsLocked(id chainhash.Hash) {
	for _, b := range m.buckets {
		delete(b.ids, id)
	}
}

func roundFee(v float64) float64 {
	p := math.Pow(10, feeRoundPlaces)
	return math.Round(v*p) / p
}

// compactBucketsLocked removes empty buckets and merges undersized ones
// into their next-higher-rate neighbor (spec §4.7.3 cleanup).
func (m *Mempool) compactBucketsLocked() {
	nonEmpty := m.buckets[:0]
	for _, b := range m.buckets {
		if len(b.ids) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	m.buckets = nonEmpty

	if len(m.buckets) <= maxBucketCount {
		return
	}
	sort.Slice(m.buckets, func(i, j int) bool { return m.buckets[i].rate < m.buckets[j].rate })
	for i := 0; i < len(m.buckets)-1; i++ {
		if len(m.buckets[i].ids) < minBucketSize {
			next := m.buckets[i+1]
			for id := range m.buckets[i].ids {
				next.ids[id] = struct{}{}
			}
			m.buckets[i].ids = nil
		}
	}
	compacted := m.buckets[:0]
	for _, b := range m.buckets {
		if len(b.ids) > 0 {
			compacted = append(compacted, b)
		}
	}
	m.buckets = compacted
}

// dynamicMinFee implements the congestion-scaled fee floor of spec
// §4.7.4.
func (m *Mempool) dynamicMinFee() float64 {
	m.mu.RLock()
	congestion := float64(len(m.entries)) / float64(MaxSize)
	lastValid := m.lastValidFee
	m.mu.RUnlock()

	base := m.cfg.BaseMinFee
	multiplier := feeMultiplier(congestion)
	fee := base * multiplier
	ceiling := 20 * base
	if fee > ceiling {
		fee = ceiling
	}
	if fee <= 0 || math.IsNaN(fee) {
		fallback := base * 2
		if lastValid > fallback {
			fallback = lastValid
		}
		if base > fallback {
			fallback = base
		}
		return fallback
	}
	return fee
}

func feeMultiplier(c float64) float64 {
	switch {
	case c <= 0.5:
		return 1.0
	case c <= 0.75:
		return 1 + (c-0.5)*2
	case c <= 0.90:
		return 1.5 + (c-0.75)*(c-0.75)*8
	default:
		return 4 + (c-0.9)*(c-0.9)*16
	}
}

// maintenanceLoop runs the periodic sweep of spec §4.7.5.
func (m *Mempool) maintenanceLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runMaintenance()
		}
	}
}

func (m *Mempool) runMaintenance() {
	m.mu.Lock()
	now := time.Now()
	var expired []chainhash.Hash
	for id, entry := range m.entries {
		if now.Sub(entry.AdmittedAt) > MaxAge {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeLocked(id)
	}
	m.compactBucketsLocked()
	m.mu.Unlock()

	for _, id := range expired {
		m.releaseTxIDMutex(id)
	}
	if len(expired) > 0 {
		log.Debugf("mempool maintenance expired %d transactions", len(expired))
	}
}

// Health mirrors spec §4.7.6's health enum.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

// Info is the introspection summary of spec §4.7.6.
type Info struct {
	Size        int
	Bytes       int64
	LoadFactor  float64
	FeeMean     float64
	FeeMedian   float64
	FeeMin      float64
	FeeMax      float64
	Health      Health
	IsAccepting bool
}

// Info returns the current mempool summary.
func (m *Mempool) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loadFactor := float64(len(m.entries)) / float64(MaxSize)
	memFactor := float64(m.totalBytes) / float64(MaxMemoryUsage)

	rates := make([]float64, 0, len(m.entries))
	for _, e := range m.entries {
		rates = append(rates, e.FeeRate)
	}
	sort.Float64s(rates)

	info := Info{
		Size:       len(m.entries),
		Bytes:      m.totalBytes,
		LoadFactor: loadFactor,
	}
	if len(rates) > 0 {
		var sum float64
		for _, r := range rates {
			sum += r
		}
		info.FeeMean = sum / float64(len(rates))
		info.FeeMedian = rates[len(rates)/2]
		info.FeeMin = rates[0]
		info.FeeMax = rates[len(rates)-1]
	}

	switch {
	case loadFactor > 0.9 || memFactor > 0.9:
		info.Health = HealthCritical
	case loadFactor > 0.7:
		info.Health = HealthDegraded
	default:
		info.Health = HealthHealthy
	}
	info.IsAccepting = info.Health != HealthCritical
	return info
}

// RawEntry is one row of RawMempool's verbose output (spec §4.7.6).
type RawEntry struct {
	Fee               uint64
	VSize             int64
	Weight            int64
	Time              time.Time
	AncestorCount     int
	DescendantCount   int
	Depends           []chainhash.Hash
}

// RawMempool returns the full per-tx introspection map (spec §4.7.6).
func (m *Mempool) RawMempool() map[chainhash.Hash]RawEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[chainhash.Hash]RawEntry, len(m.entries))
	for id, e := range m.entries {
		depends := make([]chainhash.Hash, 0, len(e.Tx.Inputs))
		for _, in := range e.Tx.Inputs {
			if _, ok := m.entries[in.PreviousOutPoint.TxID]; ok {
				depends = append(depends, in.PreviousOutPoint.TxID)
			}
		}
		out[id] = RawEntry{
			Fee:             e.Fee,
			VSize:           e.VSize,
			Weight:          3*e.VSize + e.VSize,
			Time:            e.AdmittedAt,
			AncestorCount:   len(e.Ancestors),
			DescendantCount: len(e.Descendants),
			Depends:         depends,
		}
	}
	return out
}

// MiningDescs returns mining-ready descriptors sorted by fee rate
// descending, mirroring the teacher's TxSource.MiningDescs /
// transactionsPool.allReadyTransactions contract, for the PoW engine's
// template selection (spec §4.8.2). Ordering is drained from a
// txPriorityQueue rather than a one-shot sort, the way the teacher's
// mining.go builds its block template off a heap of txPrioItem.
func (m *Mempool) MiningDescs() []*blockmodel.TxDesc {
	m.mu.RLock()
	pq := newTxPriorityQueue(len(m.entries))
	for _, e := range m.entries {
		desc := &blockmodel.TxDesc{
			Tx:      e.Tx,
			Added:   e.AdmittedAt,
			Fee:     e.Fee,
			FeeRate: e.FeeRate,
		}
		heap.Push(pq, &txDescItem{desc: desc, feeRate: e.FeeRate})
	}
	m.mu.RUnlock()

	out := make([]*blockmodel.TxDesc, 0, pq.Len())
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*txDescItem)
		out = append(out, item.desc)
	}
	return out
}

// HaveTransaction reports whether id is currently in the pool.
func (m *Mempool) HaveTransaction(id chainhash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// AddOrphan stores a transaction whose parent isn't yet known, bounded
// by maxOrphans (spec GLOSSARY "Orphan block/tx").
func (m *Mempool) AddOrphan(tx *blockmodel.Transaction, maxOrphans int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.orphans) >= maxOrphans {
		return
	}
	m.orphans[tx.ID()] = tx
}

// RemoveOrphan discards a previously-orphaned transaction.
func (m *Mempool) RemoveOrphan(id chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orphans, id)
}

// ProcessOrphans re-attempts admission of any orphan now unblocked by
// the arrival of id's transaction, mirroring the teacher's
// ProcessOrphans sweep.
func (m *Mempool) ProcessOrphans(ctx context.Context, id chainhash.Hash) []AdmitResult {
	m.mu.Lock()
	candidates := make([]*blockmodel.Transaction, 0)
	for _, tx := range m.orphans {
		for _, in := range tx.Inputs {
			if in.PreviousOutPoint.TxID == id {
				candidates = append(candidates, tx)
				break
			}
		}
	}
	m.mu.Unlock()

	var results []AdmitResult
	for _, tx := range candidates {
		res, err := m.Admit(ctx, tx)
		if err == nil && res.Accepted {
			m.RemoveOrphan(tx.ID())
		}
		results = append(results, res)
	}
	return results
}
