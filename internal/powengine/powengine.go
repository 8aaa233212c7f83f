// Package powengine implements the PoW Engine (C8): block-template
// construction (spec §4.8.1-2), the mining loop (§4.8.3), which searches
// on the worker pool's parallel CPU workers only (there is no GPU or
// single-CPU fallback strategy), block validation (§4.8.4), submission
// (§4.8.5) and inflight tracking (§4.8.6).
//
// Template construction follows the shape of the teacher's
// domain/mining.BlkTmplGenerator.NewBlockTemplate (snapshot source,
// greedy-select, prepend coinbase); the mining loop's hash-rate counter
// and per-nonce loop follow cmd/kaspaminer/mineloop.go's hashesTried
// atomic counter and logHashRate ticker.
package powengine

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/daglabs/powvote-node/internal/blockmodel"
	"github.com/daglabs/powvote-node/internal/chainhash"
	"github.com/daglabs/powvote-node/internal/collab"
	"github.com/daglabs/powvote-node/internal/difficulty"
	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/mempool"
	"github.com/daglabs/powvote-node/internal/merkle"
	"github.com/daglabs/powvote-node/internal/nodeerr"
	"github.com/daglabs/powvote-node/internal/panics"
	"github.com/daglabs/powvote-node/internal/powtarget"
	"github.com/daglabs/powvote-node/internal/workerpool"
)

var log = logger.Get(logger.SubsystemTags.POWE)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	// MaxTimeDrift bounds how far a template-selected tx's timestamp may
	// be from now (spec §4.8.2 step 3).
	MaxTimeDrift = 2 * time.Hour
	// StructureUpdateAge forces a template rebuild if the header's
	// timestamp has gone this stale (spec §4.8.3).
	StructureUpdateAge = 10 * time.Second
	// MaxFailures aborts mining after this many consecutive Fatal errors
	// (spec §4.8.3, §7).
	MaxFailures = 5
	// MaxBlocksInFlight bounds the inflight map (spec §3 InflightBlock).
	MaxBlocksInFlight = 16
	// MaxRetryAttempts bounds inflight retry before giving up (spec §4.8.6).
	MaxRetryAttempts = 3
	// BlockTimeoutBase scales with attempts (spec §4.8.6).
	BlockTimeoutBase = 60 * time.Second

	CurrentVersion = 1
	MinVersion     = 1
	MaxVersion     = 1

	logHashRateInterval = 10 * time.Second
)

// RewardSchedule computes the coinbase reward for a given height. A real
// deployment supplies a halving schedule; tests can stub a constant.
type RewardSchedule func(height uint64) uint64

// Engine owns the worker pool, mempool source, and inflight/template
// bookkeeping for mining and validating blocks.
type Engine struct {
	mp          *mempool.Mempool
	chainStore  collab.ChainStore
	metrics     collab.MetricsSink
	audit       collab.AuditSink
	keyManager  collab.KeyManager
	pool        *workerpool.Pool
	workerCount int
	reward      RewardSchedule
	targetBlockTimeSeconds float64

	hashesTried uint64

	mu                 sync.Mutex
	templates          map[chainhash.Hash]*BlockTemplate // keyed by hash(template)
	inflight           map[uint64]*InflightBlock
	failures           int
	currentDifficulty  float64
	lastRetargetHeight uint64
}

// BlockTemplate is the spec §4.8.1 template shape.
type BlockTemplate struct {
	Version      uint32
	Height       uint64
	PreviousHash chainhash.Hash
	Timestamp    time.Time
	Difficulty   float64
	Transactions []*blockmodel.Transaction
	MerkleRoot   chainhash.Hash
	Target       *big.Int
	MinTime      time.Time
	MaxTime      time.Time
}

// Hash identifies a template for caching (spec §4.8.1, "cached keyed by
// hash(template)").
func (t *BlockTemplate) Hash() chainhash.Hash {
	leaves := make([]chainhash.Hash, 0, len(t.Transactions))
	for _, tx := range t.Transactions {
		leaves = append(leaves, tx.ID())
	}
	h := chainhash.Header{
		Version:      t.Version,
		PreviousHash: t.PreviousHash,
		MerkleRoot:   merkle.BuildRoot(leaves),
		Timestamp:    uint64(t.Timestamp.Unix()),
		Nonce:        0,
	}
	return chainhash.HashHeader(h)
}

// InflightBlock tracks a block the engine is actively solving (spec §3).
// AttemptID correlates an inflight row with its audit trail across
// retries the way the mempool correlates admission events by tx id.
type InflightBlock struct {
	Height    uint64
	Hash      chainhash.Hash
	StartedAt time.Time
	Attempts  int
	AttemptID string
	Timer     *time.Timer
}

// New constructs a PoW Engine.
func New(mp *mempool.Mempool, chainStore collab.ChainStore, metrics collab.MetricsSink, audit collab.AuditSink, keyManager collab.KeyManager, workers int, reward RewardSchedule, targetBlockTimeSeconds float64) *Engine {
	if reward == nil {
		reward = func(uint64) uint64 { return 0 }
	}
	if workers <= 0 {
		workers = 1
	}
	e := &Engine{
		mp:         mp,
		chainStore: chainStore,
		metrics:    metrics,
		audit:      audit,
		keyManager: keyManager,
		pool:       workerpool.New(workers),
		workerCount: workers,
		reward:     reward,
		targetBlockTimeSeconds: targetBlockTimeSeconds,
		templates:  make(map[chainhash.Hash]*BlockTemplate),
		inflight:   make(map[uint64]*InflightBlock),
		currentDifficulty: difficulty.InitialDifficulty,
	}
	spawn("powengine-hashrate-log", e.logHashRateLoop)
	return e
}

// Close releases the worker pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// GetBlockTemplate builds a new template atop the current chain tip
// (spec §4.8.1-2).
func (e *Engine) GetBlockTemplate(ctx context.Context, minerAddress string) (*BlockTemplate, error) {
	height, err := e.chainStore.GetCurrentHeight(ctx)
	if err != nil {
		return nil, nodeerr.Wrap(nodeerr.KindTransient, "fetching current height", err)
	}
	prevBlock, ok, err := e.chainStore.GetBlockByHeight(ctx, height)
	if err != nil {
		return nil, nodeerr.Wrap(nodeerr.KindTransient, "fetching tip block", err)
	}
	var prevHash chainhash.Hash
	var minTime time.Time
	if ok {
		prevHash = prevBlock.Hash()
		minTime = prevBlock.Timestamp()
	}

	selected := e.selectTransactions(ctx)

	coinbase := e.buildCoinbase(height+1, minerAddress)
	txs := append([]*blockmodel.Transaction{coinbase}, selected...)

	leaves := make([]chainhash.Hash, 0, len(txs))
	for _, tx := range txs {
		leaves = append(leaves, tx.ID())
	}
	root := merkle.BuildRoot(leaves)

	diff := e.difficultyForHeight(ctx, height)
	target, err := powtarget.FromDifficulty(diff)
	if err != nil {
		return nil, nodeerr.Wrap(nodeerr.KindFatal, "computing target from difficulty", err)
	}

	now := time.Now()
	tmpl := &BlockTemplate{
		Version:      CurrentVersion,
		Height:       height + 1,
		PreviousHash: prevHash,
		Timestamp:    now,
		Difficulty:   diff,
		Transactions: txs,
		MerkleRoot:   root,
		Target:       target,
		MinTime:      minTime,
		MaxTime:      now.Add(2 * time.Hour),
	}

	e.mu.Lock()
	e.templates[tmpl.Hash()] = tmpl
	e.mu.Unlock()

	return tmpl, nil
}

// difficultyForHeight returns the difficulty that applies to the block
// built atop tip height, retargeting every difficulty.AdjustmentInterval
// blocks from the chain store's recorded history (spec §4.4). A boundary
// is retargeted at most once: lastRetargetHeight guards against
// recomputing from an already-adjusted difficulty when called more than
// once for the same boundary (e.g. once building our own template, once
// validating someone else's block at that height).
func (e *Engine) difficultyForHeight(ctx context.Context, tipHeight uint64) float64 {
	e.mu.Lock()
	diff := e.currentDifficulty
	lastRetarget := e.lastRetargetHeight
	e.mu.Unlock()

	interval := uint64(difficulty.AdjustmentInterval)
	nextHeight := tipHeight + 1
	if nextHeight%interval != 0 || nextHeight <= lastRetarget || tipHeight < interval {
		return diff
	}

	tip, ok, err := e.chainStore.GetBlockByHeight(ctx, tipHeight)
	if err != nil || !ok {
		return diff
	}
	prior, ok, err := e.chainStore.GetBlockByHeight(ctx, tipHeight-interval)
	if err != nil || !ok {
		return diff
	}

	actual := tip.Timestamp().Sub(prior.Timestamp()).Seconds()
	if actual <= 0 {
		return diff
	}

	newDiff, err := difficulty.Retarget(diff, e.targetBlockTimeSeconds, int(interval), actual)
	if err != nil {
		log.Warnf("difficulty retarget at height %d failed: %s", nextHeight, err)
		return diff
	}

	e.mu.Lock()
	e.currentDifficulty = newDiff
	e.lastRetargetHeight = nextHeight
	e.mu.Unlock()

	if err := e.chainStore.UpdateDifficulty(ctx, tip.Hash(), newDiff); err != nil {
		log.Warnf("failed to persist retargeted difficulty: %s", err)
	}
	log.Infof("retargeted difficulty at height %d: %f -> %f", nextHeight, diff, newDiff)
	return newDiff
}

// selectTransactions implements spec §4.8.2: snapshot, sort by fee
// rate descending, greedy pack with re-validation against the tip.
func (e *Engine) selectTransactions(ctx context.Context) []*blockmodel.Transaction {
	descs := e.mp.MiningDescs()
	now := time.Now()

	out := make([]*blockmodel.Transaction, 0, len(descs))
	seen := make(map[chainhash.Hash]struct{})
	for _, desc := range descs {
		id := desc.Tx.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		if included, err := e.chainStore.HasTransaction(ctx, id); err == nil && included {
			continue
		}
		if now.Sub(desc.Added) > MaxTimeDrift {
			continue
		}
		if !desc.Tx.IsCoinbase() && e.keyManager != nil && !e.keyManager.Verify(desc.Tx.PublicKey, desc.Tx.CanonicalBytes(), desc.Tx.Signature) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, desc.Tx)
	}
	return out
}

// buildCoinbase constructs the reward-paying coinbase transaction (spec
// §4.8.2 step 4): single zero-outpoint input, single output paying
// expected_reward(height) to minerAddress.
func (e *Engine) buildCoinbase(height uint64, minerAddress string) *blockmodel.Transaction {
	return &blockmodel.Transaction{
		Version: CurrentVersion,
		Inputs: []blockmodel.TxInput{{
			PreviousOutPoint: blockmodel.OutPoint{Index: ^uint32(0)},
			SignatureScript:  coinbaseScript(height),
		}},
		Outputs: []blockmodel.TxOutput{{
			Amount:           e.reward(height),
			RecipientAddress: minerAddress,
		}},
	}
}

func coinbaseScript(height uint64) []byte {
	script := make([]byte, 0, 24)
	script = append(script, byte(height>>56), byte(height>>48), byte(height>>40), byte(height>>32),
		byte(height>>24), byte(height>>16), byte(height>>8), byte(height))
	script = append(script, []byte("powvoted")...)
	return script
}

// MineResult is the outcome of a mining attempt.
type MineResult struct {
	Block *blockmodel.Block
	Err   error
}

type nonceRange struct {
	start, end uint64
}

// partitionNonceRange splits [start,end] into up to n disjoint,
// contiguous ranges so workers race on distinct slices of the search
// space instead of one worker walking it alone (spec §4.3, §4.8.3
// "parallel CPU: workers race on disjoint nonce ranges").
func partitionNonceRange(start, end uint64, n int) []nonceRange {
	if n <= 0 {
		n = 1
	}
	total := end - start + 1
	if uint64(n) > total {
		n = int(total)
	}
	chunk := total / uint64(n)
	remainder := total % uint64(n)

	ranges := make([]nonceRange, 0, n)
	cur := start
	for i := 0; i < n; i++ {
		size := chunk
		if uint64(i) < remainder {
			size++
		}
		ranges = append(ranges, nonceRange{start: cur, end: cur + size - 1})
		cur += size
	}
	return ranges
}

// Mine runs the mining loop of spec §4.8.3 against tmpl: it splits the
// nonce space across the worker pool and waits until a solution is found
// or cancellation/structure-update forces a rebuild. Parallel CPU search
// is its only strategy.
func (e *Engine) Mine(ctx context.Context, tmpl *BlockTemplate) (*blockmodel.Block, error) {
	done := ctx.Done()
	results := make(chan workerpool.Result, 4)

	headerBase := func(nonce uint64) chainhash.Header {
		return chainhash.Header{
			Version:      tmpl.Version,
			PreviousHash: tmpl.PreviousHash,
			MerkleRoot:   tmpl.MerkleRoot,
			Timestamp:    uint64(time.Now().Unix()),
			Difficulty:   uint64(tmpl.Difficulty),
			Nonce:        nonce,
		}
	}

	const nonceSpace = uint64(1) << 53
	for _, r := range partitionNonceRange(0, nonceSpace-1, e.workerCount) {
		task := workerpool.Task{
			StartNonce: r.start,
			EndNonce:   r.end,
			Target:     tmpl.Target,
			HeaderBase: headerBase,
		}
		go e.pool.Run(task, done, results)
	}

	deadline := time.After(StructureUpdateAge)
	for {
		select {
		case <-ctx.Done():
			return nil, nodeerr.New(nodeerr.KindTimedOut, "mining cancelled")
		case <-deadline:
			// A stale template past StructureUpdateAge is a routine restart
			// (spec §4.8.3 "abort and restart"), not a failure: only a mined
			// block that fails its own validation counts towards
			// MaxFailures (spec §7, ValidationRejected on a mined block is
			// Fatal to the attempt).
			return nil, nodeerr.New(nodeerr.KindTransient, "structure update needed, restarting template")
		case r := <-results:
			if r.Progress {
				continue
			}
			if r.Found {
				atomic.AddUint64(&e.hashesTried, r.AtNonce+1)
				block := &blockmodel.Block{
					Header: chainhash.Header{
						Version:      tmpl.Version,
						PreviousHash: tmpl.PreviousHash,
						MerkleRoot:   tmpl.MerkleRoot,
						Timestamp:    uint64(time.Now().Unix()),
						Difficulty:   uint64(tmpl.Difficulty),
						Nonce:        r.Nonce,
					},
					Transactions: tmpl.Transactions,
				}
				e.resetFailures()
				return block, nil
			}
		}
	}
}

// recordFailure increments the consecutive-Fatal-failure counter (spec
// §4.8.3, §7) and reports whether the loop should stop and, if not, how
// long to back off before the next attempt: backoff = 5000ms * 2^failures,
// capped at 30s.
func (e *Engine) recordFailure() (stop bool, backoff time.Duration) {
	e.mu.Lock()
	e.failures++
	n := e.failures
	e.mu.Unlock()

	backoff = time.Duration(5000*(1<<uint(n))) * time.Millisecond
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	if n >= MaxFailures {
		log.Errorf("mining stopped after %d consecutive Fatal failures; external restart required", n)
		return true, backoff
	}
	log.Warnf("mining hit %d consecutive failures, backing off %s", n, backoff)
	return false, backoff
}

func (e *Engine) resetFailures() {
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
}

// MineContinuously runs the "for each block" outer loop of spec §4.8.3:
// build a template, mine it, submit it, and repeat, until ctx is
// cancelled or MAX_FAILURES consecutive Fatal submission failures stop
// the loop (spec §7: "consecutive MAX_FAILURES Fatals stop the loop and
// require external restart"). Mirrors the teacher's cmd/kaspaminer
// mineloop.go template/blocks-loop pair collapsed into one goroutine
// since this engine owns both template construction and mining.
func (e *Engine) MineContinuously(ctx context.Context, minerAddress string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tmpl, err := e.GetBlockTemplate(ctx, minerAddress)
		if err != nil {
			log.Warnf("mining: failed to build block template: %s", err)
			if !sleepOrDone(ctx, 5*time.Second) {
				return
			}
			continue
		}

		block, err := e.Mine(ctx, tmpl)
		if err != nil {
			if nodeerr.Is(err, nodeerr.KindTimedOut) {
				return
			}
			// Transient (structure update / exhausted range): restart with
			// a fresh template, no failure accounting (spec §4.8.3).
			continue
		}

		if err := e.SubmitBlock(ctx, block, tmpl.Difficulty, tmpl.MinTime); err != nil {
			stop, backoff := e.recordFailure()
			if stop {
				return
			}
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}
		e.resetFailures()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// ValidateBlock implements spec §4.8.4.
func (e *Engine) ValidateBlock(ctx context.Context, block *blockmodel.Block, expectedDifficulty float64, minTime time.Time) error {
	if block.Header.Version < MinVersion || block.Header.Version > MaxVersion {
		return nodeerr.New(nodeerr.KindValidationRejected, "block version out of range")
	}
	now := time.Now()
	ts := time.Unix(int64(block.Header.Timestamp), 0)
	if ts.Before(minTime) || ts.After(now.Add(2*time.Hour)) {
		return nodeerr.New(nodeerr.KindValidationRejected, "block timestamp out of range")
	}
	if block.Header.Difficulty != uint64(expectedDifficulty) {
		return nodeerr.New(nodeerr.KindValidationRejected, "difficulty does not match expected retarget value")
	}

	recomputed := chainhash.HashHeader(block.Header)
	if recomputed != block.Hash() {
		return nodeerr.New(nodeerr.KindFatal, "recomputed hash does not match block hash")
	}
	target, err := powtarget.FromDifficulty(expectedDifficulty)
	if err != nil {
		return nodeerr.Wrap(nodeerr.KindFatal, "computing expected target", err)
	}
	if !powtarget.MeetsTarget(recomputed, target) {
		return nodeerr.New(nodeerr.KindValidationRejected, "hash does not meet target")
	}

	if len(block.Transactions) == 0 || !block.Transactions[0].IsCoinbase() {
		return nodeerr.New(nodeerr.KindValidationRejected, "first transaction is not coinbase")
	}
	coinbase := block.Transactions[0]
	if len(coinbase.Outputs) != 1 {
		return nodeerr.New(nodeerr.KindValidationRejected, "coinbase must have exactly one output")
	}
	if coinbase.Outputs[0].Amount > e.reward(blockHeightOf(block)) {
		return nodeerr.New(nodeerr.KindValidationRejected, "coinbase reward exceeds expected reward")
	}

	leaves := make([]chainhash.Hash, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		leaves = append(leaves, tx.ID())
	}
	if !merkle.Verify(block.Header.MerkleRoot, leaves) {
		return nodeerr.New(nodeerr.KindValidationRejected, "merkle root mismatch")
	}

	return nil
}

// blockHeightOf recovers the height encoded in the coinbase script by
// buildCoinbase, used by validators that don't separately track height.
func blockHeightOf(block *blockmodel.Block) uint64 {
	if len(block.Transactions) == 0 || len(block.Transactions[0].Inputs) == 0 {
		return 0
	}
	script := block.Transactions[0].Inputs[0].SignatureScript
	if len(script) < 8 {
		return 0
	}
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(script[i])
	}
	return h
}

// SubmitBlock runs the full submission pipeline of spec §4.8.5.
func (e *Engine) SubmitBlock(ctx context.Context, block *blockmodel.Block, expectedDifficulty float64, minTime time.Time) error {
	if err := e.ValidateBlock(ctx, block, expectedDifficulty, minTime); err != nil {
		if e.audit != nil {
			e.audit.Log("block_rejected", map[string]interface{}{"hash": block.Hash().String(), "reason": err.Error()})
		}
		return err
	}
	if err := e.chainStore.SaveBlock(ctx, blockAdapter{block, blockHeightOf(block)}); err != nil {
		return nodeerr.Wrap(nodeerr.KindTransient, "saving block", err)
	}
	for _, tx := range block.Transactions[1:] {
		e.mp.Remove(tx.ID())
	}
	if e.metrics != nil {
		e.metrics.CounterInc("blocks_added_total", nil)
	}
	if e.audit != nil {
		e.audit.Log("block_added", map[string]interface{}{"hash": block.Hash().String()})
	}
	return nil
}

type blockAdapter struct {
	*blockmodel.Block
	height uint64
}

func (b blockAdapter) Height() uint64 { return b.height }

// AcceptBlock validates and submits an externally-received block (spec
// §2's "blocks into PoW Engine validation" leg): it derives the expected
// difficulty and minimum timestamp from the chain store at the block's
// declared parent height, then runs the same SubmitBlock pipeline a
// locally mined block goes through. A Transient error (including the
// parent's height having no entry yet) means the caller should hold the
// block as an orphan rather than treat it as invalid.
func (e *Engine) AcceptBlock(ctx context.Context, block *blockmodel.Block) error {
	height := blockHeightOf(block)
	var priorHeight uint64
	if height > 0 {
		priorHeight = height - 1
	}

	prior, ok, err := e.chainStore.GetBlockByHeight(ctx, priorHeight)
	if err != nil {
		return nodeerr.Wrap(nodeerr.KindTransient, "fetching parent block", err)
	}
	if !ok && height > 0 {
		return nodeerr.New(nodeerr.KindTransient, "parent block not yet known")
	}

	var minTime time.Time
	if ok {
		minTime = prior.Timestamp()
	}
	expectedDifficulty := e.difficultyForHeight(ctx, priorHeight)
	return e.SubmitBlock(ctx, block, expectedDifficulty, minTime)
}

// AddInflight registers a block height as actively being mined (spec
// §4.8.6); returns an error when the bound is already reached.
func (e *Engine) AddInflight(height uint64, hash chainhash.Hash, onTimeout func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.inflight[height]; exists {
		return nodeerr.New(nodeerr.KindValidationRejected, "height already inflight")
	}
	if len(e.inflight) >= MaxBlocksInFlight {
		return errors.New("inflight block table full")
	}
	attemptID := uuid.NewString()
	ib := &InflightBlock{Height: height, Hash: hash, StartedAt: time.Now(), Attempts: 1, AttemptID: attemptID}
	ib.Timer = time.AfterFunc(BlockTimeoutBase, func() { e.handleInflightTimeout(height, onTimeout) })
	e.inflight[height] = ib
	if e.audit != nil {
		e.audit.Log("inflight_block_started", map[string]interface{}{"height": height, "attempt_id": attemptID})
	}
	return nil
}

func (e *Engine) handleInflightTimeout(height uint64, onTimeout func()) {
	e.mu.Lock()
	ib, ok := e.inflight[height]
	if !ok {
		e.mu.Unlock()
		return
	}
	ib.Attempts++
	if ib.Attempts > MaxRetryAttempts {
		delete(e.inflight, height)
		e.mu.Unlock()
		if onTimeout != nil {
			onTimeout()
		}
		return
	}
	ib.AttemptID = uuid.NewString()
	if e.audit != nil {
		e.audit.Log("inflight_block_retry", map[string]interface{}{"height": height, "attempt_id": ib.AttemptID, "attempts": ib.Attempts})
	}
	ib.Timer = time.AfterFunc(BlockTimeoutBase*time.Duration(ib.Attempts), func() { e.handleInflightTimeout(height, onTimeout) })
	e.mu.Unlock()
}

// RemoveInflight clears a height from the inflight table (block solved
// or abandoned).
func (e *Engine) RemoveInflight(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ib, ok := e.inflight[height]; ok {
		if ib.Timer != nil {
			ib.Timer.Stop()
		}
		delete(e.inflight, height)
	}
}

func (e *Engine) logHashRateLoop() {
	lastCheck := time.Now()
	for range time.Tick(logHashRateInterval) {
		current := atomic.LoadUint64(&e.hashesTried)
		now := time.Now()
		hashRate := float64(current) / 1000.0 / now.Sub(lastCheck).Seconds()
		log.Infof("current hash rate is %.2f Khash/s", hashRate)
		if e.metrics != nil {
			e.metrics.GaugeSet("hash_rate_khash_per_sec", hashRate, nil)
		}
		lastCheck = now
		atomic.AddUint64(&e.hashesTried, -current)
	}
}
