package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/daglabs/powvote-node/internal/blockmodel"
	"github.com/daglabs/powvote-node/internal/chainhash"
	"github.com/daglabs/powvote-node/internal/collab"
	"github.com/daglabs/powvote-node/internal/mempool"
	"github.com/daglabs/powvote-node/internal/powengine"
	"github.com/daglabs/powvote-node/internal/wireproto"
)

// fakeBlock/fakeChainStore mirror the powengine package's own test
// doubles, scoped here to exercise handleBlock's validate/submit path
// against a real *powengine.Engine.
type fakeBlock struct {
	hash   chainhash.Hash
	height uint64
}

func (b fakeBlock) Hash() chainhash.Hash { return b.hash }
func (b fakeBlock) Height() uint64       { return b.height }
func (b fakeBlock) Timestamp() time.Time { return time.Time{} }

type fakeChainStore struct {
	mu          sync.Mutex
	tip         *fakeBlock
	savedBlocks []collab.Block
}

func (f *fakeChainStore) GetBlockByHeight(ctx context.Context, height uint64) (collab.Block, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tip == nil || f.tip.height != height {
		return nil, false, nil
	}
	return *f.tip, true, nil
}
func (f *fakeChainStore) GetCurrentHeight(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeChainStore) SaveBlock(ctx context.Context, block collab.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedBlocks = append(f.savedBlocks, block)
	return nil
}
func (f *fakeChainStore) HasTransaction(ctx context.Context, id chainhash.Hash) (bool, error) {
	return false, nil
}
func (f *fakeChainStore) GetValidators(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeChainStore) UpdateDifficulty(ctx context.Context, tipHash chainhash.Hash, difficulty float64) error {
	return nil
}

var _ collab.ChainStore = (*fakeChainStore)(nil)

// fakeUTXOStore is a minimal in-memory collab.UTXOStore, mirroring the
// one in the mempool package's own tests, scoped here to exercise
// Dispatch's tx-handling ban-score paths.
type fakeUTXOStore struct {
	mu    sync.Mutex
	utxos map[collab.OutPoint]collab.UTXO
}

func newFakeUTXOStore() *fakeUTXOStore {
	return &fakeUTXOStore{utxos: make(map[collab.OutPoint]collab.UTXO)}
}

func (f *fakeUTXOStore) add(txID chainhash.Hash, idx uint32, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxos[collab.OutPoint{PrevTxHash: txID, OutIndex: idx}] = collab.UTXO{Amount: amount}
}

func (f *fakeUTXOStore) Get(ctx context.Context, txID chainhash.Hash, idx uint32) (collab.UTXO, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.utxos[collab.OutPoint{PrevTxHash: txID, OutIndex: idx}]
	return u, ok, nil
}
func (f *fakeUTXOStore) MarkSpent(ctx context.Context, op collab.OutPoint) error { return nil }
func (f *fakeUTXOStore) FindUTXOsForVoting(ctx context.Context, address string) ([]collab.UTXO, error) {
	return nil, nil
}
func (f *fakeUTXOStore) CalculateVotingPower(ctx context.Context, utxos []collab.UTXO) (*collab.VotingPower, error) {
	return &collab.VotingPower{}, nil
}

type spyAuditSink struct {
	mu     sync.Mutex
	events []string
}

func (s *spyAuditSink) Log(eventType string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

func newTestCoordinator(audit collab.AuditSink, mp *mempool.Mempool) *Coordinator {
	return New(mp, nil, nil, audit, collab.NopMetricsSink{}, 100)
}

func sourceID(label string) chainhash.Hash {
	return chainhash.HashBytes([]byte(label))
}

func makeSpendingTx(srcTxID chainhash.Hash, inAmount, outAmount uint64, padBytes int) *blockmodel.Transaction {
	return &blockmodel.Transaction{
		Version: 1,
		Inputs: []blockmodel.TxInput{{
			PreviousOutPoint: blockmodel.OutPoint{TxID: srcTxID, Index: 0},
			SignatureScript:  make([]byte, padBytes),
			Sequence:         0xFFFFFFFF,
			Amount:           inAmount,
		}},
		Outputs: []blockmodel.TxOutput{{Amount: outAmount, RecipientAddress: "pv1recipient"}},
	}
}

func newCapturingPeer(id string) (*PeerConn, *[][]byte) {
	var sent [][]byte
	p := &PeerConn{
		ID: id,
		Send: func(frame []byte) error {
			sent = append(sent, frame)
			return nil
		},
	}
	return p, &sent
}

func TestDispatchRoutesPingToPong(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer, sent := newCapturingPeer("peer-1")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatalf("RegisterPeer: %s", err)
	}

	frame, err := wireproto.Encode(wireproto.TypePing, wireproto.PingMessage{Nonce: 99})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(peer.ID, frame)

	if len(*sent) != 1 {
		t.Fatalf("expected exactly one reply frame, got %d", len(*sent))
	}
	env, err := wireproto.Decode((*sent)[0])
	if err != nil {
		t.Fatalf("Decode reply: %s", err)
	}
	if env.Type != wireproto.TypePong {
		t.Errorf("expected a pong reply, got %s", env.Type)
	}
}

func TestDispatchUnknownMessageTypeAppliesBanScore(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer, _ := newCapturingPeer("peer-2")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatalf("RegisterPeer: %s", err)
	}

	frame, err := wireproto.Encode(wireproto.MessageType("bogus"), struct{}{})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(peer.ID, frame)

	if peer.BanScore != banScoreProtocolError {
		t.Errorf("expected ban score %d for an unknown message type, got %d", banScoreProtocolError, peer.BanScore)
	}
}

func TestDispatchMalformedFrameAppliesBanScore(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer, _ := newCapturingPeer("peer-3")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatalf("RegisterPeer: %s", err)
	}

	c.Dispatch(peer.ID, []byte("not json at all"))

	if peer.BanScore != banScoreProtocolError {
		t.Errorf("expected ban score %d for a malformed envelope, got %d", banScoreProtocolError, peer.BanScore)
	}
}

func TestApplyBanScoreDisconnectsAtThreshold(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	audit := &spyAuditSink{}
	c := newTestCoordinator(audit, mp)

	peer, _ := newCapturingPeer("peer-4")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatalf("RegisterPeer: %s", err)
	}

	for i := 0; i < 5; i++ {
		c.applyBanScore(peer, banScoreDoubleSpend, "test increment")
	}
	if peer.BanScore < MaxBanScore {
		t.Fatalf("expected ban score to reach the threshold, got %d", peer.BanScore)
	}

	c.mu.RLock()
	_, stillConnected := c.peers[peer.ID]
	bannedUntil, isBanned := c.banned[peer.ID]
	c.mu.RUnlock()

	if stillConnected {
		t.Error("expected the peer to be disconnected once its ban score reached the threshold")
	}
	if !isBanned || !bannedUntil.After(time.Now()) {
		t.Error("expected the peer to be recorded as banned with a future expiry")
	}
}

func TestRegisterPeerRejectsBanned(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	c.mu.Lock()
	c.banned["banned-peer"] = time.Now().Add(time.Hour)
	c.mu.Unlock()

	peer := &PeerConn{ID: "banned-peer"}
	if err := c.RegisterPeer(peer); err == nil {
		t.Error("expected RegisterPeer to reject a currently-banned peer id")
	}
}

func TestAllowRateLimitsPerWindow(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer, _ := newCapturingPeer("peer-5")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatalf("RegisterPeer: %s", err)
	}

	for i := 0; i < rateLimitMaxPerKind; i++ {
		if !c.allowRate(peer, wireproto.TypePing) {
			t.Fatalf("expected request %d to be allowed within the per-window budget", i)
		}
	}
	if c.allowRate(peer, wireproto.TypePing) {
		t.Error("expected the request past the per-window budget to be rate-limited")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer1, sent1 := newCapturingPeer("peer-a")
	peer2, sent2 := newCapturingPeer("peer-b")
	if err := c.RegisterPeer(peer1); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterPeer(peer2); err != nil {
		t.Fatal(err)
	}

	c.Broadcast(wireproto.TypePing, wireproto.PingMessage{Nonce: 1}, peer1.ID)

	if len(*sent1) != 0 {
		t.Error("expected the excluded sender to receive no broadcast frame")
	}
	if len(*sent2) != 1 {
		t.Error("expected the other peer to receive the broadcast frame")
	}
}

func TestHandleTxAdmitsAndBroadcastsInv(t *testing.T) {
	store := newFakeUTXOStore()
	src := sourceID("node-utxo-1")
	store.add(src, 0, 1000)
	mp := mempool.New(mempool.Config{UTXOStore: store, BaseMinFee: 1})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	sender, _ := newCapturingPeer("sender")
	receiver, recvSent := newCapturingPeer("receiver")
	if err := c.RegisterPeer(sender); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterPeer(receiver); err != nil {
		t.Fatal(err)
	}

	tx := makeSpendingTx(src, 1000, 500, 8) // fee 500 clears vsize 104 at rate 1
	frame, err := wireproto.Encode(wireproto.TypeTx, wireproto.TxMessage{Tx: tx})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(sender.ID, frame)

	if !mp.HaveTransaction(tx.ID()) {
		t.Fatal("expected the transaction to be admitted into the mempool")
	}
	if len(*recvSent) != 1 {
		t.Fatalf("expected the other peer to receive exactly one inv broadcast, got %d", len(*recvSent))
	}
	env, err := wireproto.Decode((*recvSent)[0])
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if env.Type != wireproto.TypeInv {
		t.Errorf("expected an inv broadcast, got %s", env.Type)
	}
}

func TestHandleTxRejectedDoubleSpendAppliesBanScore(t *testing.T) {
	store := newFakeUTXOStore()
	src := sourceID("node-utxo-2")
	store.add(src, 0, 100000)
	mp := mempool.New(mempool.Config{UTXOStore: store, BaseMinFee: 1})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer, _ := newCapturingPeer("peer-6")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatal(err)
	}

	txA := makeSpendingTx(src, 100000, 99000, 8)
	if res, err := mp.Admit(context.Background(), txA); err != nil || !res.Accepted {
		t.Fatalf("expected tx A to be admitted directly, got %+v err=%v", res, err)
	}

	txB := makeSpendingTx(src, 100000, 99000, 8) // same fee as A, slightly lower rate: no RBF bump
	txB.Outputs[0].RecipientAddress = "pv1someoneelse"
	frame, err := wireproto.Encode(wireproto.TypeTx, wireproto.TxMessage{Tx: txB})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(peer.ID, frame)

	if peer.BanScore != banScoreDoubleSpend {
		t.Errorf("expected ban score %d for an insufficient-fee double-spend attempt, got %d", banScoreDoubleSpend, peer.BanScore)
	}
}

func newTestPowEngine(mp *mempool.Mempool, cs *fakeChainStore) *powengine.Engine {
	reward := func(height uint64) uint64 { return 5000 }
	return powengine.New(mp, cs, collab.NopMetricsSink{}, collab.NopAuditSink{}, nil, 1, reward, 30)
}

func mineTrivialBlock(t *testing.T, e *powengine.Engine) *blockmodel.Block {
	t.Helper()
	tmpl, err := e.GetBlockTemplate(context.Background(), "pv1miner")
	if err != nil {
		t.Fatalf("GetBlockTemplate: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	block, err := e.Mine(ctx, tmpl)
	if err != nil {
		t.Fatalf("Mine: %s", err)
	}
	return block
}

func TestHandleBlockAcceptsAndSubmitsWhenParentKnown(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	cs := &fakeChainStore{tip: &fakeBlock{height: 0}}
	e := newTestPowEngine(mp, cs)
	defer e.Close()
	c := New(mp, e, nil, nil, collab.NopMetricsSink{}, 100)

	peer, recvSent := newCapturingPeer("peer-8")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatal(err)
	}

	block := mineTrivialBlock(t, e)
	frame, err := wireproto.Encode(wireproto.TypeBlock, wireproto.BlockMessage{Block: block})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(peer.ID, frame)

	if len(cs.savedBlocks) != 1 {
		t.Fatalf("expected the block to be saved via the PoW engine, got %d saved", len(cs.savedBlocks))
	}
	c.mu.RLock()
	_, orphaned := c.orphanBlocks[block.Hash()]
	c.mu.RUnlock()
	if orphaned {
		t.Error("expected a block with a known parent not to land in the orphan pool")
	}
	if len(*recvSent) != 0 {
		t.Error("expected no broadcast to the sender itself (only other peers)")
	}
}

func TestHandleBlockOrphansWhenParentUnknown(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	cs := &fakeChainStore{} // no tip: every parent lookup misses
	e := newTestPowEngine(mp, cs)
	defer e.Close()
	c := New(mp, e, nil, nil, collab.NopMetricsSink{}, 100)

	peer, _ := newCapturingPeer("peer-9")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatal(err)
	}

	block := mineTrivialBlock(t, e)
	frame, err := wireproto.Encode(wireproto.TypeBlock, wireproto.BlockMessage{Block: block})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(peer.ID, frame)

	if len(cs.savedBlocks) != 0 {
		t.Error("expected no block to be saved while its parent is unknown")
	}
	c.mu.RLock()
	_, orphaned := c.orphanBlocks[block.Hash()]
	c.mu.RUnlock()
	if !orphaned {
		t.Error("expected a block with an unknown parent to land in the orphan pool")
	}
	if peer.BanScore != 0 {
		t.Errorf("expected no ban score for a block merely awaiting its parent, got %d", peer.BanScore)
	}
}

func TestHandleBlockStoresOrphan(t *testing.T) {
	mp := mempool.New(mempool.Config{})
	defer mp.Close()
	c := newTestCoordinator(nil, mp)

	peer, _ := newCapturingPeer("peer-7")
	if err := c.RegisterPeer(peer); err != nil {
		t.Fatal(err)
	}

	block := &blockmodel.Block{Header: chainhash.Header{Version: 1, Nonce: 42}}
	frame, err := wireproto.Encode(wireproto.TypeBlock, wireproto.BlockMessage{Block: block})
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	c.Dispatch(peer.ID, frame)

	c.mu.RLock()
	_, ok := c.orphanBlocks[block.Hash()]
	c.mu.RUnlock()
	if !ok {
		t.Error("expected the received block to be stored as an orphan")
	}
}
