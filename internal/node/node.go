// Package node implements the Node Coordinator (C9): peer connection
// table, orphan pools, message dispatch, ban scoring, and DDoS rate
// limiting (spec §4.9). The service-wrapper shape (start/stop,
// atomic started/shutdown guards) follows the teacher's kaspad struct
// in kaspad.go; message dispatch-by-tag follows peer/log.go's
// subsystem tagging convention.
package node

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daglabs/powvote-node/internal/blockmodel"
	"github.com/daglabs/powvote-node/internal/chainhash"
	"github.com/daglabs/powvote-node/internal/collab"
	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/mempool"
	"github.com/daglabs/powvote-node/internal/nodeerr"
	"github.com/daglabs/powvote-node/internal/panics"
	"github.com/daglabs/powvote-node/internal/peerdiscovery"
	"github.com/daglabs/powvote-node/internal/powengine"
	"github.com/daglabs/powvote-node/internal/wireproto"
)

var log = logger.Get(logger.SubsystemTags.NODE)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	// MaxBanScore is the disconnect threshold (spec §4.9, §6.4 default 100).
	MaxBanScore = 100
	// BanTime is how long a banned peer stays banned (spec §6.4 default 24h).
	BanTime = 24 * time.Hour
	// OrphanEvictionAge is how long orphan blocks/txs survive (spec §4.9).
	OrphanEvictionAge = 1 * time.Hour
	// PruneInterval is the periodic maintenance tick (spec §6.4 default 1h).
	PruneInterval = 1 * time.Hour

	banScoreDoubleSpend    = 20
	banScoreInvalidTx      = 10
	banScoreProtocolError  = 1

	rateLimitWindow     = 1 * time.Second
	rateLimitMaxPerKind = 100
)

// PeerConn is the minimal per-connection shape the coordinator tracks;
// the transport package's websocket connections implement Send.
type PeerConn struct {
	ID       string
	Services uint64
	BanScore int
	LastSeen time.Time
	Send     func(frame []byte) error

	rateMu    sync.Mutex
	rateWindow time.Time
	rateCounts map[wireproto.MessageType]int
}

// Coordinator is the C9 Node Coordinator.
type Coordinator struct {
	mempool    *mempool.Mempool
	powEngine  *powengine.Engine
	discoverer *peerdiscovery.Discoverer
	audit      collab.AuditSink
	metrics    collab.MetricsSink

	mu           sync.RWMutex
	peers        map[string]*PeerConn
	banned       map[string]time.Time
	orphanBlocks map[chainhash.Hash]orphanBlockEntry
	orphanTxs    map[chainhash.Hash]orphanTxEntry
	maxOrphans   int

	started, shutdown int32
	stopCh            chan struct{}
}

type orphanBlockEntry struct {
	block    *blockmodel.Block
	received time.Time
}

type orphanTxEntry struct {
	tx       *blockmodel.Transaction
	received time.Time
}

// New constructs a Coordinator.
func New(mp *mempool.Mempool, pe *powengine.Engine, disc *peerdiscovery.Discoverer, audit collab.AuditSink, metrics collab.MetricsSink, maxOrphans int) *Coordinator {
	if maxOrphans <= 0 {
		maxOrphans = 1000
	}
	return &Coordinator{
		mempool:      mp,
		powEngine:    pe,
		discoverer:   disc,
		audit:        audit,
		metrics:      metrics,
		peers:        make(map[string]*PeerConn),
		banned:       make(map[string]time.Time),
		orphanBlocks: make(map[chainhash.Hash]orphanBlockEntry),
		orphanTxs:    make(map[chainhash.Hash]orphanTxEntry),
		maxOrphans:   maxOrphans,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the coordinator's background maintenance loop.
func (c *Coordinator) Start() {
	if atomic.AddInt32(&c.started, 1) != 1 {
		return
	}
	log.Info("starting node coordinator")
	spawn("node-maintenance", c.maintenanceLoop)
}

// Stop gracefully shuts the coordinator down.
func (c *Coordinator) Stop() {
	if atomic.AddInt32(&c.shutdown, 1) != 1 {
		log.Info("node coordinator already shutting down")
		return
	}
	log.Warn("node coordinator shutting down")
	close(c.stopCh)
}

// DiscoverAndRank returns the peer-discovery's current ranked candidate
// list for the connection manager to dial, without itself opening any
// sockets (spec §4.6 hands candidates to the coordinator "on demand").
func (c *Coordinator) DiscoverAndRank() ([]peerdiscovery.PeerEntry, error) {
	if c.discoverer == nil {
		return nil, nodeerr.New(nodeerr.KindFatal, "no peer discoverer configured")
	}
	return c.discoverer.DiscoverPeers()
}

// RegisterPeer adds a connected peer to the table.
func (c *Coordinator) RegisterPeer(p *PeerConn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bannedUntil, ok := c.banned[p.ID]; ok && time.Now().Before(bannedUntil) {
		return nodeerr.New(nodeerr.KindValidationRejected, "peer is banned")
	}
	p.LastSeen = time.Now()
	p.rateCounts = make(map[wireproto.MessageType]int)
	c.peers[p.ID] = p
	return nil
}

// RemovePeer drops a peer from the table (disconnect, staleness).
func (c *Coordinator) RemovePeer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, id)
}

// Peers returns an immutable snapshot of the peer table (spec §5,
// "external code reads via accessor methods that return immutable
// snapshots").
func (c *Coordinator) Peers() []PeerConn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerConn, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, PeerConn{ID: p.ID, Services: p.Services, BanScore: p.BanScore, LastSeen: p.LastSeen})
	}
	return out
}

// Dispatch routes an inbound message frame from peer id to the
// appropriate handler by tag (spec §4.9).
func (c *Coordinator) Dispatch(peerID string, frame []byte) {
	c.mu.RLock()
	peer, ok := c.peers[peerID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	env, err := wireproto.Decode(frame)
	if err != nil {
		c.applyBanScore(peer, banScoreProtocolError, "malformed envelope")
		return
	}

	if !c.allowRate(peer, env.Type) {
		if c.metrics != nil {
			c.metrics.CounterInc("ddos_rate_limited_total", map[string]string{"peer": peerID, "kind": string(env.Type)})
		}
		return
	}

	switch env.Type {
	case wireproto.TypeTx:
		c.handleTx(peer, env)
	case wireproto.TypeBlock:
		c.handleBlock(peer, env)
	case wireproto.TypeInv:
		c.handleInv(peer, env)
	case wireproto.TypeGetData:
		c.handleGetData(peer, env)
	case wireproto.TypePing:
		c.handlePing(peer, env)
	case wireproto.TypePong:
		// liveness only, no action required
	default:
		c.applyBanScore(peer, banScoreProtocolError, "unknown message type")
	}
}

func (c *Coordinator) handleTx(peer *PeerConn, env wireproto.Envelope) {
	var msg wireproto.TxMessage
	if err := decodeInto(env, &msg); err != nil || msg.Tx == nil {
		c.applyBanScore(peer, banScoreInvalidTx, "malformed tx message")
		return
	}
	result, err := c.mempool.Admit(context.Background(), msg.Tx)
	if err != nil {
		return
	}
	if !result.Accepted {
		if result.Reason == mempool.RejectRBFInsufficient || result.Reason == mempool.RejectSelfDoubleSpend {
			c.applyBanScore(peer, banScoreDoubleSpend, "double-spend attempt")
		} else {
			c.applyBanScore(peer, banScoreInvalidTx, string(result.Reason))
		}
		return
	}
	c.Broadcast(wireproto.TypeInv, wireproto.InvMessage{Items: []wireproto.InvVector{{Type: wireproto.InvTx, Hash: msg.Tx.ID()}}}, peer.ID)
}

func (c *Coordinator) handleBlock(peer *PeerConn, env wireproto.Envelope) {
	var msg wireproto.BlockMessage
	if err := decodeInto(env, &msg); err != nil || msg.Block == nil {
		c.applyBanScore(peer, banScoreProtocolError, "malformed block message")
		return
	}

	if c.powEngine == nil {
		c.storeOrphanBlock(msg.Block)
		return
	}

	err := c.powEngine.AcceptBlock(context.Background(), msg.Block)
	switch {
	case err == nil:
		c.Broadcast(wireproto.TypeInv, wireproto.InvMessage{Items: []wireproto.InvVector{{Type: wireproto.InvBlock, Hash: msg.Block.Hash()}}}, peer.ID)
	case nodeerr.Is(err, nodeerr.KindValidationRejected) || nodeerr.Is(err, nodeerr.KindFatal):
		c.applyBanScore(peer, banScoreInvalidTx, "invalid block: "+err.Error())
	default:
		// Parent not yet known, or a transient collaborator failure: hold
		// the block pending resolution instead of penalizing the peer for
		// it (spec GLOSSARY "Orphan block").
		c.storeOrphanBlock(msg.Block)
	}
}

func (c *Coordinator) storeOrphanBlock(block *blockmodel.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.orphanBlocks) < c.maxOrphans {
		c.orphanBlocks[block.Hash()] = orphanBlockEntry{block: block, received: time.Now()}
	}
}

func (c *Coordinator) handleInv(peer *PeerConn, env wireproto.Envelope) {
	var msg wireproto.InvMessage
	if err := decodeInto(env, &msg); err != nil {
		c.applyBanScore(peer, banScoreProtocolError, "malformed inv message")
		return
	}
	var want []wireproto.InvVector
	for _, item := range msg.Items {
		if item.Type == wireproto.InvTx && !c.mempool.HaveTransaction(item.Hash) {
			want = append(want, item)
		}
	}
	if len(want) > 0 && peer.Send != nil {
		frame, err := wireproto.Encode(wireproto.TypeGetData, wireproto.GetDataMessage{Items: want})
		if err == nil {
			_ = peer.Send(frame)
		}
	}
}

func (c *Coordinator) handleGetData(peer *PeerConn, env wireproto.Envelope) {
	// Serving requested data is a chain/mempool read concern left to the
	// caller's collaborators; dispatch only validates the request shape.
	var msg wireproto.GetDataMessage
	if err := decodeInto(env, &msg); err != nil {
		c.applyBanScore(peer, banScoreProtocolError, "malformed getdata message")
	}
}

func (c *Coordinator) handlePing(peer *PeerConn, env wireproto.Envelope) {
	var msg wireproto.PingMessage
	if err := decodeInto(env, &msg); err != nil {
		c.applyBanScore(peer, banScoreProtocolError, "malformed ping message")
		return
	}
	if peer.Send == nil {
		return
	}
	frame, err := wireproto.Encode(wireproto.TypePong, wireproto.PongMessage{Nonce: msg.Nonce})
	if err == nil {
		_ = peer.Send(frame)
	}
}

// Broadcast sends payload to every connected peer except excludeID.
func (c *Coordinator) Broadcast(t wireproto.MessageType, payload interface{}, excludeID string) {
	frame, err := wireproto.Encode(t, payload)
	if err != nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, p := range c.peers {
		if id == excludeID || p.Send == nil {
			continue
		}
		_ = p.Send(frame)
	}
}

// applyBanScore increments a peer's ban score by delta and disconnects
// it once MaxBanScore is reached (spec §4.9).
func (c *Coordinator) applyBanScore(peer *PeerConn, delta int, reason string) {
	c.mu.Lock()
	peer.BanScore += delta
	shouldBan := peer.BanScore >= MaxBanScore
	if shouldBan {
		c.banned[peer.ID] = time.Now().Add(BanTime)
		delete(c.peers, peer.ID)
	}
	c.mu.Unlock()

	if c.audit != nil {
		c.audit.Log("peer_ban_score", map[string]interface{}{"peer": peer.ID, "delta": delta, "reason": reason, "banned": shouldBan})
	}
}

// allowRate applies a per-peer per-message-kind rate limit (spec §4.9
// DDoS protection).
func (c *Coordinator) allowRate(peer *PeerConn, kind wireproto.MessageType) bool {
	peer.rateMu.Lock()
	defer peer.rateMu.Unlock()
	now := time.Now()
	if now.Sub(peer.rateWindow) > rateLimitWindow {
		peer.rateWindow = now
		peer.rateCounts = make(map[wireproto.MessageType]int)
	}
	peer.rateCounts[kind]++
	return peer.rateCounts[kind] <= rateLimitMaxPerKind
}

func (c *Coordinator) maintenanceLoop() {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.pruneOrphans()
			c.pruneExpiredBans()
		}
	}
}

func (c *Coordinator) pruneOrphans() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for h, e := range c.orphanBlocks {
		if now.Sub(e.received) > OrphanEvictionAge {
			delete(c.orphanBlocks, h)
		}
	}
	for h, e := range c.orphanTxs {
		if now.Sub(e.received) > OrphanEvictionAge {
			delete(c.orphanTxs, h)
		}
	}
}

func (c *Coordinator) pruneExpiredBans() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, until := range c.banned {
		if now.After(until) {
			delete(c.banned, id)
		}
	}
}

func decodeInto(env wireproto.Envelope, v interface{}) error {
	return json.Unmarshal(env.Data, v)
}
