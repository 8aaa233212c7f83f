// Command powvoted is the node entry point: it parses configuration,
// initializes logging, and wires the mempool, PoW engine, peer
// discovery, and node coordinator together. Structurally modeled on the
// teacher's kaspad struct (kaspad.go) and its main.go service-wrapper
// shape: a single owning struct with start/stop methods, run from main
// under an interrupt handler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/daglabs/powvote-node/internal/chainhash"

	"github.com/daglabs/powvote-node/internal/breaker"
	"github.com/daglabs/powvote-node/internal/collab"
	"github.com/daglabs/powvote-node/internal/config"
	"github.com/daglabs/powvote-node/internal/keys"
	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/mempool"
	"github.com/daglabs/powvote-node/internal/node"
	"github.com/daglabs/powvote-node/internal/panics"
	"github.com/daglabs/powvote-node/internal/peerdiscovery"
	"github.com/daglabs/powvote-node/internal/powengine"
	"github.com/daglabs/powvote-node/internal/transport"
)

var log = logger.Get(logger.SubsystemTags.NODE)

// powvoted wraps the full set of node services, mirroring the teacher's
// kaspad wrapper struct.
type powvoted struct {
	cfg         *config.Config
	breaker     *breaker.Registry
	discoverer  *peerdiscovery.Discoverer
	mempool     *mempool.Mempool
	powEngine   *powengine.Engine
	coordinator *node.Coordinator
	transport   *transport.Transport

	miningCancel context.CancelFunc
}

func newPowvoted(cfg *config.Config) (*powvoted, error) {
	br := breaker.New(breaker.DefaultConfig())
	if cfg.CircuitBreakerStatePath != "" {
		if err := br.OpenWithLevelDB(cfg.CircuitBreakerStatePath); err != nil {
			log.Warnf("continuing without persisted circuit breaker state: %s", err)
		}
	}

	disc := peerdiscovery.New(peerdiscovery.Config{
		SeedDomains: cfg.DNSSeeds,
		MaxPeers:    cfg.MaxPeers,
	}, br)
	if cfg.HomeDir != "" {
		if err := disc.OpenCache(filepath.Join(cfg.HomeDir, "peers.db")); err != nil {
			log.Warnf("continuing without persisted peer cache: %s", err)
		}
	}

	keyManager, err := keys.New()
	if err != nil {
		return nil, fmt.Errorf("generating node key pair: %w", err)
	}

	mp := mempool.New(mempool.Config{
		AuditSink:   collab.NopAuditSink{},
		MetricsSink: collab.NopMetricsSink{},
		KeyManager:  keyManager,
		BaseMinFee:  cfg.MinRelayFeeRate,
		MaxTxSize:   1024 * 1024,
	})

	miningThreads := cfg.MiningThreads
	if miningThreads <= 0 {
		miningThreads = runtime.NumCPU()
	}
	chainStore := &unimplementedChainStore{}
	pe := powengine.New(mp, chainStore, collab.NopMetricsSink{}, collab.NopAuditSink{}, keyManager, miningThreads, nil, cfg.TargetBlockTimeSeconds)

	coordinator := node.New(mp, pe, disc, collab.NopAuditSink{}, collab.NopMetricsSink{}, cfg.MaxOrphanTxs)
	tr := transport.New(coordinator)

	return &powvoted{
		cfg:         cfg,
		breaker:     br,
		discoverer:  disc,
		mempool:     mp,
		powEngine:   pe,
		coordinator: coordinator,
		transport:   tr,
	}, nil
}

// unimplementedChainStore is a placeholder collab.ChainStore: production
// persistence is an out-of-scope collaborator (spec §1). It lets the
// node boot and exercise its own logic against an always-empty chain.
type unimplementedChainStore struct{}

func (unimplementedChainStore) GetBlockByHeight(context.Context, uint64) (collab.Block, bool, error) {
	return nil, false, nil
}

func (unimplementedChainStore) GetCurrentHeight(context.Context) (uint64, error) {
	return 0, nil
}

func (unimplementedChainStore) SaveBlock(context.Context, collab.Block) error {
	return nil
}

func (unimplementedChainStore) HasTransaction(context.Context, chainhash.Hash) (bool, error) {
	return false, nil
}

func (unimplementedChainStore) GetValidators(context.Context) ([]string, error) {
	return nil, nil
}

func (unimplementedChainStore) UpdateDifficulty(context.Context, chainhash.Hash, float64) error {
	return nil
}

func (u *powvoted) start() {
	log.Info("starting powvoted")
	u.coordinator.Start()
	if u.cfg.Listen != "" {
		if err := u.transport.Listen(u.cfg.Listen); err != nil {
			log.Errorf("failed to start peer listener: %s", err)
		}
	}
	for _, addr := range u.cfg.ConnectPeers {
		addr := addr
		spawnDial(addr, u.transport)
	}

	// auto_mine (spec §6.4): start the PoW engine's mining loop on boot.
	if u.cfg.GenerateBlocks {
		ctx, cancel := context.WithCancel(context.Background())
		u.miningCancel = cancel
		go u.powEngine.MineContinuously(ctx, u.cfg.MiningAddress)
	}
}

func spawnDial(addr string, tr *transport.Transport) {
	go func() {
		if err := tr.Dial(addr); err != nil {
			log.Infof("failed to connect to configured peer %s: %s", addr, err)
		}
	}()
}

func (u *powvoted) stop() {
	log.Warn("powvoted shutting down")
	if u.miningCancel != nil {
		u.miningCancel()
	}
	if err := u.transport.Close(); err != nil {
		log.Warnf("error closing transport: %s", err)
	}
	u.coordinator.Stop()
	u.powEngine.Close()
	if err := u.discoverer.Close(); err != nil {
		log.Warnf("error closing peer discoverer: %s", err)
	}
	if err := u.breaker.Close(); err != nil {
		log.Warnf("error closing circuit breaker: %s", err)
	}
	u.mempool.Close()
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.InitLogRotator(filepath.Join(cfg.LogDir, "powvoted.log"))
	if err := logger.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	n, err := newPowvoted(cfg)
	if err != nil {
		log.Errorf("failed to initialize node: %s", err)
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	defer panics.HandlePanic(log, nil)

	n.start()
	<-interrupt
	n.stop()
}
