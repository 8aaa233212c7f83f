// Package config parses the node's command-line/ini configuration (spec
// §6.4) using jessevdk/go-flags, the same library and struct-tag layout
// the teacher's mining simulator uses for its own config type.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultLogFilename    = "powvoted.log"
	defaultMaxPeers       = 125
	defaultTargetBlockSecs = 30
	defaultMempoolMaxSize = 300 * 1024 * 1024 // 300MB, spec §4.7.5
	defaultMempoolExpiry  = 72 * time.Hour    // 72 hours, same as mempool.MaxAge
	defaultMinFeeRate     = 1                 // satoshi/byte-equivalent floor, spec §4.7.4
	defaultRPCTimeout     = 30 * time.Second
)

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".powvoted")
}

// Config is the full set of node-level knobs spec §6.4 calls out:
// networking, mempool policy, mining, and logging.
type Config struct {
	HomeDir string `long:"datadir" description:"Directory to store data"`
	LogDir  string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems: trace, debug, info, warn, error, critical (or TAG=level,TAG=level,...)" default:"info"`

	Listen      string   `long:"listen" description:"Address to listen for peer connections" default:"0.0.0.0:8433"`
	DNSSeeds    []string `long:"dnsseed" description:"DNS seed(s) to use for peer discovery"`
	ConnectPeers []string `long:"connect" description:"Peer address(es) to connect to directly, bypassing discovery"`
	MaxPeers    int      `long:"maxpeers" description:"Max number of inbound and outbound peers" default:"125"`
	MaxInbound  int      `long:"maxinbound" description:"Max number of inbound peers"`

	TargetBlockTimeSeconds float64 `long:"targetblocktime" description:"Target average seconds between blocks" default:"30"`
	DifficultyWindow       int     `long:"difficultywindow" description:"Number of blocks in a difficulty adjustment window" default:"2016"`

	MempoolMaxSizeBytes int64         `long:"mempoolmaxsize" description:"Maximum mempool size in bytes before eviction" default:"314572800"`
	MempoolExpiry       time.Duration `long:"mempoolexpiry" description:"Maximum age a mempool transaction is kept before expiring" default:"72h"`
	MinRelayFeeRate     float64       `long:"minrelayfee" description:"Minimum fee rate (per byte) accepted into the mempool" default:"1"`
	MaxOrphanTxs        int           `long:"maxorphantx" description:"Maximum number of orphan transactions kept in memory" default:"100"`
	MaxAncestors        int           `long:"maxancestors" description:"Maximum in-mempool ancestor chain length for a transaction" default:"25"`
	MaxDescendants      int           `long:"maxdescendants" description:"Maximum in-mempool descendant chain length for a transaction" default:"25"`

	MiningAddress string `long:"miningaddr" description:"Address to receive coinbase rewards when mining"`
	GenerateBlocks bool  `long:"generate" description:"Mine blocks in-process"`
	MiningThreads int    `long:"miningthreads" description:"Number of mining worker goroutines; 0 means use all hardware threads" default:"0"`

	CircuitBreakerStatePath string `long:"breakerstate" description:"Path to the leveldb file used to persist circuit breaker state across restarts"`
	RPCTimeout              time.Duration `long:"rpctimeout" description:"Timeout applied to outbound collaborator RPC calls" default:"30s"`

	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`
}

// Defaults returns a Config populated with the same defaults the struct
// tags declare, for callers constructing one outside of Parse (tests,
// embedding applications).
func Defaults() *Config {
	return &Config{
		HomeDir:                defaultHomeDir(),
		LogDir:                 filepath.Join(defaultHomeDir(), "logs"),
		DebugLevel:             "info",
		Listen:                 "0.0.0.0:8433",
		MaxPeers:               defaultMaxPeers,
		TargetBlockTimeSeconds: defaultTargetBlockSecs,
		DifficultyWindow:       2016,
		MempoolMaxSizeBytes:    defaultMempoolMaxSize,
		MempoolExpiry:          defaultMempoolExpiry,
		MinRelayFeeRate:        defaultMinFeeRate,
		MaxOrphanTxs:           100,
		MaxAncestors:           25,
		MaxDescendants:         25,
		RPCTimeout:             defaultRPCTimeout,
	}
}

// Parse parses args (normally os.Args[1:]) into a Config, applies
// derived defaults (home dir subpaths), and validates cross-field
// constraints the struct tags can't express.
func Parse(args []string) (*Config, error) {
	cfg := Defaults()
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.HomeDir == "" {
		cfg.HomeDir = defaultHomeDir()
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.HomeDir, "logs")
	}
	if cfg.CircuitBreakerStatePath == "" {
		cfg.CircuitBreakerStatePath = filepath.Join(cfg.HomeDir, "breaker.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxPeers <= 0 {
		return errors.Errorf("maxpeers must be positive, got %d", c.MaxPeers)
	}
	if c.MaxInbound > c.MaxPeers {
		return errors.Errorf("maxinbound (%d) cannot exceed maxpeers (%d)", c.MaxInbound, c.MaxPeers)
	}
	if c.TargetBlockTimeSeconds <= 0 {
		return errors.Errorf("targetblocktime must be positive, got %f", c.TargetBlockTimeSeconds)
	}
	if c.DifficultyWindow <= 0 {
		return errors.Errorf("difficultywindow must be positive, got %d", c.DifficultyWindow)
	}
	if c.MinRelayFeeRate < 0 {
		return errors.Errorf("minrelayfee cannot be negative, got %f", c.MinRelayFeeRate)
	}
	if c.GenerateBlocks && c.MiningAddress == "" {
		return errors.New("miningaddr is required when generate is set")
	}
	return nil
}
