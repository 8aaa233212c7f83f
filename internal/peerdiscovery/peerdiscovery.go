// Package peerdiscovery implements DNS-seed resolution, peer scoring and
// a persisted ranked cache (spec §4.6). The seeding shape — one spawned
// lookup goroutine per configured seed domain, fed through a callback —
// follows the teacher's connmgr/seed.go; the ranking/ban/persistence
// layer around it is new, grounded in the same package's addrmgr-style
// bookkeeping conventions.
package peerdiscovery

import (
	"encoding/json"
	"net"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/daglabs/powvote-node/internal/breaker"
	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/nodeerr"
	"github.com/daglabs/powvote-node/internal/panics"
)

var log = logger.Get(logger.SubsystemTags.PEER)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	defaultMaxRetries  = 3
	defaultRetryDelay  = 2 * time.Second
	dnsLookupTimeout   = 5 * time.Second
	banThreshold       = 10
	banDuration        = 24 * time.Hour
	levelDBAddrKey     = "peer-cache"
)

// validSeedDomain rejects anything that isn't a plausible DNS name
// before it's ever handed to a resolver (spec §4.6 step 1).
var validSeedDomain = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)+$`)

// PeerEntry is the spec §3 PeerEntry: address, services, scoring state.
type PeerEntry struct {
	Address    string    `json:"address"`
	Services   uint64    `json:"services"`
	LastSeen   time.Time `json:"last_seen"`
	Attempts   int       `json:"attempts"`
	Failures   int       `json:"failures"`
	LatencyEMA float64   `json:"latency_ema_ms"`
	Score      int       `json:"score"`
	Banned     bool      `json:"banned"`
	BannedUntil time.Time `json:"banned_until"`
}

// LookupFunc resolves a hostname to IPs; swappable in tests, mirrors the
// teacher's connmgr.LookupFunc signature.
type LookupFunc func(host string) ([]net.IP, error)

// EvictionHook is invoked when a peer is evicted from the cache, so
// metrics/audit can observe it (spec §4.6, "fires an observable hook").
type EvictionHook func(addr string, reason string)

// Config tunes a Discoverer.
type Config struct {
	SeedDomains []string
	DefaultPort uint16
	MaxPeers    int
	MaxRetries  int
	RetryDelay  time.Duration
	Lookup      LookupFunc
	OnEviction  EvictionHook
}

// Discoverer resolves DNS seeds, ranks candidates, and persists the
// resulting cache. A single discovery pass runs under passMu; concurrent
// callers await the in-flight result (spec §4.6, "one pass may be active
// at a time").
type Discoverer struct {
	cfg     Config
	breaker *breaker.Registry

	mu    sync.Mutex
	cache map[string]*PeerEntry

	passMu     sync.Mutex
	inFlight   bool
	passResult []PeerEntry
	passErr    error
	passDone   chan struct{}

	db *leveldb.DB
}

// New constructs a Discoverer. br may be nil, in which case discovery
// runs without circuit-breaker protection (tests).
func New(cfg Config, br *breaker.Registry) *Discoverer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Lookup == nil {
		cfg.Lookup = net.LookupIP
	}
	return &Discoverer{
		cfg:     cfg,
		breaker: br,
		cache:   make(map[string]*PeerEntry),
	}
}

// OpenCache attaches a leveldb-backed peer cache at path, tolerant of a
// missing file on boot.
func (d *Discoverer) OpenCache(path string) error {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return errors.Wrap(err, "opening peer cache leveldb store")
	}
	d.db = db
	d.loadCache()
	return nil
}

// Close releases the leveldb handle, if any.
func (d *Discoverer) Close() error {
	if d.db != nil {
		d.saveCache()
		return d.db.Close()
	}
	return nil
}

// DiscoverPeers runs (or awaits) a single discovery pass and returns the
// top-ranked candidates, capped at MaxPeers (spec §4.6 step 4).
func (d *Discoverer) DiscoverPeers() ([]PeerEntry, error) {
	d.passMu.Lock()
	if d.inFlight {
		done := d.passDone
		d.passMu.Unlock()
		<-done
		d.passMu.Lock()
		result, err := d.passResult, d.passErr
		d.passMu.Unlock()
		return result, err
	}
	d.inFlight = true
	d.passDone = make(chan struct{})
	d.passMu.Unlock()

	result, err := d.runPass()

	d.passMu.Lock()
	d.passResult, d.passErr = result, err
	d.inFlight = false
	close(d.passDone)
	d.passMu.Unlock()

	return result, err
}

func (d *Discoverer) runPass() ([]PeerEntry, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	merged := make(map[string]*PeerEntry)

	for _, seed := range d.cfg.SeedDomains {
		if !validSeedDomain.MatchString(seed) {
			log.Warnf("dropping invalid DNS seed domain %q", seed)
			continue
		}

		endpoint := sprintfBreakerKey(seed)
		if d.breaker != nil {
			if err := d.breaker.Allow(endpoint); err != nil {
				log.Infof("skipping seed %s: %s", seed, err)
				continue
			}
		}

		wg.Add(1)
		seed := seed
		go func() {
			defer wg.Done()
			addrs, err := d.resolveWithRetry(seed)
			if d.breaker != nil {
				if err != nil {
					d.breaker.RecordFailure(endpoint)
				} else {
					d.breaker.RecordSuccess(endpoint)
				}
			}
			if err != nil {
				log.Infof("DNS discovery failed on seed %s: %s", seed, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, addr := range addrs {
				if !isValidCandidateAddress(addr) {
					continue
				}
				entry, ok := merged[addr]
				if !ok {
					entry = &PeerEntry{Address: addr}
					merged[addr] = entry
				}
				entry.LastSeen = time.Now()
				entry.Attempts++
			}
		}()
	}
	wg.Wait()

	d.mu.Lock()
	for addr, fresh := range merged {
		if existing, ok := d.cache[addr]; ok {
			existing.LastSeen = fresh.LastSeen
			existing.Attempts++
		} else {
			d.cache[addr] = fresh
		}
	}
	d.evictBanned()
	ranked := d.rankLocked()
	d.mu.Unlock()

	if d.db != nil {
		d.saveCache()
	}

	if len(ranked) > d.cfg.MaxPeers && d.cfg.MaxPeers > 0 {
		ranked = ranked[:d.cfg.MaxPeers]
	}
	return ranked, nil
}

func (d *Discoverer) resolveWithRetry(host string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.RetryDelay * time.Duration(attempt))
		}
		ips, err := lookupWithTimeout(d.cfg.Lookup, host, dnsLookupTimeout)
		if err == nil {
			out := make([]string, 0, len(ips))
			for _, ip := range ips {
				out = append(out, net.JoinHostPort(ip.String(), portString(d.cfg.DefaultPort)))
			}
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func lookupWithTimeout(lookup LookupFunc, host string, timeout time.Duration) ([]net.IP, error) {
	type result struct {
		ips []net.IP
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ips, err := lookup(host)
		ch <- result{ips, err}
	}()
	select {
	case r := <-ch:
		return r.ips, r.err
	case <-time.After(timeout):
		return nil, errors.Errorf("DNS lookup of %s timed out after %s", host, timeout)
	}
}

// RecordDialResult updates a peer's score after a connection attempt
// (spec §4.6 step 5): success refreshes LastSeen and nudges the latency
// EMA (the failure count is left as it is), failure increments the
// failure count and bans the peer once it reaches banThreshold.
func (d *Discoverer) RecordDialResult(addr string, success bool, latencyMs float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.cache[addr]
	if !ok {
		entry = &PeerEntry{Address: addr}
		d.cache[addr] = entry
	}
	entry.Attempts++
	if success {
		entry.LastSeen = time.Now()
		if entry.LatencyEMA == 0 {
			entry.LatencyEMA = latencyMs
		} else {
			entry.LatencyEMA = (entry.LatencyEMA + latencyMs) / 2
		}
		return
	}
	entry.Failures++
	if entry.Failures >= banThreshold {
		entry.Banned = true
		entry.BannedUntil = time.Now().Add(banDuration)
		if d.cfg.OnEviction != nil {
			d.cfg.OnEviction(addr, "ban threshold exceeded")
		}
	}
}

// evictBanned removes cache entries whose ban has not yet expired, per
// spec §3's PeerEntry invariant ("banned peers are excluded from
// selection"). Entries whose ban window has elapsed are unbanned rather
// than removed, so they can be retried.
func (d *Discoverer) evictBanned() {
	for addr, entry := range d.cache {
		if !entry.Banned {
			continue
		}
		if time.Now().After(entry.BannedUntil) {
			entry.Banned = false
			entry.Failures = 0
			continue
		}
		delete(d.cache, addr)
	}
}

// rankLocked scores and sorts cache entries, excluding banned peers
// (spec §4.6 step 4: score = 100 - 10*failures - latency/100 -
// 2*hours_since_last_seen, clamped >= 0). Caller must hold d.mu.
func (d *Discoverer) rankLocked() []PeerEntry {
	out := make([]PeerEntry, 0, len(d.cache))
	for _, entry := range d.cache {
		if entry.Banned {
			continue
		}
		entry.Score = scoreOf(entry)
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scoreOf(e *PeerEntry) int {
	hoursSinceLastSeen := 0.0
	if !e.LastSeen.IsZero() {
		hoursSinceLastSeen = time.Since(e.LastSeen).Hours()
	}
	score := 100 - 10*e.Failures - int(e.LatencyEMA/100) - int(2*hoursSinceLastSeen)
	if score < 0 {
		score = 0
	}
	return score
}

func (d *Discoverer) saveCache() {
	d.mu.Lock()
	snapshot := make(map[string]*PeerEntry, len(d.cache))
	for k, v := range d.cache {
		copyEntry := *v
		snapshot[k] = &copyEntry
	}
	d.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Warnf("failed to marshal peer cache: %s", err)
		return
	}
	if err := d.db.Put([]byte(levelDBAddrKey), data, nil); err != nil {
		log.Warnf("failed to persist peer cache: %s", err)
	}
}

func (d *Discoverer) loadCache() {
	data, err := d.db.Get([]byte(levelDBAddrKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			log.Debugf("no persisted peer cache found, starting clean")
			return
		}
		log.Warnf("failed to read persisted peer cache: %s", err)
		return
	}
	var snapshot map[string]*PeerEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Warnf("failed to unmarshal persisted peer cache: %s", err)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range snapshot {
		d.cache[k] = v
	}
}

func isValidCandidateAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil
}

func sprintfBreakerKey(seed string) string {
	return "dnsseed:" + seed
}

func portString(p uint16) string {
	if p == 0 {
		p = 8433
	}
	return strconv.Itoa(int(p))
}

// ErrCircuitOpen is returned by callers wrapping a failed pass through
// the node's own error taxonomy.
var ErrCircuitOpen = nodeerr.New(nodeerr.KindCircuitOpen, "dns seed discovery circuit open")
