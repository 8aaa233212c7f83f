// Package breaker implements the generic per-endpoint circuit breaker of
// spec §4.5: closed -> open -> half-open -> closed, with a background
// monitor driving the open->half-open transition and optional leveldb
// persistence of the whole endpoint map.
package breaker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/nodeerr"
	"github.com/daglabs/powvote-node/internal/panics"
)

var log = logger.Get(logger.SubsystemTags.CIRB)
var spawn = panics.GoroutineWrapperFunc(log)

// State is one of the three breaker states (spec §4.5).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a single endpoint's breaker behavior.
type Config struct {
	FailureThreshold int           // default 5
	ResetTimeout     time.Duration // default 30s-5min depending on site
}

// DefaultConfig matches spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

type endpointState struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Failures   int       `json:"failures"`
	OpenedAt   time.Time `json:"opened_at"`
	HalfOpenInFlight bool `json:"-"`
}

// Registry owns one breaker state machine per endpoint name, a
// background monitor that flips open endpoints to half-open after their
// reset timeout, and an optional leveldb-backed persistence round-trip
// (spec §4.5, "for the blockchain-stats instance").
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	configs   map[string]Config
	defCfg    Config

	db           *leveldb.DB
	monitorStop  chan struct{}
	saveInterval time.Duration
}

const (
	defaultMonitorInterval = 1 * time.Second
	defaultSaveInterval    = 60 * time.Second
	leveldbKey             = "circuit-breaker-state"
)

// New creates a registry using defCfg for any endpoint that doesn't get
// a per-endpoint override via Configure.
func New(defCfg Config) *Registry {
	r := &Registry{
		endpoints:    make(map[string]*endpointState),
		configs:      make(map[string]Config),
		defCfg:       defCfg,
		monitorStop:  make(chan struct{}),
		saveInterval: defaultSaveInterval,
	}
	spawn("circuit-breaker-monitor", func() { r.monitorLoop(defaultMonitorInterval) })
	return r
}

// Configure overrides the breaker config for a specific endpoint name.
func (r *Registry) Configure(endpoint string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[endpoint] = cfg
}

// OpenWithLevelDB attaches a leveldb store at path for persisted round
// trips, tolerant of a missing file on boot (spec §4.5). It loads any
// existing state immediately and starts a periodic save loop.
func (r *Registry) OpenWithLevelDB(path string) error {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return errors.Wrap(err, "opening circuit breaker leveldb store")
	}
	r.db = db
	r.load()
	spawn("circuit-breaker-persist", func() { r.persistLoop(r.saveInterval) })
	return nil
}

// Close releases the leveldb handle, if any.
func (r *Registry) Close() error {
	close(r.monitorStop)
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Registry) configFor(endpoint string) Config {
	if cfg, ok := r.configs[endpoint]; ok {
		return cfg
	}
	return r.defCfg
}

func (r *Registry) stateFor(endpoint string) *endpointState {
	es, ok := r.endpoints[endpoint]
	if !ok {
		es = &endpointState{Name: endpoint, State: StateClosed}
		r.endpoints[endpoint] = es
	}
	return es
}

// Allow reports whether a call to endpoint may proceed right now. It
// returns a CircuitOpen error when the breaker is open and the reset
// timeout hasn't elapsed (fast-fail, spec §4.5/§7).
func (r *Registry) Allow(endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	es := r.stateFor(endpoint)
	cfg := r.configFor(endpoint)

	switch es.State {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(es.OpenedAt) >= cfg.ResetTimeout {
			// This call is the half-open probe.
			es.State = StateHalfOpen
			es.HalfOpenInFlight = true
			return nil
		}
		return nodeerr.New(nodeerr.KindCircuitOpen, "circuit open for "+endpoint)
	case StateHalfOpen:
		if es.HalfOpenInFlight {
			return nodeerr.New(nodeerr.KindCircuitOpen, "circuit half-open probe already in flight for "+endpoint)
		}
		es.HalfOpenInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess closes the breaker (from closed or half-open).
func (r *Registry) RecordSuccess(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	es := r.stateFor(endpoint)
	es.State = StateClosed
	es.Failures = 0
	es.HalfOpenInFlight = false
}

// RecordFailure counts a failure; in closed state it trips to open once
// the threshold is reached, and in half-open state a single failure
// reopens immediately.
func (r *Registry) RecordFailure(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	es := r.stateFor(endpoint)
	cfg := r.configFor(endpoint)

	switch es.State {
	case StateHalfOpen:
		es.State = StateOpen
		es.OpenedAt = time.Now()
		es.HalfOpenInFlight = false
	case StateClosed:
		es.Failures++
		if es.Failures >= cfg.FailureThreshold {
			es.State = StateOpen
			es.OpenedAt = time.Now()
		}
	}
}

// Do runs fn through the breaker: fails fast if open, otherwise calls
// fn and records success/failure.
func (r *Registry) Do(endpoint string, fn func() error) error {
	if err := r.Allow(endpoint); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		r.RecordFailure(endpoint)
		return err
	}
	r.RecordSuccess(endpoint)
	return nil
}

// StateOf returns the current state of an endpoint, for observability.
func (r *Registry) StateOf(endpoint string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateFor(endpoint).State
}

func (r *Registry) monitorLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.monitorStop:
			return
		case <-ticker.C:
			r.mu.Lock()
			for _, es := range r.endpoints {
				if es.State == StateOpen {
					cfg := r.configFor(es.Name)
					if time.Since(es.OpenedAt) >= cfg.ResetTimeout {
						es.State = StateHalfOpen
						es.HalfOpenInFlight = false
					}
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *Registry) persistLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.monitorStop:
			r.save()
			return
		case <-ticker.C:
			r.save()
		}
	}
}

func (r *Registry) save() {
	r.mu.Lock()
	snapshot := make(map[string]*endpointState, len(r.endpoints))
	for k, v := range r.endpoints {
		copyState := *v
		snapshot[k] = &copyState
	}
	r.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Warnf("failed to marshal circuit breaker state: %s", err)
		return
	}
	if err := r.db.Put([]byte(leveldbKey), data, nil); err != nil {
		log.Warnf("failed to persist circuit breaker state: %s", err)
	}
}

func (r *Registry) load() {
	data, err := r.db.Get([]byte(leveldbKey), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			log.Debugf("no persisted circuit breaker state found, starting clean")
			return
		}
		log.Warnf("failed to read persisted circuit breaker state: %s", err)
		return
	}
	var snapshot map[string]*endpointState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.Warnf("failed to unmarshal persisted circuit breaker state: %s", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range snapshot {
		r.endpoints[k] = v
	}
}
