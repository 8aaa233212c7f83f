// Package workerpool implements the bounded pool of mining workers
// described by spec §4.3: FIFO acquire(), idle-sweep eviction,
// replacement on release of a worker whose error count has reached a
// limit (Run itself records no errors), and cooperative cancellation of
// in-flight nonce searches.
package workerpool

import (
	"math/big"
	"sync"
	"time"

	"github.com/daglabs/powvote-node/internal/chainhash"
	"github.com/daglabs/powvote-node/internal/logger"
	"github.com/daglabs/powvote-node/internal/panics"
	"github.com/daglabs/powvote-node/internal/powtarget"
)

var log = logger.Get(logger.SubsystemTags.POWE)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	// idleTimeout is how long an idle worker survives before the health
	// sweep terminates it (spec §4.3).
	idleTimeout = 60 * time.Second
	// maxWorkerErrors is the errorCount at which release discards a
	// worker and replaces it (spec §4.3). Run never increments errorCount,
	// so workers used only through Run are not replaced.
	maxWorkerErrors = 3
	// progressInterval is how often an in-progress worker reports a
	// progress update (spec §4.3, "every ~5s").
	progressInterval = 5 * time.Second
)

// Task describes a contiguous nonce range a worker searches for a
// solution under target. HeaderBase builds the header to hash for a
// given nonce; it is called once per nonce so the caller can keep the
// timestamp field current (spec §4.8.3 ticks it every second).
type Task struct {
	StartNonce uint64
	EndNonce   uint64
	Target     *big.Int
	HeaderBase func(nonce uint64) chainhash.Header
	BatchSize  uint64
}

// Result is what a worker reports back: either a solved nonce+hash, or
// a progress heartbeat.
type Result struct {
	Found     bool
	Nonce     uint64
	Hash      chainhash.Hash
	Progress  bool
	AtNonce   uint64
	Timestamp time.Time
}

// Pool is a bounded set of mining workers. Workers are created lazily up
// to size and recreated on demand after idle eviction or crash.
type Pool struct {
	mu      sync.Mutex
	size    int
	idle    []*worker
	waiters []chan *worker
	closed  bool
}

type worker struct {
	id         int
	lastUsed   time.Time
	errorCount int
}

// New creates a pool sized to n workers (the caller typically passes
// runtime.GOMAXPROCS(0) or similar, per spec §4.3 "sized to the number
// of hardware execution contexts").
func New(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{size: n}
	for i := 0; i < n; i++ {
		p.idle = append(p.idle, &worker{id: i, lastUsed: time.Now()})
	}
	spawn("workerpool-health-sweep", p.healthSweepLoop)
	return p
}

// Acquire returns the next idle worker, FIFO, or blocks until one frees
// up or done fires.
func (p *Pool) Acquire(done <-chan struct{}) (*worker, bool) {
	p.mu.Lock()
	if len(p.idle) > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		return w, true
	}
	if p.closed {
		p.mu.Unlock()
		return nil, false
	}
	ch := make(chan *worker, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case w := <-ch:
		if w == nil {
			return nil, false
		}
		return w, true
	case <-done:
		return nil, false
	}
}

// release returns a worker to the idle set, handing it directly to the
// oldest waiter if one is queued (preserves FIFO acquire order). A
// worker that errored too many times in a row is discarded and replaced
// with a fresh one carrying the same slot id (spec §4.3).
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.errorCount >= maxWorkerErrors {
		log.Warnf("worker %d exceeded %d errors, replacing", w.id, maxWorkerErrors)
		w = &worker{id: w.id, lastUsed: time.Now()}
	}
	w.lastUsed = time.Now()
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		ch <- w
		return
	}
	p.idle = append(p.idle, w)
}

// Run executes task on an acquired worker, reporting results on results
// until the task is solved, the worker's range is exhausted, or done
// fires (cooperative cancellation, spec §4.3 "Workers must be
// interruptible").
func (p *Pool) Run(task Task, done <-chan struct{}, results chan<- Result) {
	w, ok := p.Acquire(done)
	if !ok {
		return
	}
	defer p.release(w)

	batch := task.BatchSize
	if batch == 0 {
		batch = 1 << 16
	}
	lastProgress := time.Now()

	for nonce := task.StartNonce; nonce <= task.EndNonce; nonce += batch {
		end := nonce + batch - 1
		if end > task.EndNonce {
			end = task.EndNonce
		}
		for n := nonce; n <= end; n++ {
			select {
			case <-done:
				return
			default:
			}
			header := task.HeaderBase(n)
			h := chainhash.HashHeader(header)
			if powtarget.MeetsTarget(h, task.Target) {
				select {
				case results <- Result{Found: true, Nonce: n, Hash: h}:
				case <-done:
				}
				return
			}
			if time.Since(lastProgress) >= progressInterval {
				lastProgress = time.Now()
				select {
				case results <- Result{Progress: true, AtNonce: n, Timestamp: lastProgress}:
				default:
				}
			}
		}
	}
}

// healthSweepLoop terminates workers that have been idle longer than
// idleTimeout and recreates them on demand, up to the pool's bound
// (spec §4.3).
func (p *Pool) healthSweepLoop() {
	ticker := time.NewTicker(idleTimeout / 4)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		now := time.Now()
		kept := p.idle[:0]
		for _, w := range p.idle {
			if now.Sub(w.lastUsed) > idleTimeout {
				log.Debugf("evicting idle worker %d", w.id)
				continue
			}
			kept = append(kept, w)
		}
		p.idle = kept
		active := p.size - len(p.idle) - len(p.waiters)
		for len(p.idle) < p.size && active+len(p.idle) < p.size {
			p.idle = append(p.idle, &worker{lastUsed: now})
		}
		p.mu.Unlock()
	}
}

// Close stops the pool and unblocks any pending waiters.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
}
