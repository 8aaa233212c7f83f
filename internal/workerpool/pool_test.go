package workerpool

import (
	"math/big"
	"testing"
	"time"

	"github.com/daglabs/powvote-node/internal/chainhash"
)

func TestRunFindsSolutionWithinRange(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	// Huge target (2^255): about half of all hashes meet it, so a solution
	// turns up within the first few nonces.
	hugeTarget := new(big.Int).Lsh(big.NewInt(1), 255)

	base := chainhash.Header{Version: 1}
	task := Task{
		StartNonce: 0,
		EndNonce:   1000,
		Target:     hugeTarget,
		HeaderBase: func(nonce uint64) chainhash.Header {
			h := base
			h.Nonce = nonce
			return h
		},
		BatchSize: 16,
	}

	done := make(chan struct{})
	results := make(chan Result, 4)
	pool.Run(task, done, results)

	select {
	case r := <-results:
		if !r.Found {
			t.Fatal("expected a found result for a trivial target")
		}
	default:
		t.Fatal("expected a result to be queued after Run returns on success")
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	// A target of 0 is never met by any hash, so the range must exhaust
	// or be cancelled.
	zeroTarget := big.NewInt(0)
	base := chainhash.Header{Version: 1}
	task := Task{
		StartNonce: 0,
		EndNonce:   1 << 20,
		Target:     zeroTarget,
		HeaderBase: func(nonce uint64) chainhash.Header {
			h := base
			h.Nonce = nonce
			return h
		},
		BatchSize: 1 << 16,
	}

	done := make(chan struct{})
	results := make(chan Result, 4)
	runDone := make(chan struct{})
	go func() {
		pool.Run(task, done, results)
		close(runDone)
	}()

	close(done)
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}

func TestAcquireIsFIFOBounded(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	done := make(chan struct{})
	w1, ok := pool.Acquire(done)
	if !ok {
		t.Fatal("expected to acquire the single worker")
	}

	acquired := make(chan struct{})
	go func() {
		w2, ok := pool.Acquire(done)
		if !ok {
			t.Error("expected second acquire to eventually succeed")
			return
		}
		if w2 != w1 {
			t.Error("expected the released worker to be handed back")
		}
		close(acquired)
	}()

	time.Sleep(10 * time.Millisecond)
	pool.release(w1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiting acquirer was never served")
	}
}

func TestAcquireUnblocksOnDone(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	done := make(chan struct{})
	_, ok := pool.Acquire(make(chan struct{}))
	if !ok {
		t.Fatal("expected to acquire the only worker")
	}

	result := make(chan bool, 1)
	go func() {
		_, ok := pool.Acquire(done)
		result <- ok
	}()

	close(done)
	select {
	case ok := <-result:
		if ok {
			t.Error("expected Acquire to fail once done fires")
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock on done")
	}
}
