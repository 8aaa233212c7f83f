package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/daglabs/powvote-node/internal/nodeerr"
)

func newTestRegistry(threshold int, resetTimeout time.Duration) *Registry {
	r := New(Config{FailureThreshold: threshold, ResetTimeout: resetTimeout})
	return r
}

func TestClosedAllowsCalls(t *testing.T) {
	r := newTestRegistry(5, time.Minute)
	defer r.Close()
	if err := r.Allow("ep"); err != nil {
		t.Errorf("expected closed breaker to allow, got %s", err)
	}
}

func TestTripsOpenAtThreshold(t *testing.T) {
	r := newTestRegistry(3, time.Minute)
	defer r.Close()

	for i := 0; i < 3; i++ {
		r.RecordFailure("ep")
	}
	if err := r.Allow("ep"); !nodeerr.Is(err, nodeerr.KindCircuitOpen) {
		t.Fatalf("expected CircuitOpen after threshold failures, got %v", err)
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	r := newTestRegistry(1, 10*time.Millisecond)
	defer r.Close()

	r.RecordFailure("ep")
	if err := r.Allow("ep"); !nodeerr.Is(err, nodeerr.KindCircuitOpen) {
		t.Fatalf("expected circuit open immediately, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := r.Allow("ep"); err != nil {
		t.Fatalf("expected half-open probe to be allowed after reset timeout, got %s", err)
	}
	if got := r.StateOf("ep"); got != StateHalfOpen {
		t.Errorf("expected state half-open, got %s", got)
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	r := newTestRegistry(1, 10*time.Millisecond)
	defer r.Close()

	r.RecordFailure("ep")
	time.Sleep(30 * time.Millisecond)
	r.Allow("ep") // transitions to half-open and marks a probe in flight
	r.RecordSuccess("ep")

	if got := r.StateOf("ep"); got != StateClosed {
		t.Errorf("expected state closed after successful probe, got %s", got)
	}
	if err := r.Allow("ep"); err != nil {
		t.Errorf("expected closed breaker to allow after recovery, got %s", err)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r := newTestRegistry(1, 10*time.Millisecond)
	defer r.Close()

	r.RecordFailure("ep")
	time.Sleep(30 * time.Millisecond)
	r.Allow("ep")
	r.RecordFailure("ep")

	if got := r.StateOf("ep"); got != StateOpen {
		t.Errorf("expected state open after half-open probe failure, got %s", got)
	}
}

func TestDoFastFailsWhenOpen(t *testing.T) {
	r := newTestRegistry(1, time.Minute)
	defer r.Close()

	calls := 0
	failing := func() error { calls++; return errors.New("boom") }

	if err := r.Do("ep", failing); err == nil {
		t.Fatal("expected the first failing call to return its own error")
	}
	if err := r.Do("ep", failing); !nodeerr.Is(err, nodeerr.KindCircuitOpen) {
		t.Fatalf("expected CircuitOpen on the second call, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the breaker to short-circuit the second call, fn was called %d times", calls)
	}
}

func TestEndpointsAreIndependent(t *testing.T) {
	r := newTestRegistry(1, time.Minute)
	defer r.Close()

	r.RecordFailure("a")
	if err := r.Allow("a"); !nodeerr.Is(err, nodeerr.KindCircuitOpen) {
		t.Fatal("expected endpoint a to be open")
	}
	if err := r.Allow("b"); err != nil {
		t.Fatalf("expected endpoint b to be unaffected, got %s", err)
	}
}

func TestOpenWithLevelDBTolerantOfMissingFile(t *testing.T) {
	r := newTestRegistry(5, time.Minute)
	defer r.Close()

	dir := t.TempDir() + "/breaker.db"
	if err := r.OpenWithLevelDB(dir); err != nil {
		t.Fatalf("expected OpenWithLevelDB to succeed on a fresh path, got %s", err)
	}
}
