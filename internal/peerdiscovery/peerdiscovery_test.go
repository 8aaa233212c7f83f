package peerdiscovery

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fakeLookup(ips ...net.IP) LookupFunc {
	return func(host string) ([]net.IP, error) {
		return ips, nil
	}
}

func TestValidSeedDomainRegex(t *testing.T) {
	cases := map[string]bool{
		"seed.example.com":     true,
		"a.b":                  true,
		"-bad.example.com":     false,
		"example..com":         false,
		"":                     false,
		"just-one-label":       false,
		"sub.domain-name.net":  true,
	}
	for domain, want := range cases {
		if got := validSeedDomain.MatchString(domain); got != want {
			t.Errorf("validSeedDomain(%q) = %v, want %v", domain, got, want)
		}
	}
}

func TestDiscoverPeersResolvesAndRanks(t *testing.T) {
	d := New(Config{
		SeedDomains: []string{"seed.example.com"},
		DefaultPort: 8433,
		MaxPeers:    10,
		Lookup:      fakeLookup(net.ParseIP("1.2.3.4")),
	}, nil)

	out, err := d.DiscoverPeers()
	if err != nil {
		t.Fatalf("DiscoverPeers: %s", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one resolved peer, got %d", len(out))
	}
	if out[0].Address != "1.2.3.4:8433" {
		t.Errorf("expected address 1.2.3.4:8433, got %q", out[0].Address)
	}
	if out[0].Score != 100 {
		t.Errorf("expected a freshly-seen peer to score 100, got %d", out[0].Score)
	}
}

func TestDiscoverPeersDropsInvalidSeedDomain(t *testing.T) {
	var called int32
	d := New(Config{
		SeedDomains: []string{"-not-a-valid-domain"},
		DefaultPort: 8433,
		Lookup: func(host string) ([]net.IP, error) {
			atomic.AddInt32(&called, 1)
			return []net.IP{net.ParseIP("1.2.3.4")}, nil
		},
	}, nil)

	out, err := d.DiscoverPeers()
	if err != nil {
		t.Fatalf("DiscoverPeers: %s", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no resolved peers for an invalid seed domain, got %d", len(out))
	}
	if atomic.LoadInt32(&called) != 0 {
		t.Error("expected the resolver to never be invoked for an invalid seed domain")
	}
}

func TestRecordDialResultUpdatesLatencyEMA(t *testing.T) {
	d := New(Config{}, nil)
	d.RecordDialResult("1.2.3.4:8433", true, 100)
	d.mu.Lock()
	entry := d.cache["1.2.3.4:8433"]
	d.mu.Unlock()
	if entry.LatencyEMA != 100 {
		t.Fatalf("expected first success to set latency EMA to 100, got %f", entry.LatencyEMA)
	}

	d.RecordDialResult("1.2.3.4:8433", true, 200)
	d.mu.Lock()
	entry = d.cache["1.2.3.4:8433"]
	d.mu.Unlock()
	if entry.LatencyEMA != 150 {
		t.Errorf("expected the EMA to average toward 150, got %f", entry.LatencyEMA)
	}
}

func TestRecordDialResultBansAtThreshold(t *testing.T) {
	var evicted string
	d := New(Config{OnEviction: func(addr string, reason string) { evicted = addr }}, nil)

	for i := 0; i < banThreshold; i++ {
		d.RecordDialResult("5.6.7.8:8433", false, 0)
	}

	d.mu.Lock()
	entry := d.cache["5.6.7.8:8433"]
	d.mu.Unlock()
	if !entry.Banned {
		t.Fatal("expected the peer to be banned once failures reach the threshold")
	}
	if evicted != "5.6.7.8:8433" {
		t.Errorf("expected the eviction hook to fire for the banned address, got %q", evicted)
	}
}

func TestRankLockedExcludesBannedPeers(t *testing.T) {
	d := New(Config{}, nil)
	for i := 0; i < banThreshold; i++ {
		d.RecordDialResult("banned-peer:8433", false, 0)
	}
	d.RecordDialResult("healthy-peer:8433", true, 10)

	d.mu.Lock()
	ranked := d.rankLocked()
	d.mu.Unlock()

	for _, entry := range ranked {
		if entry.Address == "banned-peer:8433" {
			t.Error("expected a banned peer to be excluded from ranking")
		}
	}
}

func TestScoreOfPenalizesFailuresAndLatency(t *testing.T) {
	fresh := &PeerEntry{LastSeen: time.Now()}
	if got := scoreOf(fresh); got != 100 {
		t.Errorf("expected a fresh, failure-free peer to score 100, got %d", got)
	}

	withFailures := &PeerEntry{LastSeen: time.Now(), Failures: 3}
	if got := scoreOf(withFailures); got != 70 {
		t.Errorf("expected 3 failures to cost 30 points, got %d", got)
	}

	neverFloors := &PeerEntry{Failures: 100}
	if got := scoreOf(neverFloors); got < 0 {
		t.Error("expected score to be clamped at 0, never negative")
	}
}

func TestDiscoverPeersSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	d := New(Config{
		SeedDomains: []string{"seed.example.com"},
		Lookup: func(host string) ([]net.IP, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return []net.IP{net.ParseIP("9.9.9.9")}, nil
		},
	}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.DiscoverPeers() }()
	go func() { defer wg.Done(); d.DiscoverPeers() }()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected concurrent discovery calls to coalesce into a single resolve, got %d lookups", calls)
	}
}

func TestOpenCacheTolerantOfMissingFile(t *testing.T) {
	d := New(Config{}, nil)
	dir := t.TempDir() + "/peercache"
	if err := d.OpenCache(dir); err != nil {
		t.Fatalf("expected OpenCache to create a fresh leveldb store, got %s", err)
	}
	defer d.Close()
}
