package config

import "testing"

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected default config to validate cleanly, got %s", err)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if cfg.MaxPeers != defaultMaxPeers {
		t.Errorf("expected default maxpeers %d, got %d", defaultMaxPeers, cfg.MaxPeers)
	}
	if cfg.TargetBlockTimeSeconds != defaultTargetBlockSecs {
		t.Errorf("expected default target block time %f, got %f", float64(defaultTargetBlockSecs), cfg.TargetBlockTimeSeconds)
	}
	if cfg.CircuitBreakerStatePath == "" {
		t.Error("expected a derived circuit breaker state path")
	}
}

func TestParseOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{"--maxpeers=42", "--targetblocktime=15"})
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if cfg.MaxPeers != 42 {
		t.Errorf("expected maxpeers 42, got %d", cfg.MaxPeers)
	}
	if cfg.TargetBlockTimeSeconds != 15 {
		t.Errorf("expected targetblocktime 15, got %f", cfg.TargetBlockTimeSeconds)
	}
}

func TestValidateRejectsNonPositiveMaxPeers(t *testing.T) {
	cfg := Defaults()
	cfg.MaxPeers = 0
	if err := cfg.validate(); err == nil {
		t.Error("expected validate to reject maxpeers <= 0")
	}
}

func TestValidateRejectsMaxInboundExceedingMaxPeers(t *testing.T) {
	cfg := Defaults()
	cfg.MaxPeers = 10
	cfg.MaxInbound = 20
	if err := cfg.validate(); err == nil {
		t.Error("expected validate to reject maxinbound > maxpeers")
	}
}

func TestValidateRequiresMiningAddressWhenGenerating(t *testing.T) {
	cfg := Defaults()
	cfg.GenerateBlocks = true
	cfg.MiningAddress = ""
	if err := cfg.validate(); err == nil {
		t.Error("expected validate to require miningaddr when generate is set")
	}
	cfg.MiningAddress = "pv1abc"
	if err := cfg.validate(); err != nil {
		t.Errorf("expected validate to pass once miningaddr is set, got %s", err)
	}
}

func TestValidateRejectsNegativeMinRelayFee(t *testing.T) {
	cfg := Defaults()
	cfg.MinRelayFeeRate = -1
	if err := cfg.validate(); err == nil {
		t.Error("expected validate to reject a negative minrelayfee")
	}
}
