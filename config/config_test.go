package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.SLATRMult != 1.8 || cfg.TPATRMult != 2.2 {
		t.Errorf("stop multipliers = (%.1f, %.1f), want (1.8, 2.2)", cfg.SLATRMult, cfg.TPATRMult)
	}
	if cfg.ATRPeriod != 14 {
		t.Errorf("ATR period = %d, want 14", cfg.ATRPeriod)
	}
	if !cfg.DryRun {
		t.Error("dry run must default to on")
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.MaxRetries)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("pairs:\n  - ETHUSDT\n  - SOLUSDT\natr_period: 21\nrisk_pct: 0.01\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Pairs) != 2 || cfg.Pairs[0] != "ETHUSDT" {
		t.Errorf("pairs = %v, want [ETHUSDT SOLUSDT]", cfg.Pairs)
	}
	if cfg.ATRPeriod != 21 {
		t.Errorf("atr_period = %d, want 21 from file", cfg.ATRPeriod)
	}
	if cfg.RiskPct != 0.01 {
		t.Errorf("risk_pct = %v, want 0.01 from file", cfg.RiskPct)
	}
	// Untouched keys keep their defaults.
	if cfg.SLATRMult != 1.8 {
		t.Errorf("sl_atr_mult = %v, default lost", cfg.SLATRMult)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("atr_period: 21\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ATR_PERIOD", "7")
	t.Setenv("PAIRS", "XRPUSDT, ADAUSDT")
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("TS_ACTIVATION_MODE", "PCT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ATRPeriod != 7 {
		t.Errorf("atr_period = %d, env did not win over file", cfg.ATRPeriod)
	}
	if len(cfg.Pairs) != 2 || cfg.Pairs[0] != "XRPUSDT" || cfg.Pairs[1] != "ADAUSDT" {
		t.Errorf("pairs = %v, want trimmed env list", cfg.Pairs)
	}
	if cfg.APIKey != "env-key" {
		t.Error("credentials not read from environment")
	}
	if cfg.ActivationMode != "pct" {
		t.Errorf("activation mode = %q, want lowercased pct", cfg.ActivationMode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestEnvBoolParsing(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"true", true}, {"1", true}, {"yes", true}, {"on", true},
		{"false", false}, {"0", false}, {"no", false}, {"off", false},
		{"garbage", true}, // falls back to the default
	}
	for _, tt := range tests {
		t.Setenv("USE_TRAILING_STOP", tt.val)
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.UseTrailing != tt.want {
			t.Errorf("USE_TRAILING_STOP=%q -> %v, want %v", tt.val, cfg.UseTrailing, tt.want)
		}
	}
}
