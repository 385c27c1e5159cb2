package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rus-connect/filterbench/pkg/validator"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InitialBalance != 1000 {
		t.Errorf("InitialBalance = %v, want 1000", cfg.InitialBalance)
	}
	if cfg.RSIPeriod != 14 || cfg.RSILower != 30 || cfg.RSIUpper != 70 {
		t.Errorf("unexpected RSI defaults: %+v", cfg)
	}
	if cfg.MACDFast != 12 || cfg.MACDSlow != 26 || cfg.MACDSignal != 9 {
		t.Errorf("unexpected MACD defaults: %+v", cfg)
	}
	if cfg.BBWindow != 20 || cfg.BBK != 2 {
		t.Errorf("unexpected Bollinger defaults: %+v", cfg)
	}
	if len(cfg.Filters) != 3 {
		t.Errorf("Filters = %v", cfg.Filters)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers should be empty by default, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INITIAL_BALANCE", "2500.5")
	t.Setenv("RSI_PERIOD", "7")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REDIS_TTL", "90s")
	t.Setenv("BB_K", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InitialBalance != 2500.5 {
		t.Errorf("InitialBalance = %v", cfg.InitialBalance)
	}
	if cfg.RSIPeriod != 7 {
		t.Errorf("RSIPeriod = %v", cfg.RSIPeriod)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.RedisTTL != 90*time.Second {
		t.Errorf("RedisTTL = %v", cfg.RedisTTL)
	}
	if cfg.BBK != 2 {
		t.Errorf("bad BB_K should fall back to default, got %v", cfg.BBK)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MACD_SLOW=30\nFILTERS=rsi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("MACD_SLOW")
		os.Unsetenv("FILTERS")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MACDSlow != 30 {
		t.Errorf("MACDSlow = %v, want 30", cfg.MACDSlow)
	}
	if len(cfg.Filters) != 1 || cfg.Filters[0] != "rsi" {
		t.Errorf("Filters = %v", cfg.Filters)
	}
}

func TestFilterSpecs(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Filters = []string{"bb", "RSI"}
	cfg.RSIPeriod = 9

	specs, err := cfg.FilterSpecs()
	if err != nil {
		t.Fatalf("FilterSpecs: %v", err)
	}
	if len(specs) != 2 || specs[0].Name != "Bollinger Band Filter" || specs[1].Name != "RSI Filter" {
		t.Fatalf("unexpected specs %+v", specs)
	}
	if specs[1].RSI.Period != 9 {
		t.Errorf("RSI period = %d, want 9", specs[1].RSI.Period)
	}

	cfg.Filters = []string{"stochastic"}
	if _, err := cfg.FilterSpecs(); err == nil {
		t.Error("expected error for unknown filter")
	}
}

func TestFilterSpecsKeepExplicitZero(t *testing.T) {
	t.Setenv("RSI_PERIOD", "0")
	t.Setenv("BB_K", "0")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Filters = []string{"rsi", "bollinger", "macd"}

	specs, err := cfg.FilterSpecs()
	if err != nil {
		t.Fatalf("FilterSpecs: %v", err)
	}
	for _, spec := range specs[:2] {
		if err := spec.Validate(); !errors.Is(err, validator.ErrConfiguration) {
			t.Errorf("%s: expected configuration error for a zero parameter, got %v", spec.Name, err)
		}
	}
	if err := specs[2].Validate(); err != nil {
		t.Errorf("MACD defaults should validate: %v", err)
	}
}
