package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL() != 10*time.Minute {
		t.Errorf("expected 10m TTL, got %v", cfg.Cache.TTL())
	}
	if cfg.Budget.WarningThreshold != 0.90 {
		t.Errorf("expected 0.90 warning threshold, got %v", cfg.Budget.WarningThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_BQ_TOKEN", "ya29.test-token")

	content := `
listen: ":9090"
budget:
  daily_limit: 5
  weekly_limit: 25
  monthly_limit: 80
  monthly_budget: 100
  warning_threshold: 0.9
pricing:
  price_per_unit: 5
  bytes_per_unit: 1000000000000
cache:
  backend: sqlite
  ttl_seconds: 300
ledger:
  backend: sqlite
  path: ledger.db
  timezone: Europe/Berlin
remote:
  project: analytics
  token: ${TEST_BQ_TOKEN}
  timeout: 10s
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Remote.Token != "ya29.test-token" {
		t.Errorf("env var not expanded: got %s", cfg.Remote.Token)
	}
	if cfg.Cache.TTL() != 5*time.Minute {
		t.Errorf("expected 5m TTL, got %v", cfg.Cache.TTL())
	}
	if cfg.Budget.MonthlyLimit != 80 || cfg.Budget.MonthlyBudget != 100 {
		t.Errorf("unexpected budget: %+v", cfg.Budget)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Remote.Timeout)
	}
	// Unset keys keep their defaults.
	if cfg.Pricing.FallbackCost != 0.01 {
		t.Errorf("expected default fallback cost, got %v", cfg.Pricing.FallbackCost)
	}
	loc, err := cfg.Ledger.Location()
	if err != nil {
		t.Fatal(err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %s", loc)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Budget.WarningThreshold = 1.5
	cfg.Budget.WeeklyLimit = -1
	cfg.Cache.Backend = "redis"
	cfg.Ledger.Backend = "etcd"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"warning_threshold", "negative", "cache.redis.addr", "etcd"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got %v", want, err)
		}
	}
}
