package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
exchange:
  api_key: key
  api_secret: secret
currencies:
  fUSD:
    min_annual_rate: 8
    max_lending_amount: 5000
    start_date: "2026-01-15"
  fETH:
    min_annual_rate: 4
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	usd, ok := cfg.Currencies["fUSD"]
	if !ok {
		t.Fatal("fUSD missing")
	}
	if usd.MinOrderAmount != 50 {
		t.Fatalf("fUSD min order = %v, want seeded default 50", usd.MinOrderAmount)
	}
	if usd.InitialBalance != 1000 {
		t.Fatalf("fUSD initial balance = %v, want seeded default 1000", usd.InitialBalance)
	}

	eth := cfg.Currencies["fETH"]
	if eth.MinOrderAmount != 0.5 {
		t.Fatalf("fETH min order = %v, want seeded default 0.5", eth.MinOrderAmount)
	}

	start, ok := usd.Start()
	if !ok {
		t.Fatal("fUSD start date should parse")
	}
	if start != time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("start = %v", start)
	}

	if cfg.Scheduler.CycleInterval != 5*time.Second {
		t.Fatalf("cycle interval = %v, want default 5s", cfg.Scheduler.CycleInterval)
	}
	if cfg.Tracker.WindowSize != 15 {
		t.Fatalf("window size = %v, want default 15", cfg.Tracker.WindowSize)
	}
	if cfg.Lifecycle.OfferTimeout != time.Hour {
		t.Fatalf("offer timeout = %v, want default 1h", cfg.Lifecycle.OfferTimeout)
	}
	if cfg.Database.EventRetention != 720*time.Hour {
		t.Fatalf("event retention = %v, want default 720h", cfg.Database.EventRetention)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
currencies:
  fUSD:
    min_annual_rate: 8
`))
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("err = %v, want api_key failure", err)
	}
}

func TestLoadRejectsNoCurrencies(t *testing.T) {
	_, err := Load(writeConfig(t, `
exchange:
  api_key: key
  api_secret: secret
`))
	if err == nil || !strings.Contains(err.Error(), "currencies") {
		t.Fatalf("err = %v, want currencies failure", err)
	}
}

func TestLoadRejectsBadDiscountFactor(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+`
tracker:
  discount_factor: 0.5
`))
	if err == nil || !strings.Contains(err.Error(), "discount_factor") {
		t.Fatalf("err = %v, want discount_factor failure", err)
	}
}

func TestLoadRejectsUnknownCurrencyWithoutMinimum(t *testing.T) {
	_, err := Load(writeConfig(t, `
exchange:
  api_key: key
  api_secret: secret
currencies:
  fXYZ:
    min_annual_rate: 8
`))
	if err == nil || !strings.Contains(err.Error(), "min_order_amount") {
		t.Fatalf("err = %v, want min_order_amount failure", err)
	}
}

func TestLoadRejectsBadStartDate(t *testing.T) {
	_, err := Load(writeConfig(t, `
exchange:
  api_key: key
  api_secret: secret
currencies:
  fUSD:
    min_annual_rate: 8
    start_date: "15-01-2026"
`))
	if err == nil || !strings.Contains(err.Error(), "start_date") {
		t.Fatalf("err = %v, want start_date failure", err)
	}
}
