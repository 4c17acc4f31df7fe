package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNormalizeChannelID(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{-1001234567890, 1234567890},
		{-4242, 4242},
		{777, 777},
	}
	for _, tt := range tests {
		if got := NormalizeChannelID(tt.in); got != tt.want {
			t.Errorf("NormalizeChannelID(%d): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestLoadDefaultsAndLegacyNames(t *testing.T) {
	t.Setenv("TG_CHANNEL_IDS", "-1001111111111, 2222")
	t.Setenv("PATCH_MISSING_SIGNALS_INTERVAL", "45")
	t.Setenv("AUTO_RESTART_INTERVAL", "600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.ChannelIDs) != 2 || cfg.ChannelIDs[0] != 1111111111 || cfg.ChannelIDs[1] != 2222 {
		t.Fatalf("unexpected channels: %v", cfg.ChannelIDs)
	}
	if cfg.CatchUpInterval != 45*time.Second {
		t.Errorf("expected catch-up 45s, got %v", cfg.CatchUpInterval)
	}
	if cfg.RestartInterval != 600*time.Second {
		t.Errorf("expected restart 600s, got %v", cfg.RestartInterval)
	}
	if cfg.TakeProfitPct != 1.0 || cfg.StopLossPct != 2.7 {
		t.Errorf("expected TP/SL 1/2.7, got %v/%v", cfg.TakeProfitPct, cfg.StopLossPct)
	}
	if cfg.ScanWindowSize != 20 {
		t.Errorf("expected window 20, got %d", cfg.ScanWindowSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{ChannelIDs: []int64{1}, TakeProfitPct: 1, StopLossPct: 2.7, ScanWindowSize: 20, CatchUpInterval: time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := *cfg
	bad.ChannelIDs = nil
	bad.StopLossPct = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}

	weak := *cfg
	weak.AdminPasswordHash = "$2a$10$hash"
	weak.JWTSecret = "dev-secret"
	if err := weak.Validate(); err == nil {
		t.Error("expected error for a short JWT_SECRET with admin login enabled")
	}
	weak.JWTSecret = strings.Repeat("k", MinJWTSecretLen)
	if err := weak.Validate(); err != nil {
		t.Errorf("expected long secret to validate, got %v", err)
	}

	dry := bad
	dry.DryRun = true
	dry.StopLossPct = 2
	if err := dry.Validate(); err != nil {
		t.Errorf("dry run without channels should validate, got %v", err)
	}
}

func TestLoadAccountsFromEnv(t *testing.T) {
	t.Setenv("OKX1_API_KEY", "k1")
	t.Setenv("OKX1_SECRET_KEY", "s1")
	t.Setenv("OKX1_PASSPHRASE", "p1")
	t.Setenv("OKX1_FIXED_QTY_ETH", "0.072")
	t.Setenv("OKX1_LEVERAGE", "20")
	// OKX2 is missing a passphrase and must be ignored.
	t.Setenv("OKX2_API_KEY", "k2")
	t.Setenv("OKX2_SECRET_KEY", "s2")

	accounts, err := LoadAccounts("")
	if err != nil {
		t.Fatalf("LoadAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	a := accounts[0]
	if a.Name != "OKX1" || a.Exchange != ExchangeOKX || a.Leverage != 20 || a.Flag != "1" {
		t.Errorf("unexpected account: %+v", a)
	}
	sz, ok := a.Size("eth")
	if !ok || sz.String() != "0.072" {
		t.Errorf("expected ETH size 0.072, got %v (ok=%v)", sz, ok)
	}
	if _, ok := a.Size("BTC"); ok {
		t.Error("BTC size should be absent")
	}
	if !a.Paper() {
		t.Error("flag 1 should be paper trading")
	}
}

func TestLoadAccountsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	content := `
accounts:
  - name: main
    exchange: binance
    api_key: bk
    secret_key: bs
    flag: "0"
    fixed_size:
      btc: 0.01
  - name: sim
    exchange: dryrun
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	accounts, err := LoadAccounts(path)
	if err != nil {
		t.Fatalf("LoadAccounts failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Exchange != ExchangeBinance || accounts[0].Paper() {
		t.Errorf("unexpected first account: %+v", accounts[0])
	}
	if sz, ok := accounts[0].Size("BTC"); !ok || sz.String() != "0.01" {
		t.Errorf("expected BTC size 0.01, got %v", sz)
	}
	if accounts[1].Leverage != 10 || accounts[1].MarginMode != "cross" {
		t.Errorf("defaults not applied: %+v", accounts[1])
	}
}
