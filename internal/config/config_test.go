package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	content := "output: plain\nexecution:\n  receipt_timeout: 30s\n  max_attempts: 2\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("YIELDMOVE_OUTPUT", "json")
	t.Setenv("YIELDMOVE_RECEIPT_TIMEOUT", "60s")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, ReceiptTimeout: "90s"}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Execution.ReceiptTimeout != 90*time.Second {
		t.Fatalf("expected receipt timeout from flags, got %s", settings.Execution.ReceiptTimeout)
	}
	if settings.Execution.MaxAttempts != 2 {
		t.Fatalf("expected max attempts from file, got %d", settings.Execution.MaxAttempts)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	arb, ok := settings.Chain("Arbitrum")
	if !ok {
		t.Fatal("expected arbitrum chain defaults")
	}
	if arb.ChainID != 42161 || arb.Read.GasLimit != 3_000_000 {
		t.Fatalf("unexpected arbitrum defaults: %+v", arb)
	}
	if settings.Execution.FeeBumpPercent != 130 || settings.Execution.MaxAttempts != 3 {
		t.Fatalf("unexpected execution defaults: %+v", settings.Execution)
	}
	if settings.Tokens["USDC"]["arbitrum"] == "" {
		t.Fatal("expected default USDC token on arbitrum")
	}
}

func TestLoadTOMLMergesChainsAndMarkets(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.toml")
	content := `
[chains.sonic]
chain_id = 146
rpc_url = "https://rpc.soniclabs.com"

[chains.sonic.fee]
mode = "legacy"
gas_price_multiplier = 1.5

[silo.markets.sonic]
"8" = "0x062A36Bbe0306c2Fd7aecdf25843291fBAB96AD2"

[silo.default_market]
sonic = "8"

[tokens.usdc]
sonic = "0x29219dd400f2Bf60E5a23d13Be72B486D4038894"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	settings, err := Load(GlobalFlags{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sonic, ok := settings.Chain("sonic")
	if !ok {
		t.Fatal("expected sonic chain from toml")
	}
	if sonic.ChainID != 146 || sonic.Fee.Mode != "legacy" || sonic.Fee.GasPriceMultiplier != 1.5 {
		t.Fatalf("unexpected sonic chain: %+v", sonic)
	}
	if settings.Silo.Markets["sonic"]["8"] == "" || settings.Silo.DefaultMarket["sonic"] != "8" {
		t.Fatalf("unexpected silo settings: %+v", settings.Silo)
	}
	if settings.Tokens["USDC"]["sonic"] == "" || settings.Tokens["USDC"]["arbitrum"] == "" {
		t.Fatal("expected file tokens merged over defaults")
	}
}

func TestLoadRejectsUnknownFeeMode(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "chains:\n  arbitrum:\n    fee:\n      mode: turbo\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath}); err == nil {
		t.Fatal("expected unknown fee mode to fail")
	}
}

func TestLoadRPCOverrideFromEnv(t *testing.T) {
	t.Setenv("YIELDMOVE_RPC_ARBITRUM", "http://127.0.0.1:8545")
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Chains["arbitrum"].RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("expected env rpc override, got %q", settings.Chains["arbitrum"].RPCURL)
	}
}

func TestBindFlagsParsesEnableCommands(t *testing.T) {
	var flags GlobalFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &flags)
	if err := fs.Parse([]string{"--enable-commands", "supply, withdraw", "--config", filepath.Join(t.TempDir(), "none.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 2 || settings.EnableCommands[1] != "withdraw" {
		t.Fatalf("unexpected enable commands: %v", settings.EnableCommands)
	}
}
