package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/chain"
	"github.com/ggonzalez94/yieldmove/internal/chain/chaintest"
	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution/signer"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
	"github.com/ggonzalez94/yieldmove/internal/protocols"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/workflow"
)

var testSigner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestFactory(t *testing.T) (*engineFactory, *int) {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	settings, err := config.Load(config.GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	f := newEngineFactory(settings, metrics.New(), zap.NewNop())
	f.signer = chaintest.Signer{Addr: testSigner}
	dials := 0
	f.dial = func(_ context.Context, cfg registry.ChainConfig, txSigner signer.Signer, logger *zap.Logger) (*chain.Gateway, error) {
		dials++
		return chain.New(cfg, chaintest.New(cfg.ChainID), txSigner, logger), nil
	}
	return f, &dials
}

func TestFactoryDialsEachNetworkOnce(t *testing.T) {
	f, dials := newTestFactory(t)
	first, err := f.Engine(context.Background(), "Arbitrum")
	if err != nil {
		t.Fatalf("engine failed: %v", err)
	}
	second, err := f.Engine(context.Background(), "arbitrum")
	if err != nil {
		t.Fatalf("engine failed: %v", err)
	}
	if first != second || *dials != 1 {
		t.Fatalf("expected a cached engine after one dial, got dials=%d", *dials)
	}
	if first.Address() != testSigner || first.Network() != "arbitrum" {
		t.Fatalf("unexpected engine identity %s on %s", first.Address().Hex(), first.Network())
	}
	f.Close()
}

func TestFactoryUnknownNetwork(t *testing.T) {
	f, dials := newTestFactory(t)
	_, err := f.Engine(context.Background(), "atlantis")
	if !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if *dials != 0 {
		t.Fatal("unknown network must not dial")
	}
}

func TestFactoryBuildsOperators(t *testing.T) {
	f, _ := newTestFactory(t)
	op, err := f.Operator(context.Background(), workflow.Target{Network: "arbitrum", Protocol: protocols.AaveV3})
	if err != nil {
		t.Fatalf("operator failed: %v", err)
	}
	if op.Protocol() != protocols.AaveV3 || op.Network() != "arbitrum" {
		t.Fatalf("unexpected operator %s on %s", op.Protocol(), op.Network())
	}
	if _, ok := op.(protocols.Lender); !ok {
		t.Fatal("aave operator must be a lender")
	}
	if _, err := f.Operator(context.Background(), workflow.Target{Network: "arbitrum", Protocol: protocols.UniswapV3}); err != nil {
		t.Fatalf("uniswap operator failed: %v", err)
	}
}

func TestFactoryRejectsUnknownVaultCache(t *testing.T) {
	f, _ := newTestFactory(t)
	f.settings.VaultCache.Backend = "memcached"
	_, err := f.vaults(context.Background())
	if !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestFactorySQLiteVaultCache(t *testing.T) {
	f, _ := newTestFactory(t)
	dir := t.TempDir()
	f.settings.VaultCache.Backend = "sqlite"
	f.settings.VaultCachePath = filepath.Join(dir, "vaults.db")
	f.settings.VaultCacheLockPath = filepath.Join(dir, "vaults.lock")
	first, err := f.vaults(context.Background())
	if err != nil {
		t.Fatalf("vaults failed: %v", err)
	}
	second, err := f.vaults(context.Background())
	if err != nil || first != second {
		t.Fatalf("expected a shared resolver, err=%v", err)
	}
	if len(f.closers) != 1 {
		t.Fatalf("expected the sqlite store to be closed on exit, got %d closers", len(f.closers))
	}
	f.Close()
}
