package protocols

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/execution/executiontest"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/vault"
)

var (
	siloConfig = common.HexToAddress("0x00000000000000000000000000000000000005c0")
	siloVault  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
)

func TestClampWithdrawal(t *testing.T) {
	info := WithdrawalInfo{TotalBalance: big.NewInt(95), AvailableBalance: big.NewInt(40)}
	cases := []struct {
		name      string
		requested int64
		force     bool
		want      int64
	}{
		{"capped to available", 100, false, 40},
		{"forced capped to total", 100, true, 95},
		{"within available", 30, false, 30},
		{"forced within total", 60, true, 60},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := clampWithdrawal(big.NewInt(c.requested), info, c.force); got.Int64() != c.want {
				t.Fatalf("clampWithdrawal(%d, force=%t) = %s, want %d", c.requested, c.force, got, c.want)
			}
		})
	}
	if got := clampWithdrawal(big.NewInt(10), WithdrawalInfo{TotalBalance: big.NewInt(5), AvailableBalance: big.NewInt(0)}, false); got.Sign() != 0 {
		t.Fatalf("no liquidity must clamp to zero, got %s", got)
	}
}

type siloHarness struct {
	*harness
	op VaultOperator
}

func newSiloHarness(t *testing.T, shares, maxWithdraw int64) *siloHarness {
	t.Helper()
	h := newHarness(t, testSettings())
	reg := h.env.Registry
	cfgABI := reg.MustABI(registry.ABISiloConfig)
	vaultABI := reg.MustABI(registry.ABISiloVault)
	h.backend.Returns(siloConfig, cfgABI, "getSilos", siloVault, common.Address{})
	h.backend.Returns(siloVault, vaultABI, "asset", usdc)
	h.backend.Returns(usdc, h.erc20, "name", "USD Coin")
	h.backend.Returns(usdc, h.erc20, "symbol", "USDC")
	h.backend.Returns(siloVault, vaultABI, "balanceOf", big.NewInt(shares))
	h.backend.Handle(siloVault, vaultABI, "previewRedeem", echo)
	h.backend.Handle(siloVault, vaultABI, "convertToShares", echo)
	h.backend.Returns(siloVault, vaultABI, "maxWithdraw0", big.NewInt(maxWithdraw))

	resolver := vault.NewResolver(
		map[string]map[string]string{"arbitrum": {"8": siloConfig.Hex()}},
		cfgABI, vaultABI, h.erc20, nil,
	)
	env := h.protocolEnv()
	env.Vaults = resolver
	env.Market = "8"
	op, err := NewVaultOperator(env)
	if err != nil {
		t.Fatalf("new silo operator: %v", err)
	}
	return &siloHarness{harness: h, op: op}
}

func echo(args []any) ([]any, error) {
	return []any{args[0]}, nil
}

func (h *siloHarness) redeemed(t *testing.T) (*big.Int, uint8) {
	t.Helper()
	args := h.decode(t, registry.ABISiloVault, "redeem0", h.backend.SentCount()-1)
	if args[1].(common.Address) != executiontest.Owner || args[2].(common.Address) != executiontest.Owner {
		t.Fatalf("redeem must pay and debit the signer, got %v", args)
	}
	return args[0].(*big.Int), args[3].(uint8)
}

func TestSiloWithdrawalInfo(t *testing.T) {
	h := newSiloHarness(t, 95, 40)
	info, err := h.op.GetWithdrawalInfo(context.Background(), siloVault, vault.Protected)
	if err != nil {
		t.Fatal(err)
	}
	if info.Shares.Int64() != 95 || info.TotalBalance.Int64() != 95 || info.AvailableBalance.Int64() != 40 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.LiquidityPct < 42.1 || info.LiquidityPct > 42.2 {
		t.Fatalf("expected ~42.1%% liquidity, got %f", info.LiquidityPct)
	}
}

func TestSiloLiquidityCappedWithdrawal(t *testing.T) {
	h := newSiloHarness(t, 95, 40)
	out, err := h.op.WithdrawFrom(context.Background(), siloVault, big.NewInt(100), vault.Protected, false)
	if err != nil || !out.Confirmed() {
		t.Fatalf("withdraw failed: %+v err=%v", out, err)
	}
	shares, collateral := h.redeemed(t)
	if shares.Int64() != 40 || collateral != 0 {
		t.Fatalf("expected 40 protected shares, got %s type=%d", shares, collateral)
	}
}

func TestSiloForcedWithdrawal(t *testing.T) {
	h := newSiloHarness(t, 95, 40)
	if _, err := h.op.WithdrawFrom(context.Background(), siloVault, big.NewInt(100), vault.Standard, true); err != nil {
		t.Fatalf("forced withdraw failed: %v", err)
	}
	shares, collateral := h.redeemed(t)
	if shares.Int64() != 95 || collateral != 1 {
		t.Fatalf("expected 95 standard shares, got %s type=%d", shares, collateral)
	}
}

func TestSiloWithdrawNothingAvailable(t *testing.T) {
	h := newSiloHarness(t, 95, 0)
	out, err := h.op.WithdrawFrom(context.Background(), siloVault, big.NewInt(10), vault.Protected, false)
	if !clierr.Is(err, clierr.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if out.Status != execution.StatusSkipped || h.backend.SentCount() != 0 {
		t.Fatalf("expected skipped outcome without broadcast, got %+v", out)
	}
}

func TestSiloShareConversionFallsBackToRatio(t *testing.T) {
	h := newSiloHarness(t, 50, 100)
	vaultABI := h.env.Registry.MustABI(registry.ABISiloVault)
	h.backend.Reverts(siloVault, vaultABI, "convertToShares")
	h.backend.Reverts(siloVault, vaultABI, "previewRedeem")
	h.backend.Handle(siloVault, vaultABI, "convertToAssets", func(args []any) ([]any, error) {
		return []any{new(big.Int).Mul(args[0].(*big.Int), big.NewInt(2))}, nil
	})

	if _, err := h.op.WithdrawFrom(context.Background(), siloVault, big.NewInt(60), vault.Protected, false); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	shares, _ := h.redeemed(t)
	if shares.Int64() != 30 {
		t.Fatalf("expected 60 assets at 2 assets/share to redeem 30 shares, got %s", shares)
	}
}

func TestSiloMaxWithdrawFallsBackToPlainOverload(t *testing.T) {
	h := newSiloHarness(t, 95, 40)
	vaultABI := h.env.Registry.MustABI(registry.ABISiloVault)
	h.backend.Reverts(siloVault, vaultABI, "maxWithdraw0")
	h.backend.Returns(siloVault, vaultABI, "maxWithdraw", big.NewInt(12))
	info, err := h.op.GetWithdrawalInfo(context.Background(), siloVault, vault.Protected)
	if err != nil || info.AvailableBalance.Int64() != 12 {
		t.Fatalf("expected plain maxWithdraw fallback, got %+v err=%v", info, err)
	}
}

func TestSiloDepositResolvesVault(t *testing.T) {
	h := newSiloHarness(t, 0, 0)
	out, err := h.op.Supply(context.Background(), usdc, big.NewInt(1_000_000))
	if err != nil || !out.Confirmed() {
		t.Fatalf("deposit failed: %+v err=%v", out, err)
	}
	approve := h.decode(t, registry.ABIERC20, "approve", 0)
	if approve[0].(common.Address) != siloVault {
		t.Fatalf("approval must target the vault, got %v", approve)
	}
	args := h.decode(t, registry.ABISiloVault, "deposit0", 1)
	if args[0].(*big.Int).Int64() != 1_000_000 || args[1].(common.Address) != executiontest.Owner || args[2].(uint8) != 0 {
		t.Fatalf("unexpected deposit args %v", args)
	}
	if ok, err := h.op.CheckTokenSupport(context.Background(), usdc); err != nil || !ok {
		t.Fatalf("usdc must be supported, got %t err=%v", ok, err)
	}
	if ok, err := h.op.CheckTokenSupport(context.Background(), weth); err != nil || ok {
		t.Fatalf("weth must not be supported, got %t err=%v", ok, err)
	}
}

func TestSiloMarketSnapshot(t *testing.T) {
	h := newSiloHarness(t, 0, 0)
	vaultABI := h.env.Registry.MustABI(registry.ABISiloVault)
	h.backend.Returns(siloVault, vaultABI, "totalAssets", big.NewInt(1_000))
	h.backend.Returns(siloVault, vaultABI, "getLiquidity", big.NewInt(250))
	snap, err := h.op.MarketSnapshot(context.Background(), siloVault)
	if err != nil {
		t.Fatal(err)
	}
	if snap.UtilizationPct != 75 || snap.Liquidity.Int64() != 250 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSiloRequiresMarket(t *testing.T) {
	h := newHarness(t, testSettings())
	env := h.protocolEnv()
	env.Vaults = vault.NewResolver(nil, nil, nil, nil, nil)
	if _, err := New(env, SiloV2); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error without market, got %v", err)
	}
	env.Market = "8"
	if _, err := New(env, SiloV2); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for unconfigured market, got %v", err)
	}
}
