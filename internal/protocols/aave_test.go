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
)

const (
	activeBit = 56
	frozenBit = 57
)

func reserveWords(aTokenWord int, flags []int, aToken common.Address) []byte {
	out := make([]byte, 32*15)
	configuration := new(big.Int)
	for _, bit := range flags {
		configuration.SetBit(configuration, bit, 1)
	}
	configuration.FillBytes(out[:32])
	copy(out[32*aTokenWord+12:32*(aTokenWord+1)], aToken.Bytes())
	return out
}

func (h *harness) reserve(pool common.Address, abiName string, aTokenWord int, flags ...int) {
	h.backend.HandleRaw(pool, h.env.Registry.MustABI(abiName), "getReserveData", func([]byte) ([]byte, error) {
		return reserveWords(aTokenWord, flags, aUSDC), nil
	})
}

func TestAaveSupplyApprovesThenSupplies(t *testing.T) {
	h := newHarness(t, testSettings())
	h.reserve(aavePool, registry.ABIAaveV3Pool, 8, activeBit)
	lender, err := NewLender(h.protocolEnv(), AaveV3)
	if err != nil {
		t.Fatal(err)
	}

	out, err := lender.Supply(context.Background(), usdc, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("supply failed: %v", err)
	}
	if !out.Confirmed() || out.Label != "aave-v3-supply" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if h.backend.SentCount() != 2 {
		t.Fatalf("expected approve + supply, got %d txs", h.backend.SentCount())
	}
	approve := h.decode(t, registry.ABIERC20, "approve", 0)
	if approve[0].(common.Address) != aavePool {
		t.Fatalf("approval must target the pool, got %s", approve[0].(common.Address).Hex())
	}
	args := h.decode(t, registry.ABIAaveV3Pool, "supply", 1)
	if args[0].(common.Address) != usdc || args[1].(*big.Int).Int64() != 1_000_000 ||
		args[2].(common.Address) != executiontest.Owner || args[3].(uint16) != 0 {
		t.Fatalf("unexpected supply args %v", args)
	}
}

func TestAaveSupplySkipsApprovalWhenAllowed(t *testing.T) {
	h := newHarness(t, testSettings())
	h.token(usdc, 6, big.NewInt(5_000_000), big.NewInt(10_000_000))
	h.reserve(aavePool, registry.ABIAaveV3Pool, 8, activeBit)
	lender, _ := NewLender(h.protocolEnv(), AaveV3)
	if _, err := lender.Supply(context.Background(), usdc, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("supply failed: %v", err)
	}
	if h.backend.SentCount() != 1 {
		t.Fatalf("expected supply only, got %d txs", h.backend.SentCount())
	}
}

func TestAaveSupplyRejectsFrozenReserve(t *testing.T) {
	h := newHarness(t, testSettings())
	h.reserve(aavePool, registry.ABIAaveV3Pool, 8, activeBit, frozenBit)
	lender, _ := NewLender(h.protocolEnv(), AaveV3)

	out, err := lender.Supply(context.Background(), usdc, big.NewInt(1_000_000))
	if !clierr.Is(err, clierr.CodeContractState) {
		t.Fatalf("expected contract state error, got %v", err)
	}
	if out.Status != execution.StatusSkipped || h.backend.SentCount() != 0 {
		t.Fatalf("expected skipped outcome without broadcast, got %+v sent=%d", out, h.backend.SentCount())
	}
	ok, err := lender.CheckTokenSupport(context.Background(), usdc)
	if err != nil || ok {
		t.Fatalf("frozen reserve must be unsupported, got %t err=%v", ok, err)
	}
}

func TestAaveSupplyInsufficientWalletBalance(t *testing.T) {
	h := newHarness(t, testSettings())
	h.reserve(aavePool, registry.ABIAaveV3Pool, 8, activeBit)
	lender, _ := NewLender(h.protocolEnv(), AaveV3)
	_, err := lender.Supply(context.Background(), usdc, big.NewInt(6_000_000))
	if !clierr.Is(err, clierr.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if h.backend.Estimates != 0 {
		t.Fatal("nothing should be estimated when the wallet is short")
	}
}

func TestLendleUsesV2Dialect(t *testing.T) {
	h := newHarness(t, testSettings())
	h.token(usdc, 6, big.NewInt(5_000_000), big.NewInt(10_000_000))
	h.reserve(lendle, registry.ABIAaveV2Pool, 7, activeBit)
	h.backend.Returns(aUSDC, h.erc20, "balanceOf", big.NewInt(3_000_000))
	lender, _ := NewLender(h.protocolEnv(), Lendle)

	if _, err := lender.Supply(context.Background(), usdc, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("supply failed: %v", err)
	}
	h.decode(t, registry.ABIAaveV2Pool, "deposit", 0)

	balance, err := lender.Balance(context.Background(), usdc)
	if err != nil || balance.Int64() != 3_000_000 {
		t.Fatalf("expected aToken balance from word 7, got %v err=%v", balance, err)
	}
}

func TestAaveWithdrawChecksATokenBalance(t *testing.T) {
	h := newHarness(t, testSettings())
	h.reserve(aavePool, registry.ABIAaveV3Pool, 8, activeBit)
	h.backend.Returns(aUSDC, h.erc20, "balanceOf", big.NewInt(2_000_000))
	lender, _ := NewLender(h.protocolEnv(), AaveV3)

	_, err := lender.Withdraw(context.Background(), usdc, big.NewInt(2_500_000))
	if !clierr.Is(err, clierr.CodeInsufficientBalance) || h.backend.SentCount() != 0 {
		t.Fatalf("expected insufficient position without broadcast, got %v", err)
	}

	out, err := lender.Withdraw(context.Background(), usdc, big.NewInt(2_000_000))
	if err != nil || !out.Confirmed() {
		t.Fatalf("withdraw failed: %+v err=%v", out, err)
	}
	args := h.decode(t, registry.ABIAaveV3Pool, "withdraw", 0)
	if args[1].(*big.Int).Int64() != 2_000_000 || args[2].(common.Address) != executiontest.Owner {
		t.Fatalf("unexpected withdraw args %v", args)
	}
}

func TestAaveShortReserveResponse(t *testing.T) {
	h := newHarness(t, testSettings())
	h.backend.HandleRaw(aavePool, h.env.Registry.MustABI(registry.ABIAaveV3Pool), "getReserveData", func([]byte) ([]byte, error) {
		return make([]byte, 64), nil
	})
	lender, _ := NewLender(h.protocolEnv(), AaveV3)
	if _, err := lender.Balance(context.Background(), usdc); !clierr.Is(err, clierr.CodeRead) {
		t.Fatalf("expected read error, got %v", err)
	}
}
