package protocols

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution/executiontest"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/smartaccount"
)

var (
	dsaIndex   = common.HexToAddress("0x1eE00C305C51Ff3bE60162456A9B533C07cD9288")
	basicConn  = common.HexToAddress("0x94aFEAAD699720F6eE75E1AD90497cE1Eb02624e")
	fluidConn  = common.HexToAddress("0x0000000000000000000000000000000000000f1d")
	dsaAccount = common.HexToAddress("0x00000000000000000000000000000000000000d5")
)

type dsaRecord struct {
	Id      *big.Int
	Account common.Address
	Version *big.Int
}

func newFluidHarness(t *testing.T, accounts ...common.Address) (*harness, Lender) {
	t.Helper()
	return newFluidHarnessWith(t, map[string]string{"BASIC-A": basicConn.Hex(), "FLUID-A": fluidConn.Hex()}, accounts...)
}

func newFluidHarnessWith(t *testing.T, connectors map[string]string, accounts ...common.Address) (*harness, Lender) {
	t.Helper()
	h := newHarness(t, testSettings())
	records := make([]dsaRecord, 0, len(accounts))
	for i, a := range accounts {
		records = append(records, dsaRecord{Id: big.NewInt(int64(i + 1)), Account: a, Version: big.NewInt(1)})
	}
	h.backend.Returns(dsaIndex, h.env.Registry.MustABI(registry.ABIDSAIndex), "getAccounts", records)
	gw, err := smartaccount.New(h.env.Engine, config.SmartAccountSettings{
		Index:      map[string]string{"arbitrum": dsaIndex.Hex()},
		Version:    1,
		Connectors: map[string]map[string]string{"arbitrum": connectors},
	}, h.env.Registry, nil)
	if err != nil {
		t.Fatalf("new smart account gateway: %v", err)
	}
	env := h.protocolEnv()
	env.Accounts = gw
	lender, err := NewLender(env, Fluid)
	if err != nil {
		t.Fatalf("new fluid operator: %v", err)
	}
	return h, lender
}

func TestFluidSupplyCastsThroughAccount(t *testing.T) {
	h, lender := newFluidHarness(t, dsaAccount)
	out, err := lender.Supply(context.Background(), usdc, big.NewInt(1_000_000))
	if err != nil || !out.Confirmed() || out.Label != "fluid-supply" {
		t.Fatalf("supply failed: %+v err=%v", out, err)
	}
	approve := h.decode(t, registry.ABIERC20, "approve", 0)
	if approve[0].(common.Address) != dsaAccount {
		t.Fatalf("approval must target the smart account, got %v", approve)
	}
	if *h.backend.Sent[1].To() != dsaAccount {
		t.Fatal("cast must be sent to the smart account")
	}
	args := h.decode(t, registry.ABIDSAAccount, "cast", 1)
	targets := args[0].([]common.Address)
	if len(targets) != 2 || targets[0] != basicConn || targets[1] != fluidConn {
		t.Fatalf("expected basic then fluid spells, got %v", targets)
	}
}

func TestFluidSupplyRequiresFToken(t *testing.T) {
	_, lender := newFluidHarness(t, dsaAccount)
	if _, err := lender.Supply(context.Background(), weth, big.NewInt(1)); !clierr.Is(err, clierr.CodeUnsupportedToken) {
		t.Fatalf("expected unsupported token, got %v", err)
	}
	if ok, _ := lender.CheckTokenSupport(context.Background(), weth); ok {
		t.Fatal("weth has no fToken and must be unsupported")
	}
}

func TestFluidBalanceAndWithdraw(t *testing.T) {
	h, lender := newFluidHarness(t, dsaAccount)
	h.backend.Returns(fusdc, h.erc20, "balanceOf", big.NewInt(900_000))
	h.backend.Handle(fusdc, h.env.Registry.MustABI(registry.ABISiloVault), "convertToAssets", func(args []any) ([]any, error) {
		return []any{big.NewInt(1_000_000)}, nil
	})

	balance, err := lender.Balance(context.Background(), usdc)
	if err != nil || balance.Int64() != 1_000_000 {
		t.Fatalf("expected asset balance 1000000, got %v err=%v", balance, err)
	}
	if _, err := lender.Withdraw(context.Background(), usdc, big.NewInt(1_000_001)); !clierr.Is(err, clierr.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient position, got %v", err)
	}
	out, err := lender.Withdraw(context.Background(), usdc, big.NewInt(1_000_000))
	if err != nil || !out.Confirmed() {
		t.Fatalf("withdraw failed: %+v err=%v", out, err)
	}
	args := h.decode(t, registry.ABIDSAAccount, "cast", 0)
	if targets := args[0].([]common.Address); len(targets) != 1 || targets[0] != fluidConn {
		t.Fatalf("expected a single fluid spell, got %v", targets)
	}
	spell, err := h.env.Registry.MustABI(registry.ABIDSAConnector).Methods["withdraw"].Inputs.Unpack(args[1].([][]byte)[0][4:])
	if err != nil {
		t.Fatal(err)
	}
	if spell[2].(common.Address) != executiontest.Owner {
		t.Fatalf("withdrawn funds must go to the signer, got %v", spell[2])
	}
}

func TestFluidBalanceWithoutAccount(t *testing.T) {
	_, lender := newFluidHarness(t)
	balance, err := lender.Balance(context.Background(), usdc)
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("expected zero balance without an account, got %v err=%v", balance, err)
	}
}

func TestFluidMissingConnectorFailsBeforeBroadcast(t *testing.T) {
	h, lender := newFluidHarnessWith(t, map[string]string{"BASIC-A": basicConn.Hex()})
	if _, err := lender.Supply(context.Background(), usdc, big.NewInt(1_000_000)); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for missing FLUID-A, got %v", err)
	}
	if _, err := lender.Withdraw(context.Background(), usdc, big.NewInt(1)); !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error for missing FLUID-A, got %v", err)
	}
	if sent := h.backend.SentCount(); sent != 0 {
		t.Fatalf("expected no transactions, got %d", sent)
	}
}
