package protocols

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/smartaccount"
)

const (
	basicConnector = "BASIC-A"
	fluidConnector = "FLUID-A"
)

// fluidOperator routes lending through the signer's smart account: funds are
// pulled into the account by the basic connector and lent by the fluid one.
type fluidOperator struct {
	base
	accounts *smartaccount.Gateway
	erc4626  *abi.ABI
}

func newFluid(env Env) (*fluidOperator, error) {
	if env.Accounts == nil {
		return nil, clierr.New(clierr.CodeConfig, "fluid operator requires a smart account gateway")
	}
	erc4626, err := env.Registry.ABI(registry.ABISiloVault)
	if err != nil {
		return nil, err
	}
	return &fluidOperator{base: newBase(env, Fluid), accounts: env.Accounts, erc4626: erc4626}, nil
}

// fToken resolves the position token configured as "F" + the asset symbol.
func (f *fluidOperator) fToken(token common.Address) (common.Address, error) {
	symbol := f.engine.Tokens().Symbol(token, f.Network())
	if common.IsHexAddress(symbol) {
		return common.Address{}, clierr.New(clierr.CodeUnsupportedToken, fmt.Sprintf("token %s is not configured on %s", token.Hex(), f.Network()))
	}
	return f.engine.Tokens().Address("F"+symbol, f.Network())
}

func (f *fluidOperator) CheckTokenSupport(_ context.Context, token common.Address) (bool, error) {
	if _, err := f.fToken(token); err != nil {
		return false, nil
	}
	return true, nil
}

// Balance is the asset value of the account's fToken shares. Without an
// account the balance is zero.
func (f *fluidOperator) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	fToken, err := f.fToken(token)
	if err != nil {
		return nil, err
	}
	accounts, err := f.accounts.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return new(big.Int), nil
	}
	shares, err := f.engine.BalanceOf(ctx, fToken, accounts[0].Address)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return shares, nil
	}
	assets, err := f.engine.CallBigInt(ctx, fToken, f.erc4626, "convertToAssets", shares)
	if err != nil {
		f.logger.Debug("convertToAssets failed, reporting shares", zap.Error(err))
		return shares, nil
	}
	return assets, nil
}

// requireConnectors resolves every connector a batch will use, so a
// misconfigured network fails before the account build or approval.
func (f *fluidOperator) requireConnectors(names ...string) error {
	for _, name := range names {
		if _, _, err := f.accounts.ResolveConnector(name); err != nil {
			return err
		}
	}
	return nil
}

func (f *fluidOperator) Supply(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	label := "fluid-supply"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(f.Network(), label, err), err
	}
	if err := f.requireConnectors(basicConnector, fluidConnector); err != nil {
		return failedOutcome(f.Network(), label, err), err
	}
	if _, err := f.fToken(token); err != nil {
		return failedOutcome(f.Network(), label, err), err
	}
	if err := f.requireWalletBalance(ctx, token, amount); err != nil {
		return execution.Skipped(f.Network(), label, err.Error()), err
	}
	account, built, err := f.accounts.EnsureAccount(ctx)
	if err != nil {
		if built != nil {
			return *built, err
		}
		return failedOutcome(f.Network(), label, err), err
	}
	if approval, err := f.approve(ctx, token, account.Address, amount); err != nil {
		return approvalFailure(f.Network(), label, approval, err), err
	}
	zero := big.NewInt(0)
	f.logger.Info("supplying through smart account",
		zap.String("account", account.Address.Hex()),
		zap.String("amount", f.engine.FormatUnits(ctx, token, amount)))
	return f.accounts.NewBatch().
		Add(basicConnector, "deposit", token, amount, zero, zero).
		Add(fluidConnector, "deposit", token, amount, zero, zero).
		Cast(ctx, smartaccount.CastOptions{Label: label, Account: account.Address})
}

func (f *fluidOperator) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	label := "fluid-withdraw"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(f.Network(), label, err), err
	}
	if err := f.requireConnectors(fluidConnector); err != nil {
		return failedOutcome(f.Network(), label, err), err
	}
	balance, err := f.Balance(ctx, token)
	if err != nil {
		return failedOutcome(f.Network(), label, err), err
	}
	if balance.Cmp(amount) < 0 {
		err := clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"insufficient fluid position: have %s, need %s",
			f.engine.FormatUnits(ctx, token, balance), f.engine.FormatUnits(ctx, token, amount)))
		return execution.Skipped(f.Network(), label, err.Error()), err
	}
	zero := big.NewInt(0)
	f.logger.Info("withdrawing through smart account", zap.String("amount", f.engine.FormatUnits(ctx, token, amount)))
	return f.accounts.NewBatch().
		Add(fluidConnector, "withdraw", token, amount, f.owner(), zero, zero).
		Cast(ctx, smartaccount.CastOptions{Label: label})
}
