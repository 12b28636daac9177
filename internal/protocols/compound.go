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
)

// cometAssetInfo mirrors the getAssetInfoByAddress tuple.
type cometAssetInfo struct {
	Offset                    uint8
	Asset                     common.Address
	PriceFeed                 common.Address
	Scale                     uint64
	BorrowCollateralFactor    uint64
	LiquidateCollateralFactor uint64
	LiquidationFactor         uint64
	SupplyCap                 *big.Int
}

type compoundOperator struct {
	base
	comet    common.Address
	cometABI *abi.ABI
}

func newCompound(env Env) (*compoundOperator, error) {
	comet, err := env.Registry.Address(string(CompoundV3), env.Engine.Network())
	if err != nil {
		return nil, err
	}
	cometABI, err := env.Registry.ABI(registry.ABIComet)
	if err != nil {
		return nil, err
	}
	return &compoundOperator{base: newBase(env, CompoundV3), comet: comet, cometABI: cometABI}, nil
}

func (c *compoundOperator) baseToken(ctx context.Context) (common.Address, error) {
	return c.engine.CallAddress(ctx, c.comet, c.cometABI, "baseToken")
}

func (c *compoundOperator) paused(ctx context.Context, method string) (bool, error) {
	out, err := c.engine.Call(ctx, c.comet, c.cometABI, method)
	if err != nil {
		return false, err
	}
	paused, ok := out[0].(bool)
	if !ok {
		return false, clierr.New(clierr.CodeRead, fmt.Sprintf("unexpected %s output type %T", method, out[0]))
	}
	return paused, nil
}

// CheckTokenSupport accepts the base asset and any listed collateral while
// supply is not paused.
func (c *compoundOperator) CheckTokenSupport(ctx context.Context, token common.Address) (bool, error) {
	paused, err := c.paused(ctx, "isSupplyPaused")
	if err != nil {
		return false, err
	}
	if paused {
		return false, nil
	}
	baseToken, err := c.baseToken(ctx)
	if err != nil {
		return false, err
	}
	if token == baseToken {
		return true, nil
	}
	out, err := c.engine.Call(ctx, c.comet, c.cometABI, "getAssetInfoByAddress", token)
	if err != nil {
		// Comet reverts for unlisted assets.
		return false, nil
	}
	var info cometAssetInfo
	if converted, ok := abi.ConvertType(out[0], new(cometAssetInfo)).(*cometAssetInfo); ok {
		info = *converted
	}
	return info.Asset == token, nil
}

// Balance is the base-asset supply balance or the collateral balance.
func (c *compoundOperator) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	baseToken, err := c.baseToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == baseToken {
		return c.engine.CallBigInt(ctx, c.comet, c.cometABI, "balanceOf", c.owner())
	}
	return c.engine.CallBigInt(ctx, c.comet, c.cometABI, "collateralBalanceOf", c.owner(), token)
}

func (c *compoundOperator) Supply(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	label := string(CompoundV3) + "-supply"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(c.Network(), label, err), err
	}
	if paused, err := c.paused(ctx, "isSupplyPaused"); err != nil {
		return failedOutcome(c.Network(), label, err), err
	} else if paused {
		err := clierr.New(clierr.CodeContractState, "comet supply is paused")
		return execution.Skipped(c.Network(), label, err.Error()), err
	}
	if err := c.requireWalletBalance(ctx, token, amount); err != nil {
		return execution.Skipped(c.Network(), label, err.Error()), err
	}
	if approval, err := c.approve(ctx, token, c.comet, amount); err != nil {
		return approvalFailure(c.Network(), label, approval, err), err
	}
	c.logger.Info("supplying", zap.String("token", token.Hex()), zap.String("amount", c.engine.FormatUnits(ctx, token, amount)))
	return c.engine.Invoke(ctx, label, c.comet, c.cometABI, "supply", nil, token, amount)
}

func (c *compoundOperator) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	label := string(CompoundV3) + "-withdraw"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(c.Network(), label, err), err
	}
	if paused, err := c.paused(ctx, "isWithdrawPaused"); err != nil {
		return failedOutcome(c.Network(), label, err), err
	} else if paused {
		err := clierr.New(clierr.CodeContractState, "comet withdraw is paused")
		return execution.Skipped(c.Network(), label, err.Error()), err
	}
	balance, err := c.Balance(ctx, token)
	if err != nil {
		return failedOutcome(c.Network(), label, err), err
	}
	if balance.Cmp(amount) < 0 {
		err := clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"insufficient comet position: have %s, need %s",
			c.engine.FormatUnits(ctx, token, balance), c.engine.FormatUnits(ctx, token, amount)))
		return execution.Skipped(c.Network(), label, err.Error()), err
	}
	c.logger.Info("withdrawing", zap.String("token", token.Hex()), zap.String("amount", c.engine.FormatUnits(ctx, token, amount)))
	return c.engine.Invoke(ctx, label, c.comet, c.cometABI, "withdraw", nil, token, amount)
}
