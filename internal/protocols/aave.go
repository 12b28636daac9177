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

// aaveDialect captures what differs between pool generations.
type aaveDialect struct {
	abiName     string
	supplyEntry string
	// aTokenWord is the getReserveData return word holding the aToken.
	aTokenWord int
}

var (
	aaveV3Dialect = aaveDialect{abiName: registry.ABIAaveV3Pool, supplyEntry: "supply", aTokenWord: 8}
	aaveV2Dialect = aaveDialect{abiName: registry.ABIAaveV2Pool, supplyEntry: "deposit", aTokenWord: 7}
)

// Reserve is the part of a pool's reserve data the operator uses.
type Reserve struct {
	execution.ReserveState
	AToken common.Address `json:"a_token"`
}

type aaveOperator struct {
	base
	dialect aaveDialect
	pool    common.Address
	poolABI *abi.ABI
}

func newAave(env Env, protocol Protocol, dialect aaveDialect) (*aaveOperator, error) {
	pool, err := env.Registry.Address(string(protocol), env.Engine.Network())
	if err != nil {
		return nil, err
	}
	poolABI, err := env.Registry.ABI(dialect.abiName)
	if err != nil {
		return nil, err
	}
	return &aaveOperator{base: newBase(env, protocol), dialect: dialect, pool: pool, poolABI: poolABI}, nil
}

// Reserve reads getReserveData as raw words since the struct layout
// differs between pool generations.
func (a *aaveOperator) Reserve(ctx context.Context, token common.Address) (Reserve, error) {
	data, err := a.poolABI.Pack("getReserveData", token)
	if err != nil {
		return Reserve{}, clierr.Wrap(clierr.CodeInternal, "pack getReserveData", err)
	}
	raw, err := a.engine.CallRaw(ctx, a.pool, data)
	if err != nil {
		return Reserve{}, err
	}
	if len(raw) < 32*(a.dialect.aTokenWord+1) {
		return Reserve{}, clierr.New(clierr.CodeRead, fmt.Sprintf("short getReserveData response (%d bytes)", len(raw)))
	}
	word := func(i int) []byte { return raw[32*i : 32*(i+1)] }
	return Reserve{
		ReserveState: execution.ReserveFlags(new(big.Int).SetBytes(word(0))),
		AToken:       common.BytesToAddress(word(a.dialect.aTokenWord)),
	}, nil
}

func (a *aaveOperator) CheckTokenSupport(ctx context.Context, token common.Address) (bool, error) {
	reserve, err := a.Reserve(ctx, token)
	if err != nil {
		return false, err
	}
	return reserve.Active && !reserve.Frozen && reserve.AToken != (common.Address{}), nil
}

func (a *aaveOperator) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	reserve, err := a.Reserve(ctx, token)
	if err != nil {
		return nil, err
	}
	if reserve.AToken == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUnsupportedToken, fmt.Sprintf("%s has no reserve for %s on %s", a.protocol, token.Hex(), a.Network()))
	}
	return a.engine.BalanceOf(ctx, reserve.AToken, a.owner())
}

func (a *aaveOperator) Supply(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	label := string(a.protocol) + "-supply"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(a.Network(), label, err), err
	}
	reserve, err := a.Reserve(ctx, token)
	if err != nil {
		return failedOutcome(a.Network(), label, err), err
	}
	if !reserve.Active || reserve.Frozen {
		err := clierr.New(clierr.CodeContractState, fmt.Sprintf("%s reserve for %s is not accepting deposits (active=%t frozen=%t)", a.protocol, token.Hex(), reserve.Active, reserve.Frozen))
		return execution.Skipped(a.Network(), label, err.Error()), err
	}
	if err := a.requireWalletBalance(ctx, token, amount); err != nil {
		return execution.Skipped(a.Network(), label, err.Error()), err
	}
	if approval, err := a.approve(ctx, token, a.pool, amount); err != nil {
		return approvalFailure(a.Network(), label, approval, err), err
	}
	a.logger.Info("supplying",
		zap.String("token", token.Hex()),
		zap.String("amount", a.engine.FormatUnits(ctx, token, amount)))
	return a.engine.Invoke(ctx, label, a.pool, a.poolABI, a.dialect.supplyEntry, nil, token, amount, a.owner(), uint16(0))
}

func (a *aaveOperator) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	label := string(a.protocol) + "-withdraw"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(a.Network(), label, err), err
	}
	balance, err := a.Balance(ctx, token)
	if err != nil {
		return failedOutcome(a.Network(), label, err), err
	}
	if balance.Cmp(amount) < 0 {
		err := clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"insufficient %s position: have %s, need %s", a.protocol,
			a.engine.FormatUnits(ctx, token, balance), a.engine.FormatUnits(ctx, token, amount)))
		return execution.Skipped(a.Network(), label, err.Error()), err
	}
	a.logger.Info("withdrawing",
		zap.String("token", token.Hex()),
		zap.String("amount", a.engine.FormatUnits(ctx, token, amount)))
	return a.engine.Invoke(ctx, label, a.pool, a.poolABI, "withdraw", nil, token, amount, a.owner())
}
