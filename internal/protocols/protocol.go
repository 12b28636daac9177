// Package protocols holds the closed set of protocol operators built on the
// shared execution engine.
package protocols

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/smartaccount"
	"github.com/ggonzalez94/yieldmove/internal/vault"
)

type Protocol string

const (
	AaveV3     Protocol = "aave-v3"
	AaveV2     Protocol = "aave-v2"
	Lendle     Protocol = "lendle"
	CompoundV3 Protocol = "compound-v3"
	UniswapV3  Protocol = "uniswap-v3"
	SiloV2     Protocol = "silo-v2"
	Fluid      Protocol = "fluid"
)

var All = []Protocol{AaveV3, AaveV2, Lendle, CompoundV3, UniswapV3, SiloV2, Fluid}

var protocolAliases = map[string]Protocol{
	"aave":        AaveV3,
	"aave-v3":     AaveV3,
	"aave_v3":     AaveV3,
	"aave-v2":     AaveV2,
	"aave_v2":     AaveV2,
	"lendle":      Lendle,
	"compound":    CompoundV3,
	"comet":       CompoundV3,
	"compound-v3": CompoundV3,
	"compound_v3": CompoundV3,
	"uniswap":     UniswapV3,
	"uniswap-v3":  UniswapV3,
	"uniswap_v3":  UniswapV3,
	"silo":        SiloV2,
	"silo-v2":     SiloV2,
	"silo_v2":     SiloV2,
	"fluid":       Fluid,
}

func Parse(raw string) (Protocol, error) {
	p, ok := protocolAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported protocol %q", raw))
	}
	return p, nil
}

// Operator is the surface every protocol variant exposes.
type Operator interface {
	Protocol() Protocol
	Network() string
	// Balance is the signer's position in the protocol, in token units.
	Balance(ctx context.Context, token common.Address) (*big.Int, error)
	// CheckTokenSupport reports whether the protocol currently accepts token.
	CheckTokenSupport(ctx context.Context, token common.Address) (bool, error)
}

// Lender moves funds in and out of a lending position. Amounts are in the
// token's smallest unit.
type Lender interface {
	Operator
	Supply(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error)
	Withdraw(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error)
}

type Swapper interface {
	Operator
	Swap(ctx context.Context, req SwapRequest) (SwapResult, error)
}

// Env carries what the factory needs to build any variant on one network.
type Env struct {
	Engine   *execution.Engine
	Registry *registry.Registry
	Settings config.Settings

	// Vaults and Market are required for silo-v2; Collateral defaults to
	// protected.
	Vaults     *vault.Resolver
	Market     string
	Collateral vault.CollateralType

	// Accounts is required for fluid.
	Accounts *smartaccount.Gateway

	Logger *zap.Logger
}

// New builds the operator for protocol on env's network.
func New(env Env, protocol Protocol) (Operator, error) {
	if env.Engine == nil || env.Registry == nil {
		return nil, clierr.New(clierr.CodeInternal, "protocol environment is missing engine or registry")
	}
	switch protocol {
	case AaveV3:
		return newAave(env, protocol, aaveV3Dialect)
	case AaveV2:
		return newAave(env, protocol, aaveV2Dialect)
	case Lendle:
		return newAave(env, protocol, aaveV2Dialect)
	case CompoundV3:
		return newCompound(env)
	case UniswapV3:
		return newUniswap(env)
	case SiloV2:
		return newSilo(env)
	case Fluid:
		return newFluid(env)
	default:
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported protocol %q", protocol))
	}
}

// NewLender builds protocol and requires it to support supply/withdraw.
func NewLender(env Env, protocol Protocol) (Lender, error) {
	op, err := New(env, protocol)
	if err != nil {
		return nil, err
	}
	lender, ok := op.(Lender)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s does not support supply and withdraw", protocol))
	}
	return lender, nil
}

// NewSwapper builds protocol and requires it to support swaps.
func NewSwapper(env Env, protocol Protocol) (Swapper, error) {
	op, err := New(env, protocol)
	if err != nil {
		return nil, err
	}
	swapper, ok := op.(Swapper)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s does not support swaps", protocol))
	}
	return swapper, nil
}

type base struct {
	protocol Protocol
	engine   *execution.Engine
	logger   *zap.Logger
}

func newBase(env Env, protocol Protocol) base {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		protocol: protocol,
		engine:   env.Engine,
		logger:   logger.Named(string(protocol)).With(zap.String("network", env.Engine.Network())),
	}
}

func (b base) Protocol() Protocol {
	return b.protocol
}

func (b base) Network() string {
	return b.engine.Network()
}

func (b base) owner() common.Address {
	return b.engine.Address()
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	return nil
}

// requireWalletBalance checks the signer holds at least amount of token.
func (b base) requireWalletBalance(ctx context.Context, token common.Address, amount *big.Int) error {
	balance, err := b.engine.BalanceOf(ctx, token, b.owner())
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"insufficient %s balance: have %s, need %s",
			b.engine.Tokens().Symbol(token, b.Network()),
			b.engine.FormatUnits(ctx, token, balance),
			b.engine.FormatUnits(ctx, token, amount),
		))
	}
	return nil
}

// approve makes sure spender may pull amount of token, returning the failed
// approval outcome when it did not confirm.
func (b base) approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*execution.Outcome, error) {
	approval, err := b.engine.EnsureAllowance(ctx, token, spender, amount)
	if err != nil {
		return approval, err
	}
	if approval != nil {
		b.logger.Info("approved spender",
			zap.String("token", token.Hex()),
			zap.String("spender", spender.Hex()),
			zap.String("tx", approval.TxHash))
	}
	return approval, nil
}

func failedOutcome(network, label string, err error) execution.Outcome {
	return execution.Outcome{Label: label, Status: execution.StatusSubmissionFailed, Network: network, Reason: err.Error()}
}

// approvalFailure picks the outcome to report when an approval did not go
// through.
func approvalFailure(network, label string, approval *execution.Outcome, err error) execution.Outcome {
	if approval != nil {
		return *approval
	}
	return failedOutcome(network, label, err)
}
