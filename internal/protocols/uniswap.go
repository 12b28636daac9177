package protocols

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/token"
)

const (
	DefaultFeeTier        uint32 = 500
	defaultDeadlineWindow        = 10 * time.Minute
	defaultFallbackPct           = 95.0
	quoterContractKey            = "uniswap-v3-quoter"
)

type SwapRequest struct {
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	SlippagePct float64
	// Recipient defaults to the signer.
	Recipient common.Address
}

type SwapResult struct {
	Outcome      execution.Outcome  `json:"outcome"`
	Approval     *execution.Outcome `json:"approval,omitempty"`
	Path         string             `json:"path"`
	FeeTier      uint32             `json:"fee_tier"`
	Quoted       bool               `json:"quoted"`
	MinAmountOut *big.Int           `json:"min_amount_out"`
	AmountOut    *big.Int           `json:"amount_out,omitempty"`
	// Measured is false when AmountOut fell back to MinAmountOut.
	Measured bool `json:"measured"`
}

// exactInputParams mirrors ISwapRouter.ExactInputParams.
type exactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

type uniswapOperator struct {
	base
	router      common.Address
	routerABI   *abi.ABI
	quoter      common.Address
	quoterABI   *abi.ABI
	feeTier     uint32
	fallbackPct float64
	deadline    time.Duration
}

func newUniswap(env Env) (*uniswapOperator, error) {
	network := env.Engine.Network()
	router, err := env.Registry.Address(string(UniswapV3), network)
	if err != nil {
		return nil, err
	}
	routerABI, err := env.Registry.ABI(registry.ABIUniswapV3Router)
	if err != nil {
		return nil, err
	}
	op := &uniswapOperator{
		base:        newBase(env, UniswapV3),
		router:      router,
		routerABI:   routerABI,
		feeTier:     DefaultFeeTier,
		fallbackPct: defaultFallbackPct,
		deadline:    defaultDeadlineWindow,
	}
	// The quoter is optional; swaps fall back to a fixed bound without it.
	if quoter, err := env.Registry.Address(quoterContractKey, network); err == nil {
		quoterABI, err := env.Registry.ABI(registry.ABIUniswapV3Quoter)
		if err != nil {
			return nil, err
		}
		op.quoter, op.quoterABI = quoter, quoterABI
	}
	settings := env.Settings.Uniswap
	if fee, ok := settings.FeeTier[config.NormalizeNetwork(network)]; ok && fee > 0 {
		op.feeTier = fee
	}
	if settings.FallbackMinOutPct > 0 && settings.FallbackMinOutPct <= 100 {
		op.fallbackPct = settings.FallbackMinOutPct
	}
	if settings.DeadlineWindow > 0 {
		op.deadline = settings.DeadlineWindow
	}
	return op, nil
}

// EncodePath builds the packed token|fee|token... path. fees must have one
// entry fewer than tokens.
func EncodePath(tokens []common.Address, fees []uint32) ([]byte, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid swap path: %d tokens, %d fees", len(tokens), len(fees)))
	}
	path := make([]byte, 0, len(tokens)*common.AddressLength+len(fees)*3)
	for i, t := range tokens {
		path = append(path, t.Bytes()...)
		if i < len(fees) {
			if fees[i] >= 1<<24 {
				return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("fee tier %d does not fit in 24 bits", fees[i]))
			}
			path = append(path, byte(fees[i]>>16), byte(fees[i]>>8), byte(fees[i]))
		}
	}
	return path, nil
}

// applyBps returns amount × (10000 − bps) / 10000.
func applyBps(amount *big.Int, bps int64) *big.Int {
	if bps < 0 {
		bps = 0
	}
	if bps > 10_000 {
		bps = 10_000
	}
	out := new(big.Int).Mul(amount, big.NewInt(10_000-bps))
	return out.Quo(out, big.NewInt(10_000))
}

func pctToBps(pct float64) int64 {
	return int64(math.Round(pct * 100))
}

// CheckTokenSupport is unconditional: pools exist per pair, not per token.
func (u *uniswapOperator) CheckTokenSupport(context.Context, common.Address) (bool, error) {
	return true, nil
}

// Balance is the signer's wallet balance; a swap leaves no position.
func (u *uniswapOperator) Balance(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	return u.engine.BalanceOf(ctx, tokenAddr, u.owner())
}

// Quote asks the quoter for the exact-input output of path.
func (u *uniswapOperator) Quote(ctx context.Context, path []byte, amountIn *big.Int) (*big.Int, error) {
	if u.quoterABI == nil {
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("no uniswap quoter configured for %s", u.Network()))
	}
	return u.engine.CallBigInt(ctx, u.quoter, u.quoterABI, "quoteExactInput", path, amountIn)
}

// minAmountOut derives the output bound from a quote, or from a fixed
// fraction of the input rescaled across decimals when quoting fails.
func (u *uniswapOperator) minAmountOut(ctx context.Context, req SwapRequest, path []byte) (*big.Int, bool) {
	quote, err := u.Quote(ctx, path, req.AmountIn)
	if err == nil && quote.Sign() > 0 {
		return applyBps(quote, pctToBps(req.SlippagePct)), true
	}
	u.logger.Warn("quote unavailable, using fallback bound",
		zap.Float64("fallback_pct", u.fallbackPct),
		zap.Error(err))
	bound := applyBps(req.AmountIn, pctToBps(100-u.fallbackPct))
	return token.Rescale(bound, u.engine.Decimals(ctx, req.TokenIn), u.engine.Decimals(ctx, req.TokenOut)), false
}

func (u *uniswapOperator) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	label := string(UniswapV3) + "-swap"
	result := SwapResult{FeeTier: u.feeTier}
	if err := requirePositive(req.AmountIn); err != nil {
		result.Outcome = failedOutcome(u.Network(), label, err)
		return result, err
	}
	if req.TokenIn == req.TokenOut {
		err := clierr.New(clierr.CodeUsage, "swap tokens must differ")
		result.Outcome = failedOutcome(u.Network(), label, err)
		return result, err
	}
	if req.SlippagePct < 0 || req.SlippagePct >= 100 {
		err := clierr.New(clierr.CodeUsage, fmt.Sprintf("slippage %.2f%% out of range", req.SlippagePct))
		result.Outcome = failedOutcome(u.Network(), label, err)
		return result, err
	}
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = u.owner()
	}

	path, err := EncodePath([]common.Address{req.TokenIn, req.TokenOut}, []uint32{u.feeTier})
	if err != nil {
		result.Outcome = failedOutcome(u.Network(), label, err)
		return result, err
	}
	result.Path = hexutil.Encode(path)

	if err := u.requireWalletBalance(ctx, req.TokenIn, req.AmountIn); err != nil {
		result.Outcome = execution.Skipped(u.Network(), label, err.Error())
		return result, err
	}
	approval, err := u.approve(ctx, req.TokenIn, u.router, req.AmountIn)
	result.Approval = approval
	if err != nil {
		result.Outcome = approvalFailure(u.Network(), label, approval, err)
		return result, err
	}

	result.MinAmountOut, result.Quoted = u.minAmountOut(ctx, req, path)
	now, err := u.engine.BlockTimestamp(ctx)
	if err != nil {
		result.Outcome = failedOutcome(u.Network(), label, err)
		return result, err
	}
	deadline := new(big.Int).SetUint64(now + uint64(u.deadline/time.Second))

	before, balanceErr := u.engine.BalanceOf(ctx, req.TokenOut, recipient)
	u.logger.Info("swapping",
		zap.String("token_in", req.TokenIn.Hex()),
		zap.String("token_out", req.TokenOut.Hex()),
		zap.String("amount_in", u.engine.FormatUnits(ctx, req.TokenIn, req.AmountIn)),
		zap.String("min_amount_out", u.engine.FormatUnits(ctx, req.TokenOut, result.MinAmountOut)),
		zap.Bool("quoted", result.Quoted))
	result.Outcome, err = u.engine.Invoke(ctx, label, u.router, u.routerABI, "exactInput", nil, exactInputParams{
		Path:             path,
		Recipient:        recipient,
		Deadline:         deadline,
		AmountIn:         req.AmountIn,
		AmountOutMinimum: result.MinAmountOut,
	})
	if err != nil {
		return result, err
	}

	result.AmountOut = result.MinAmountOut
	if balanceErr == nil {
		after, err := u.engine.BalanceOf(ctx, req.TokenOut, recipient)
		if err == nil && after.Cmp(before) > 0 {
			result.AmountOut = new(big.Int).Sub(after, before)
			result.Measured = true
		}
	}
	if !result.Measured {
		u.logger.Warn("could not measure swap output, reporting the minimum bound", zap.String("tx", result.Outcome.TxHash))
	}
	return result, nil
}
