package workflow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/yieldmove/internal/bookkeeping"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
	"github.com/ggonzalez94/yieldmove/internal/protocols"
	"github.com/ggonzalez94/yieldmove/internal/telemetry"
	"github.com/ggonzalez94/yieldmove/internal/token"
	"github.com/ggonzalez94/yieldmove/internal/vault"
)

const (
	// minimumPositionMilli is the smallest silo position worth moving, in
	// thousandths of a token.
	minimumPositionMilli = 1
	// minimumLiquidityPct is the share of a position that must be
	// withdrawable for a silo transfer to start.
	minimumLiquidityPct = 1
)

// Target addresses one operator.
type Target struct {
	Network  string
	Protocol protocols.Protocol
	Market   string
}

// Factory builds engines and operators for the networks a workflow touches.
type Factory interface {
	Engine(ctx context.Context, network string) (*execution.Engine, error)
	Operator(ctx context.Context, target Target) (protocols.Operator, error)
}

// StepCallback runs after every confirmed step. Errors are logged.
type StepCallback func(ctx context.Context, rec Recommendation, step Step) error

// ResultStore persists finished results.
type ResultStore interface {
	Save(result ExecutionResult) error
}

// Archiver ships finished results to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, result ExecutionResult) error
}

type Executor struct {
	factory     Factory
	onStep      StepCallback
	recorder    bookkeeping.Recorder
	store       ResultStore
	archiver    Archiver
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	settleDelay time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Executor)

func WithStepCallback(fn StepCallback) Option {
	return func(x *Executor) { x.onStep = fn }
}

func WithRecorder(r bookkeeping.Recorder) Option {
	return func(x *Executor) { x.recorder = r }
}

func WithStore(s ResultStore) Option {
	return func(x *Executor) { x.store = s }
}

func WithArchiver(a Archiver) Option {
	return func(x *Executor) { x.archiver = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(x *Executor) { x.tracer = t }
}

// WithSettleDelay sets the pause between a silo withdraw and the deposit.
func WithSettleDelay(d time.Duration) Option {
	return func(x *Executor) { x.settleDelay = d }
}

func NewExecutor(factory Factory, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &Executor{
		factory:     factory,
		tracer:      telemetry.Tracer("workflow"),
		settleDelay: 5 * time.Second,
		now:         time.Now,
		logger:      logger.Named("workflow"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs rec to completion. The returned error is nil only when the
// result status is success; the result is always populated once rec is
// valid.
func (x *Executor) Execute(ctx context.Context, rec Recommendation) (ExecutionResult, error) {
	if err := rec.Validate(); err != nil {
		return ExecutionResult{}, err
	}
	ctx, span := x.tracer.Start(ctx, "workflow.Execute", trace.WithAttributes(
		attribute.String("kind", string(rec.Kind)),
		attribute.String("asset", rec.Asset),
		attribute.String("network", rec.SourceChain),
	))
	defer span.End()

	res := newResult(rec, x.now())
	logger := x.logger.With(zap.String("id", res.ID), zap.String("kind", string(rec.Kind)), zap.String("asset", res.Asset))
	logger.Info("workflow started")

	switch rec.Kind {
	case KindStandardTransfer:
		x.standardTransfer(ctx, rec, res, logger)
	case KindSiloMarketTransfer:
		x.siloTransfer(ctx, rec, res, logger)
	}
	x.finish(ctx, res, logger)

	span.SetAttributes(attribute.String("status", string(res.Status)))
	err := res.Err()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return *res, err
}

func (x *Executor) standardTransfer(ctx context.Context, rec Recommendation, res *ExecutionResult, logger *zap.Logger) {
	if rec.crossChain() {
		res.fail(ReasonNotImplemented, clierr.New(clierr.CodeUnsupported,
			fmt.Sprintf("cross-chain transfer %s -> %s is not implemented", rec.SourceChain, rec.targetChain())))
		return
	}
	network := res.Network
	engine, err := x.factory.Engine(ctx, network)
	if err != nil {
		res.fail(ReasonConfiguration, err)
		return
	}
	srcProtocol, _ := protocols.Parse(rec.SourceProtocol)
	dstProtocol, _ := protocols.Parse(rec.TargetProtocol)
	source, err := x.lender(ctx, Target{Network: network, Protocol: srcProtocol, Market: rec.SourceMarket})
	if err != nil {
		res.fail(ReasonConfiguration, err)
		return
	}
	target, err := x.lender(ctx, Target{Network: network, Protocol: dstProtocol, Market: rec.TargetMarket})
	if err != nil {
		res.fail(ReasonConfiguration, err)
		return
	}

	tokenIn, err := engine.Tokens().Address(rec.Asset, network)
	if err != nil {
		res.fail(ReasonUnsupportedToken, err)
		return
	}
	targetAsset := rec.Asset
	if strings.TrimSpace(rec.TargetAsset) != "" {
		targetAsset = rec.TargetAsset
	}
	tokenOut, err := engine.Tokens().Address(targetAsset, network)
	if err != nil {
		res.fail(ReasonUnsupportedToken, err)
		return
	}
	amount, err := engine.ToSmallestUnit(ctx, tokenIn, rec.PositionSize)
	if err != nil {
		res.fail(reasonFor(err, ReasonConfiguration), err)
		return
	}
	res.AmountRequested = rec.PositionSize

	var swapper protocols.Swapper
	if tokenOut != tokenIn {
		supported, err := target.CheckTokenSupport(ctx, tokenOut)
		if err != nil {
			res.fail(ReasonUnsupportedToken, err)
			return
		}
		if !supported {
			res.fail(ReasonUnsupportedToken, clierr.New(clierr.CodeUnsupportedToken,
				fmt.Sprintf("%s does not accept %s on %s", dstProtocol, targetAsset, network)))
			return
		}
		op, err := x.factory.Operator(ctx, Target{Network: network, Protocol: protocols.UniswapV3})
		if err != nil {
			res.fail(ReasonConfiguration, err)
			return
		}
		var ok bool
		if swapper, ok = op.(protocols.Swapper); !ok {
			res.fail(ReasonConfiguration, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s cannot swap", op.Protocol())))
			return
		}
	}

	out, err := source.Withdraw(ctx, tokenIn, amount)
	step := x.step(ctx, rec, res, newStep("withdraw", srcProtocol, network, out, err))
	if step.Status != StepConfirmed {
		res.fail(reasonFor(err, ReasonWithdrawalError), stepErr(step, err))
		return
	}
	logger.Info("withdrawn", zap.String("protocol", string(srcProtocol)), zap.String("tx", out.TxHash))

	supplyToken, supplyAmount := tokenIn, amount
	if swapper != nil {
		swap, err := swapper.Swap(ctx, protocols.SwapRequest{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amount, SlippagePct: rec.SlippagePct})
		step := newStep("swap", protocols.UniswapV3, network, swap.Outcome, err)
		if swap.AmountOut != nil {
			step.Amount = engine.FormatUnits(ctx, tokenOut, swap.AmountOut)
		}
		step = x.step(ctx, rec, res, step)
		if step.Status != StepConfirmed || swap.AmountOut == nil || swap.AmountOut.Sign() <= 0 {
			res.partial(ReasonSwapError, stepErr(step, err))
			return
		}
		if !swap.Measured {
			logger.Warn("swap output not measured, supplying the minimum output", zap.String("min_out", swap.MinAmountOut.String()))
		}
		supplyToken, supplyAmount = tokenOut, swap.AmountOut
	}

	out, err = target.Supply(ctx, supplyToken, supplyAmount)
	step = newStep("supply", dstProtocol, network, out, err)
	step.Amount = engine.FormatUnits(ctx, supplyToken, supplyAmount)
	step = x.step(ctx, rec, res, step)
	if step.Status != StepConfirmed {
		res.partial(ReasonDepositError, stepErr(step, err))
		return
	}

	res.AmountTransferred = step.Amount
	res.succeed()
	x.bookkeep(ctx, bookkeeping.PositionUpdate{
		OldPoolID: bookkeeping.PoolID(rec.Asset, network, string(srcProtocol)),
		NewPoolID: bookkeeping.PoolID(targetAsset, network, string(dstProtocol)),
		Amount:    res.AmountTransferred,
		TxHash:    out.TxHash,
	}, logger)
}

func (x *Executor) siloTransfer(ctx context.Context, rec Recommendation, res *ExecutionResult, logger *zap.Logger) {
	if rec.crossChain() {
		res.fail(ReasonNotImplemented, clierr.New(clierr.CodeUnsupported, "cross-chain silo transfers are not implemented"))
		return
	}
	network := res.Network
	engine, err := x.factory.Engine(ctx, network)
	if err != nil {
		res.fail(ReasonConfiguration, err)
		return
	}
	asset, err := engine.Tokens().Address(rec.Asset, network)
	if err != nil {
		res.fail(ReasonUnsupportedToken, err)
		return
	}
	source, err := x.vaultOperator(ctx, Target{Network: network, Protocol: protocols.SiloV2, Market: rec.SourceMarket})
	if err != nil {
		res.fail(ReasonConfiguration, err)
		return
	}
	target, err := x.vaultOperator(ctx, Target{Network: network, Protocol: protocols.SiloV2, Market: rec.TargetMarket})
	if err != nil {
		res.fail(ReasonConfiguration, err)
		return
	}

	var (
		srcVault, dstVault vault.Descriptor
		srcErr, dstErr     error
		g                  errgroup.Group
	)
	g.Go(func() error {
		srcVault, srcErr = source.Vault(ctx, asset)
		return srcErr
	})
	g.Go(func() error {
		dstVault, dstErr = target.Vault(ctx, asset)
		return dstErr
	})
	_ = g.Wait()
	if srcErr != nil {
		res.fail(ReasonSourceSiloNotFound, srcErr)
		return
	}
	if dstErr != nil {
		res.fail(ReasonTargetSiloNotFound, dstErr)
		return
	}
	logger = logger.With(zap.String("source_vault", srcVault.Address.Hex()), zap.String("target_vault", dstVault.Address.Hex()))
	x.logSnapshots(ctx, source, srcVault, target, dstVault, logger)

	info, err := source.GetWithdrawalInfo(ctx, srcVault.Address, srcVault.CollateralType)
	if err != nil {
		res.fail(ReasonWithdrawalError, err)
		return
	}
	if info.TotalBalance.Cmp(minimumPosition(srcVault.Decimals)) < 0 {
		res.fail(ReasonInsufficientBalance, clierr.New(clierr.CodeInsufficientBalance,
			fmt.Sprintf("position of %s %s in market %s is below the minimum", token.FormatUnits(info.TotalBalance, srcVault.Decimals), res.Asset, rec.SourceMarket)))
		return
	}
	if info.LiquidityPct < minimumLiquidityPct {
		res.fail(ReasonInsufficientWithdrawableFunds, clierr.New(clierr.CodeInsufficientBalance,
			fmt.Sprintf("only %.2f%% of the position in market %s is withdrawable", info.LiquidityPct, rec.SourceMarket)))
		return
	}

	amount := new(big.Int).Set(info.AvailableBalance)
	if strings.TrimSpace(rec.PositionSize) != "" {
		requested, err := token.ParseUnits(rec.PositionSize, srcVault.Decimals)
		if err != nil {
			res.fail(ReasonConfiguration, clierr.Wrap(clierr.CodeUsage, "parse position_size", err))
			return
		}
		res.AmountRequested = rec.PositionSize
		if requested.Cmp(amount) < 0 {
			amount = requested
		}
	} else {
		res.AmountRequested = token.FormatUnits(info.TotalBalance, srcVault.Decimals)
	}

	before, balanceErr := engine.BalanceOf(ctx, asset, engine.Address())
	out, err := source.WithdrawFrom(ctx, srcVault.Address, amount, srcVault.CollateralType, false)
	step := newStep("withdraw", protocols.SiloV2, network, out, err)
	step.Amount = token.FormatUnits(amount, srcVault.Decimals)
	step = x.step(ctx, rec, res, step)
	if step.Status != StepConfirmed {
		res.fail(reasonFor(err, ReasonWithdrawalError), stepErr(step, err))
		return
	}

	if err := x.settle(ctx); err != nil {
		res.partial(ReasonDepositError, clierr.Wrap(clierr.CodePartialWorkflow, "interrupted before deposit", err))
		return
	}

	received := amount
	if balanceErr == nil {
		after, err := engine.BalanceOf(ctx, asset, engine.Address())
		if err == nil {
			if delta := new(big.Int).Sub(after, before); delta.Sign() > 0 {
				received = delta
			}
		} else {
			logger.Warn("wallet balance unreadable after withdraw, depositing the requested amount", zap.Error(err))
		}
	}

	out, err = target.DepositTo(ctx, dstVault, received)
	step = newStep("deposit", protocols.SiloV2, network, out, err)
	step.Amount = token.FormatUnits(received, dstVault.Decimals)
	step = x.step(ctx, rec, res, step)
	if step.Status != StepConfirmed {
		res.partial(ReasonDepositError, stepErr(step, err))
		return
	}

	res.AmountTransferred = step.Amount
	res.succeed()
	x.bookkeep(ctx, bookkeeping.PositionUpdate{
		OldPoolID: bookkeeping.SiloPoolID(rec.Asset, network, rec.SourceMarket),
		NewPoolID: bookkeeping.SiloPoolID(rec.Asset, network, rec.TargetMarket),
		Amount:    res.AmountTransferred,
		TxHash:    out.TxHash,
	}, logger)
}

func (x *Executor) lender(ctx context.Context, t Target) (protocols.Lender, error) {
	op, err := x.factory.Operator(ctx, t)
	if err != nil {
		return nil, err
	}
	lender, ok := op.(protocols.Lender)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s does not support supply/withdraw", t.Protocol))
	}
	return lender, nil
}

func (x *Executor) vaultOperator(ctx context.Context, t Target) (protocols.VaultOperator, error) {
	op, err := x.factory.Operator(ctx, t)
	if err != nil {
		return nil, err
	}
	v, ok := op.(protocols.VaultOperator)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s is not a vault protocol", t.Protocol))
	}
	return v, nil
}

// step appends s to the result and fires the step callback when confirmed.
func (x *Executor) step(ctx context.Context, rec Recommendation, res *ExecutionResult, s Step) Step {
	res.Steps = append(res.Steps, s)
	if s.Status != StepConfirmed || x.onStep == nil {
		return s
	}
	if err := x.onStep(ctx, rec, s); err != nil {
		x.logger.Warn("step callback failed", zap.String("id", res.ID), zap.String("step", s.Name), zap.Error(err))
	}
	return s
}

func (x *Executor) settle(ctx context.Context) error {
	if x.settleDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(x.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (x *Executor) bookkeep(ctx context.Context, update bookkeeping.PositionUpdate, logger *zap.Logger) {
	if x.recorder == nil {
		return
	}
	if err := x.recorder.UpdatePosition(ctx, update); err != nil {
		logger.Error("position bookkeeping failed", zap.String("old_pool_id", update.OldPoolID), zap.String("new_pool_id", update.NewPoolID), zap.Error(err))
	}
}

// logSnapshots reads both vaults' utilization concurrently. Failures only
// log.
func (x *Executor) logSnapshots(ctx context.Context, source protocols.VaultOperator, src vault.Descriptor, target protocols.VaultOperator, dst vault.Descriptor, logger *zap.Logger) {
	var (
		g        errgroup.Group
		srcSnap  protocols.MarketSnapshot
		dstSnap  protocols.MarketSnapshot
		snapErrs [2]error
	)
	g.Go(func() error {
		srcSnap, snapErrs[0] = source.MarketSnapshot(ctx, src.Address)
		return nil
	})
	g.Go(func() error {
		dstSnap, snapErrs[1] = target.MarketSnapshot(ctx, dst.Address)
		return nil
	})
	_ = g.Wait()
	if snapErrs[0] != nil || snapErrs[1] != nil {
		logger.Debug("market snapshot unavailable", zap.Errors("errors", []error{snapErrs[0], snapErrs[1]}))
		return
	}
	logger.Info("market utilization",
		zap.Float64("source_pct", srcSnap.UtilizationPct),
		zap.Float64("target_pct", dstSnap.UtilizationPct))
}

func (x *Executor) finish(ctx context.Context, res *ExecutionResult, logger *zap.Logger) {
	res.FinishedAt = x.now().UTC()
	x.metrics.ObserveWorkflow(string(res.Kind), string(res.Status), res.FinishedAt.Sub(res.StartedAt))

	var g errgroup.Group
	if x.store != nil {
		g.Go(func() error {
			if err := x.store.Save(*res); err != nil {
				logger.Error("persist result failed", zap.Error(err))
			}
			return nil
		})
	}
	if x.archiver != nil {
		g.Go(func() error {
			if err := x.archiver.Archive(ctx, *res); err != nil {
				logger.Warn("archive result failed", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	fields := []zap.Field{zap.String("status", string(res.Status)), zap.Strings("txs", res.ConfirmedHashes())}
	switch res.Status {
	case StatusSuccess:
		logger.Info("workflow finished", fields...)
	default:
		logger.Error("workflow finished", append(fields, zap.String("reason", res.Reason), zap.String("message", res.Message))...)
	}
}

// minimumPosition is 0.001 token in units of decimals.
func minimumPosition(decimals uint8) *big.Int {
	if decimals < 3 {
		return big.NewInt(minimumPositionMilli)
	}
	return new(big.Int).Mul(big.NewInt(minimumPositionMilli), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-3)), nil))
}

// reasonFor maps a typed step error to a result reason.
func reasonFor(err error, fallback string) string {
	switch clierr.CodeOf(err) {
	case clierr.CodeInsufficientBalance:
		return ReasonInsufficientBalance
	case clierr.CodeUnsupportedToken:
		return ReasonUnsupportedToken
	case clierr.CodeConfig:
		return ReasonConfiguration
	default:
		return fallback
	}
}

func stepErr(s Step, err error) error {
	if err != nil {
		return err
	}
	code := clierr.CodeReverted
	if s.Status == StepPending {
		code = clierr.CodeReceiptTimeout
	}
	return clierr.New(code, fmt.Sprintf("%s ended %s: %s", s.Name, s.Status, s.Reason))
}
