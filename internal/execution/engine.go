package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/chain"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
	"github.com/ggonzalez94/yieldmove/internal/telemetry"
	"github.com/ggonzalez94/yieldmove/internal/token"
)

// Engine is the transaction lifecycle shared by every protocol operator on
// one network: reads, estimation, fee strategy, signing, broadcast with
// underpriced retry, and receipt confirmation.
type Engine struct {
	gw       *chain.Gateway
	tokens   *token.Directory
	erc20    *abi.ABI
	opts     Options
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	explorer func(common.Hash) string
	logger   *zap.Logger
}

type EngineOption func(*Engine)

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithExplorer sets the function used to fill Outcome.ExplorerURL.
func WithExplorer(fn func(common.Hash) string) EngineOption {
	return func(e *Engine) { e.explorer = fn }
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(gw *chain.Gateway, tokens *token.Directory, erc20 *abi.ABI, opts Options, logger *zap.Logger, options ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		gw:     gw,
		tokens: tokens,
		erc20:  erc20,
		opts:   opts.normalized(),
		tracer: telemetry.Tracer("execution"),
		logger: logger.Named("execution").With(zap.String("network", gw.Network())),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func (e *Engine) Network() string {
	return e.gw.Network()
}

func (e *Engine) Address() common.Address {
	return e.gw.Address()
}

func (e *Engine) Gateway() *chain.Gateway {
	return e.gw
}

func (e *Engine) Tokens() *token.Directory {
	return e.tokens
}

func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// CallRaw performs eth_call against the latest block with the chain's read
// hints applied.
func (e *Engine) CallRaw(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: e.gw.Address(), To: &to, Data: data}
	hints := e.gw.Config.Read
	if hints.GasLimit > 0 {
		msg.Gas = hints.GasLimit
	}
	if hints.GasPriceMultiplier > 0 {
		if gasPrice, err := e.gw.Backend.SuggestGasPrice(ctx); err == nil {
			msg.GasPrice = applyMultiplier(gasPrice, hints.GasPriceMultiplier)
		}
	}
	out, err := e.gw.Backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, wrapEVMExecutionError(clierr.CodeRead, fmt.Sprintf("call %s", to.Hex()), err)
	}
	return out, nil
}

// Call packs method, performs the read and unpacks its outputs.
func (e *Engine) Call(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s", method), err)
	}
	out, err := e.CallRaw(ctx, to, data)
	if err != nil {
		e.metrics.ObserveReadFailure(e.Network(), method)
		return nil, clierr.Wrap(clierr.CodeRead, fmt.Sprintf("read %s", method), err)
	}
	decoded, err := parsed.Unpack(method, out)
	if err != nil {
		e.metrics.ObserveReadFailure(e.Network(), method)
		return nil, clierr.Wrap(clierr.CodeRead, fmt.Sprintf("decode %s", method), err)
	}
	return decoded, nil
}

// CallBigInt reads a single uint output.
func (e *Engine) CallBigInt(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := e.Call(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeRead, fmt.Sprintf("empty %s response", method))
	}
	v, ok := ToBigInt(out[0])
	if !ok {
		return nil, clierr.New(clierr.CodeRead, fmt.Sprintf("unexpected %s output type %T", method, out[0]))
	}
	return v, nil
}

// CallAddress reads a single address output.
func (e *Engine) CallAddress(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...any) (common.Address, error) {
	out, err := e.Call(ctx, to, parsed, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, clierr.New(clierr.CodeRead, fmt.Sprintf("empty %s response", method))
	}
	addr, ok := ToAddress(out[0])
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeRead, fmt.Sprintf("unexpected %s output type %T", method, out[0]))
	}
	return addr, nil
}

// HasCode reports whether addr holds contract bytecode.
func (e *Engine) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := e.gw.Backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, clierr.Wrap(clierr.CodeRead, "read bytecode", err)
	}
	return len(code) > 0, nil
}

func (e *Engine) BlockTimestamp(ctx context.Context) (uint64, error) {
	header, err := e.gw.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	return header.Time, nil
}

func (e *Engine) Decimals(ctx context.Context, tokenAddr common.Address) uint8 {
	return e.tokens.Decimals(ctx, e.Network(), e.gw.Backend, tokenAddr)
}

func (e *Engine) ToSmallestUnit(ctx context.Context, tokenAddr common.Address, amount string) (*big.Int, error) {
	return e.tokens.ToSmallestUnit(ctx, e.Network(), e.gw.Backend, tokenAddr, amount)
}

func (e *Engine) FormatUnits(ctx context.Context, tokenAddr common.Address, units *big.Int) string {
	return e.tokens.Format(ctx, e.Network(), e.gw.Backend, tokenAddr, units)
}

func (e *Engine) BalanceOf(ctx context.Context, tokenAddr, owner common.Address) (*big.Int, error) {
	return e.CallBigInt(ctx, tokenAddr, e.erc20, "balanceOf", owner)
}

// EnsureAllowance approves spender for amount when the current allowance is
// short. It returns nil when no approval was needed.
func (e *Engine) EnsureAllowance(ctx context.Context, tokenAddr, spender common.Address, amount *big.Int) (*Outcome, error) {
	allowance, err := e.CallBigInt(ctx, tokenAddr, e.erc20, "allowance", e.Address(), spender)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}
	out, err := e.Invoke(ctx, "approve", tokenAddr, e.erc20, "approve", nil, spender, amount)
	return &out, err
}

// Invoke packs method and submits it.
func (e *Engine) Invoke(ctx context.Context, label string, to common.Address, parsed *abi.ABI, method string, value *big.Int, args ...any) (Outcome, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return Outcome{Label: label, Status: StatusSubmissionFailed, Network: e.Network(), Reason: err.Error()},
			clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s", method), err)
	}
	return e.Submit(ctx, Intent{Label: label, To: to, Data: data, Value: value})
}

// Submit runs the full lifecycle for one intent. A failed gas estimate
// aborts before anything is signed or broadcast.
func (e *Engine) Submit(ctx context.Context, intent Intent) (out Outcome, err error) {
	ctx, span := e.tracer.Start(ctx, "execution.Submit", trace.WithAttributes(
		attribute.String("network", e.Network()),
		attribute.String("label", intent.Label),
		attribute.String("to", intent.To.Hex()),
	))
	defer func() {
		span.SetAttributes(attribute.String("status", string(out.Status)), attribute.Int("attempts", out.Attempts))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveSubmission(e.Network(), string(out.Status))
	}()

	out = Outcome{Label: intent.Label, Status: StatusSubmissionFailed, Network: e.Network()}
	if e.gw.Signer == nil {
		err = clierr.New(clierr.CodeSigner, "missing signer")
		out.Reason = err.Error()
		return out, err
	}
	value := intent.Value
	if value == nil {
		value = new(big.Int)
	}
	from := e.gw.Address()
	logger := e.logger.With(zap.String("label", intent.Label), zap.String("to", intent.To.Hex()))

	gasLimit, err := e.estimateGas(ctx, ethereum.CallMsg{From: from, To: &intent.To, Value: value, Data: intent.Data})
	if err != nil {
		out.Reason = err.Error()
		logger.Error("gas estimation failed", zap.Error(err))
		return out, err
	}
	out.GasLimit = gasLimit

	chainID := e.gw.ChainID()
	unlock, err := acquireSignerNonceLock(ctx, e.opts.NonceLockDir, chainID, from)
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}
	defer unlock()

	fees, err := resolveFees(ctx, e.gw.Backend, e.gw.Config)
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}

	var signed *types.Transaction
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		nonce, nonceErr := e.gw.Backend.PendingNonceAt(ctx, from)
		if nonceErr != nil {
			err = clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", nonceErr)
			out.Reason = err.Error()
			return out, err
		}
		out.Nonce = nonce
		fees.record(&out)

		tx := fees.build(chainID, nonce, intent.To, value, gasLimit, intent.Data)
		signed, err = e.gw.Signer.SignTx(chainID, tx)
		if err != nil {
			err = clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
			out.Reason = err.Error()
			return out, err
		}

		sendErr := e.gw.Backend.SendTransaction(ctx, signed)
		if sendErr == nil {
			e.metrics.ObserveAttempt(e.Network(), "sent")
			break
		}
		if !isUnderpriced(sendErr) {
			e.metrics.ObserveAttempt(e.Network(), "error")
			err = wrapEVMExecutionError(clierr.CodeBroadcast, "broadcast transaction", sendErr)
			out.Reason = err.Error()
			logger.Error("broadcast failed", zap.Uint64("nonce", nonce), zap.Error(sendErr))
			return out, err
		}
		e.metrics.ObserveAttempt(e.Network(), "underpriced")
		if attempt >= e.opts.MaxAttempts {
			out.Status = StatusUnderpricedExhausted
			err = clierr.Wrap(clierr.CodeUnderpriced, fmt.Sprintf("transaction still underpriced after %d attempts", attempt), sendErr)
			out.Reason = err.Error()
			logger.Error("underpriced retries exhausted", zap.Int("attempts", attempt))
			return out, err
		}
		fees = fees.bump(e.opts.FeeBumpPercent)
		logger.Warn("transaction underpriced, bumping fees",
			zap.Int("attempt", attempt),
			zap.Uint64("nonce", nonce),
			zap.Error(sendErr))
	}

	out.TxHash = signed.Hash().Hex()
	if e.explorer != nil {
		out.ExplorerURL = e.explorer(signed.Hash())
	}
	logger.Info("transaction broadcast", zap.Stringer("tx", signed.Hash()), zap.Uint64("nonce", out.Nonce))

	started := time.Now()
	receipt, err := e.waitForReceipt(ctx, signed.Hash())
	e.metrics.ObserveReceiptWait(e.Network(), time.Since(started))
	if err != nil {
		out.Status = StatusPending
		out.Reason = err.Error()
		logger.Warn("receipt not observed", zap.Stringer("tx", signed.Hash()), zap.Error(err))
		return out, err
	}
	return e.settle(ctx, out, intent, receipt)
}

func (e *Engine) settle(ctx context.Context, out Outcome, intent Intent, receipt *types.Receipt) (Outcome, error) {
	out.Receipt = receipt
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	out.GasUsed = receipt.GasUsed
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = StatusConfirmed
		e.logger.Info("transaction confirmed",
			zap.String("label", out.Label),
			zap.String("tx", out.TxHash),
			zap.Uint64("block", out.BlockNumber),
			zap.Uint64("gas_used", out.GasUsed))
		return out, nil
	}

	out.Status = StatusReverted
	err := clierr.New(clierr.CodeReverted, fmt.Sprintf("transaction %s reverted on-chain", out.TxHash))
	if intent.Data != nil {
		if reason := e.replayRevert(ctx, intent, receipt.BlockNumber); reason != "" {
			err = clierr.New(clierr.CodeReverted, fmt.Sprintf("transaction %s reverted on-chain: %s", out.TxHash, reason))
		}
	}
	out.Reason = err.Error()
	e.logger.Error("transaction reverted", zap.String("tx", out.TxHash), zap.String("label", out.Label))
	return out, err
}

// replayRevert re-executes the call at the receipt block to recover a
// revert reason. It is best effort.
func (e *Engine) replayRevert(ctx context.Context, intent Intent, block *big.Int) string {
	msg := ethereum.CallMsg{From: e.gw.Address(), To: &intent.To, Value: intent.Value, Data: intent.Data}
	_, err := e.gw.Backend.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	return decodeRevertFromError(err)
}

func (e *Engine) estimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	estimated, err := e.gw.Backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, wrapEVMExecutionError(clierr.CodeGasEstimation, "estimate gas", err)
	}
	if override := e.gw.Config.Fee.GasLimitOverride; override > 0 {
		return override, nil
	}
	return uint64(math.Round(float64(estimated) * e.opts.GasBuffer)), nil
}

func (e *Engine) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.gw.Backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			e.logger.Debug("receipt poll failed", zap.Stringer("tx", hash), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeReceiptTimeout, fmt.Sprintf("timed out waiting for receipt of %s", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// WaitForReceipt re-queries a previously broadcast transaction, typically
// one whose outcome was pending.
func (e *Engine) WaitForReceipt(ctx context.Context, hash common.Hash) (Outcome, error) {
	out := Outcome{Label: "wait", Status: StatusPending, Network: e.Network(), TxHash: hash.Hex()}
	if e.explorer != nil {
		out.ExplorerURL = e.explorer(hash)
	}
	receipt, err := e.waitForReceipt(ctx, hash)
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}
	return e.settle(ctx, out, Intent{}, receipt)
}

// ToAddress accepts the address forms abi.Unpack produces.
func ToAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

// ToBigInt accepts the integer forms abi.Unpack produces.
func ToBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	case uint8:
		return new(big.Int).SetUint64(uint64(value)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(value)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(value)), true
	case uint64:
		return new(big.Int).SetUint64(value), true
	default:
		return nil, false
	}
}
