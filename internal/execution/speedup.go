package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

// SpeedUp rebroadcasts a pending transaction with the same nonce and payload
// and higher fees, then waits for the replacement's receipt.
func (e *Engine) SpeedUp(ctx context.Context, hash common.Hash) (Outcome, error) {
	out := Outcome{Label: "speed-up", Status: StatusSubmissionFailed, Network: e.Network()}
	if e.gw.Signer == nil {
		err := clierr.New(clierr.CodeSigner, "missing signer")
		out.Reason = err.Error()
		return out, err
	}

	original, isPending, err := e.gw.Backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			err = clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("transaction %s not found", hash.Hex()), err)
		} else {
			err = clierr.Wrap(clierr.CodeUnavailable, "fetch transaction", err)
		}
		out.Reason = err.Error()
		return out, err
	}
	if !isPending {
		err := clierr.New(clierr.CodeUsage, fmt.Sprintf("transaction %s is already mined", hash.Hex()))
		out.Reason = err.Error()
		return out, err
	}
	if original.To() == nil {
		err := clierr.New(clierr.CodeUsage, "contract creation transactions cannot be replaced")
		out.Reason = err.Error()
		return out, err
	}

	chainID := e.gw.ChainID()
	unlock, err := acquireSignerNonceLock(ctx, e.opts.NonceLockDir, chainID, e.gw.Address())
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}
	defer unlock()

	current, err := resolveFees(ctx, e.gw.Backend, e.gw.Config)
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}
	fees := feesFromTx(original).bump(e.opts.FeeBumpPercent).atLeast(current)
	out.Nonce = original.Nonce()
	out.GasLimit = original.Gas()

	var signed *types.Transaction
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		fees.record(&out)
		tx := fees.build(chainID, original.Nonce(), *original.To(), original.Value(), original.Gas(), original.Data())
		signed, err = e.gw.Signer.SignTx(chainID, tx)
		if err != nil {
			err = clierr.Wrap(clierr.CodeSigner, "sign replacement", err)
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
			err = wrapEVMExecutionError(clierr.CodeBroadcast, "broadcast replacement", sendErr)
			out.Reason = err.Error()
			return out, err
		}
		e.metrics.ObserveAttempt(e.Network(), "underpriced")
		if attempt >= e.opts.MaxAttempts {
			out.Status = StatusUnderpricedExhausted
			err = clierr.Wrap(clierr.CodeUnderpriced, fmt.Sprintf("replacement still underpriced after %d attempts", attempt), sendErr)
			out.Reason = err.Error()
			return out, err
		}
		fees = fees.bump(e.opts.FeeBumpPercent)
	}

	out.TxHash = signed.Hash().Hex()
	if e.explorer != nil {
		out.ExplorerURL = e.explorer(signed.Hash())
	}
	e.logger.Info("replacement broadcast",
		zap.Stringer("original", hash),
		zap.Stringer("replacement", signed.Hash()),
		zap.Uint64("nonce", out.Nonce))

	receipt, err := e.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		out.Status = StatusPending
		out.Reason = err.Error()
		return out, err
	}
	return e.settle(ctx, out, Intent{}, receipt)
}
