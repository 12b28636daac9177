package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

// LimitedBackend throttles every RPC round trip through a token bucket.
type LimitedBackend struct {
	next    Backend
	limiter *rate.Limiter
}

var _ Backend = (*LimitedBackend)(nil)

func NewLimitedBackend(next Backend, rps float64, burst int) *LimitedBackend {
	if burst <= 0 {
		burst = 1
	}
	return &LimitedBackend{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (b *LimitedBackend) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return clierr.Wrap(clierr.CodeRateLimited, "wait for rpc rate limit", err)
	}
	return nil
}

func (b *LimitedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.ChainID(ctx)
}

func (b *LimitedBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.CodeAt(ctx, account, blockNumber)
}

func (b *LimitedBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.CallContract(ctx, msg, blockNumber)
}

func (b *LimitedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	return b.next.EstimateGas(ctx, msg)
}

func (b *LimitedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.SuggestGasPrice(ctx)
}

func (b *LimitedBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.SuggestGasTipCap(ctx)
}

func (b *LimitedBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.HeaderByNumber(ctx, number)
}

func (b *LimitedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	return b.next.PendingNonceAt(ctx, account)
}

// SendTransaction is never throttled.
func (b *LimitedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return b.next.SendTransaction(ctx, tx)
}

func (b *LimitedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.next.TransactionReceipt(ctx, txHash)
}

func (b *LimitedBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := b.wait(ctx); err != nil {
		return nil, false, err
	}
	return b.next.TransactionByHash(ctx, hash)
}

func (b *LimitedBackend) Close() {
	b.next.Close()
}
