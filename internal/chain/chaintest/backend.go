// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned for calls with no registered handler.
var ErrReverted = errors.New("execution reverted")

type CallHandler func(args []any) ([]any, error)

type RawHandler func(data []byte) ([]byte, error)

type handlerKey struct {
	to       common.Address
	selector [4]byte
}

type registered struct {
	method abi.Method
	packed CallHandler
	raw    RawHandler
}

// Backend answers contract reads from registered handlers and records every
// transaction it receives. Sent transactions get a successful receipt unless
// ReceiptFunc says otherwise.
type Backend struct {
	mu sync.Mutex

	ID        *big.Int
	GasPrice  *big.Int
	TipCap    *big.Int
	BaseFee   *big.Int
	BlockTime uint64
	Nonce     uint64

	// NoCode lists addresses for which CodeAt returns empty bytecode.
	NoCode map[common.Address]bool

	EstimateFunc func(msg ethereum.CallMsg) (uint64, error)
	SendFunc     func(tx *types.Transaction) error
	ReceiptFunc  func(tx *types.Transaction) *types.Receipt

	handlers map[handlerKey]registered
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt

	Sent       []*types.Transaction
	LastCall   ethereum.CallMsg
	CallCount  map[string]int
	Estimates  int
	NonceReads int
}

func New(chainID int64) *Backend {
	return &Backend{
		ID:        big.NewInt(chainID),
		GasPrice:  big.NewInt(100),
		TipCap:    big.NewInt(10),
		BaseFee:   big.NewInt(45),
		BlockTime: 1_700_000_000,
		NoCode:    map[common.Address]bool{},
		handlers:  map[handlerKey]registered{},
		txs:       map[common.Hash]*types.Transaction{},
		receipts:  map[common.Hash]*types.Receipt{},
		CallCount: map[string]int{},
	}
}

// Handle registers fn for calls of method on to. fn's return values are
// packed with the method outputs.
func (b *Backend) Handle(to common.Address, parsed *abi.ABI, method string, fn CallHandler) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	var selector [4]byte
	copy(selector[:], m.ID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[handlerKey{to: to, selector: selector}] = registered{method: m, packed: fn}
}

// Returns registers a constant answer.
func (b *Backend) Returns(to common.Address, parsed *abi.ABI, method string, outputs ...any) {
	b.Handle(to, parsed, method, func([]any) ([]any, error) { return outputs, nil })
}

// Reverts makes method on to fail.
func (b *Backend) Reverts(to common.Address, parsed *abi.ABI, method string) {
	b.Handle(to, parsed, method, func([]any) ([]any, error) { return nil, ErrReverted })
}

// HandleRaw registers a handler that receives and returns raw bytes.
func (b *Backend) HandleRaw(to common.Address, parsed *abi.ABI, method string, fn RawHandler) {
	m := parsed.Methods[method]
	var selector [4]byte
	copy(selector[:], m.ID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[handlerKey{to: to, selector: selector}] = registered{method: m, raw: fn}
}

func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.CallCount[method]
}

func (b *Backend) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ID), nil
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NoCode[account] {
		return nil, nil
	}
	return []byte{0x60, 0x80}, nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, ErrReverted
	}
	var selector [4]byte
	copy(selector[:], msg.Data[:4])
	b.mu.Lock()
	b.LastCall = msg
	h, ok := b.handlers[handlerKey{to: *msg.To, selector: selector}]
	if ok {
		b.CallCount[h.method.Name]++
	}
	b.mu.Unlock()
	if !ok {
		return nil, ErrReverted
	}
	if h.raw != nil {
		return h.raw(msg.Data[4:])
	}
	args, err := h.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := h.packed(args)
	if err != nil {
		return nil, err
	}
	return h.method.Outputs.Pack(out...)
}

func (b *Backend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	b.Estimates++
	fn := b.EstimateFunc
	b.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	return 100_000, nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.TipCap), nil
}

func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: b.BaseFee, Time: b.BlockTime}, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.NonceReads++
	return b.Nonce, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	fn := b.SendFunc
	b.Sent = append(b.Sent, tx)
	b.mu.Unlock()
	if fn != nil {
		if err := fn(tx); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs[tx.Hash()] = tx
	b.Nonce = tx.Nonce() + 1
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(101), GasUsed: tx.Gas()}
	if b.ReceiptFunc != nil {
		receipt = b.ReceiptFunc(tx)
	}
	if receipt != nil {
		b.receipts[tx.Hash()] = receipt
	}
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *Backend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := b.receipts[hash]
	return tx, !mined, nil
}

// SetReceipt overrides the stored receipt for hash.
func (b *Backend) SetReceipt(hash common.Hash, receipt *types.Receipt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if receipt == nil {
		delete(b.receipts, hash)
		return
	}
	b.receipts[hash] = receipt
}

// AddTransaction stores a transaction without a receipt, as a stuck entry.
func (b *Backend) AddTransaction(tx *types.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs[tx.Hash()] = tx
}

func (b *Backend) Close() {}

// Signer signs with a fixed address and returns the transaction unchanged.
type Signer struct {
	Addr common.Address
}

func (s Signer) Address() common.Address {
	return s.Addr
}

func (s Signer) SignTx(_ *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}
