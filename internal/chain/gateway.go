package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution/signer"
	"github.com/ggonzalez94/yieldmove/internal/registry"
)

// Backend is the node surface used by the engine. *ethclient.Client
// satisfies it.
type Backend interface {
	ethereum.ContractCaller

	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Gateway binds one network's backend to the signing identity used on it.
type Gateway struct {
	Config  registry.ChainConfig
	Backend Backend
	Signer  signer.Signer

	chainID *big.Int
	logger  *zap.Logger
}

// Dial connects to the configured RPC endpoint and checks the node reports
// the configured chain id.
func Dial(ctx context.Context, cfg registry.ChainConfig, txSigner signer.Signer, logger *zap.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("network %s has no rpc url", cfg.Name))
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if cfg.ChainID != 0 && nodeChainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("rpc for %s reports chain id %d, expected %d", cfg.Name, nodeChainID.Int64(), cfg.ChainID))
	}
	cfg.ChainID = nodeChainID.Int64()

	var backend Backend = client
	if cfg.RateLimit.RPS > 0 {
		backend = NewLimitedBackend(client, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	return New(cfg, backend, txSigner, logger), nil
}

// New wraps an existing backend; the chain id is taken from cfg.
func New(cfg registry.ChainConfig, backend Backend, txSigner signer.Signer, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		Config:  cfg,
		Backend: backend,
		Signer:  txSigner,
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.Named("chain").With(zap.String("network", cfg.Name)),
	}
}

func (g *Gateway) Network() string {
	return g.Config.Name
}

func (g *Gateway) ChainID() *big.Int {
	return new(big.Int).Set(g.chainID)
}

// Address is the signer address, or the zero address for read-only gateways.
func (g *Gateway) Address() common.Address {
	if g.Signer == nil {
		return common.Address{}
	}
	return g.Signer.Address()
}

func (g *Gateway) Logger() *zap.Logger {
	return g.logger
}

func (g *Gateway) Close() {
	if g != nil && g.Backend != nil {
		g.Backend.Close()
	}
}
