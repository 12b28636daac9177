// Package executiontest wires an execution.Engine to an in-memory backend.
package executiontest

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/chain"
	"github.com/ggonzalez94/yieldmove/internal/chain/chaintest"
	"github.com/ggonzalez94/yieldmove/internal/config"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/token"
)

// Owner is the signer address used by every test engine.
var Owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// Options returns fast polling settings suitable for unit tests.
func Options() execution.Options {
	opts := execution.DefaultOptions()
	opts.PollInterval = time.Millisecond
	opts.ReceiptTimeout = 50 * time.Millisecond
	return opts
}

// Chain is an EIP-1559 chain config for network backed by backend's chain id.
func Chain(network string, backend *chaintest.Backend) registry.ChainConfig {
	return config.ChainSettings{
		Name:        network,
		ChainID:     backend.ID.Int64(),
		RPCURL:      "http://127.0.0.1:8545",
		ExplorerURL: "https://explorer.test",
		Fee:         config.FeeSettings{Mode: "eip1559"},
	}
}

// Env bundles the pieces protocol and workflow tests need.
type Env struct {
	Backend  *chaintest.Backend
	Engine   *execution.Engine
	Registry *registry.Registry
}

// New builds an engine for network using settings for contracts and tokens.
func New(network string, backend *chaintest.Backend, settings config.Settings, logger *zap.Logger, options ...execution.EngineOption) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := Chain(network, backend)
	if settings.Chains == nil {
		settings.Chains = map[string]config.ChainSettings{}
	}
	if existing, ok := settings.Chains[network]; ok {
		cfg.Fee = existing.Fee
		cfg.Read = existing.Read
	}
	settings.Chains[network] = cfg
	reg := registry.New(settings)
	erc20 := reg.MustABI(registry.ABIERC20)
	gw := chain.New(cfg, backend, chaintest.Signer{Addr: Owner}, logger)
	tokens := token.NewDirectory(settings.Tokens, erc20, logger)
	options = append([]execution.EngineOption{execution.WithExplorer(func(h common.Hash) string {
		return reg.TxURL(network, h)
	})}, options...)
	return &Env{
		Backend:  backend,
		Engine:   execution.NewEngine(gw, tokens, erc20, Options(), logger, options...),
		Registry: reg,
	}
}
