package app

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/chain"
	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/execution/signer"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
	"github.com/ggonzalez94/yieldmove/internal/protocols"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/smartaccount"
	"github.com/ggonzalez94/yieldmove/internal/token"
	"github.com/ggonzalez94/yieldmove/internal/vault"
	"github.com/ggonzalez94/yieldmove/internal/workflow"
)

// engineFactory dials networks on first use and builds operators on top of
// the shared engine of each network.
type engineFactory struct {
	settings config.Settings
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// dial is chain.Dial outside of tests.
	dial func(ctx context.Context, cfg registry.ChainConfig, txSigner signer.Signer, logger *zap.Logger) (*chain.Gateway, error)

	mu       sync.Mutex
	signer   signer.Signer
	engines  map[string]*execution.Engine
	gateways []*chain.Gateway
	accounts map[string]*smartaccount.Gateway
	resolver *vault.Resolver
	closers  []func() error
}

var _ workflow.Factory = (*engineFactory)(nil)

func newEngineFactory(settings config.Settings, m *metrics.Metrics, logger *zap.Logger) *engineFactory {
	return &engineFactory{
		settings: settings,
		registry: registry.New(settings),
		metrics:  m,
		logger:   logger,
		dial:     chain.Dial,
		engines:  map[string]*execution.Engine{},
		accounts: map[string]*smartaccount.Gateway{},
	}
}

func (f *engineFactory) loadSigner() (signer.Signer, error) {
	if f.signer != nil {
		return f.signer, nil
	}
	txSigner, err := signer.NewLocalSignerFromEnv(f.settings.KeySource)
	if err != nil {
		return nil, err
	}
	f.signer = txSigner
	return txSigner, nil
}

// Engine returns the engine of network, dialing its RPC the first time.
func (f *engineFactory) Engine(ctx context.Context, network string) (*execution.Engine, error) {
	network = config.NormalizeNetwork(network)
	f.mu.Lock()
	defer f.mu.Unlock()
	if engine, ok := f.engines[network]; ok {
		return engine, nil
	}
	cfg, err := f.registry.Chain(network)
	if err != nil {
		return nil, err
	}
	txSigner, err := f.loadSigner()
	if err != nil {
		return nil, err
	}
	gw, err := f.dial(ctx, cfg, txSigner, f.logger)
	if err != nil {
		return nil, err
	}
	erc20, err := f.registry.ABI(registry.ABIERC20)
	if err != nil {
		gw.Close()
		return nil, err
	}
	opts := execution.Options{
		PollInterval:   f.settings.Execution.PollInterval,
		ReceiptTimeout: f.settings.Execution.ReceiptTimeout,
		GasBuffer:      f.settings.Execution.GasBuffer,
		FeeBumpPercent: f.settings.Execution.FeeBumpPercent,
		MaxAttempts:    f.settings.Execution.MaxAttempts,
		NonceLockDir:   f.settings.NonceLockDir,
	}
	engine := execution.NewEngine(gw, token.NewDirectory(f.settings.Tokens, erc20, f.logger), erc20, opts, f.logger,
		execution.WithMetrics(f.metrics),
		execution.WithExplorer(func(h common.Hash) string { return f.registry.TxURL(network, h) }),
	)
	f.engines[network] = engine
	f.gateways = append(f.gateways, gw)
	f.logger.Debug("connected network", zap.String("network", network), zap.String("signer", gw.Address().Hex()))
	return engine, nil
}

// Operator builds the operator addressed by target.
func (f *engineFactory) Operator(ctx context.Context, target workflow.Target) (protocols.Operator, error) {
	env, err := f.env(ctx, target.Network, target.Protocol)
	if err != nil {
		return nil, err
	}
	env.Market = target.Market
	return protocols.New(env, target.Protocol)
}

func (f *engineFactory) env(ctx context.Context, network string, protocol protocols.Protocol) (protocols.Env, error) {
	engine, err := f.Engine(ctx, network)
	if err != nil {
		return protocols.Env{}, err
	}
	env := protocols.Env{
		Engine:   engine,
		Registry: f.registry,
		Settings: f.settings,
		Logger:   f.logger,
	}
	switch protocol {
	case protocols.SiloV2:
		resolver, err := f.vaults(ctx)
		if err != nil {
			return protocols.Env{}, err
		}
		env.Vaults = resolver
	case protocols.Fluid:
		accounts, err := f.smartAccounts(engine)
		if err != nil {
			return protocols.Env{}, err
		}
		env.Accounts = accounts
	}
	return env, nil
}

// vaults builds the resolver once, backed by the configured descriptor cache.
func (f *engineFactory) vaults(ctx context.Context) (*vault.Resolver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolver != nil {
		return f.resolver, nil
	}
	siloConfig, err := f.registry.ABI(registry.ABISiloConfig)
	if err != nil {
		return nil, err
	}
	siloVault, err := f.registry.ABI(registry.ABISiloVault)
	if err != nil {
		return nil, err
	}
	erc20, err := f.registry.ABI(registry.ABIERC20)
	if err != nil {
		return nil, err
	}
	store, err := f.vaultStore(ctx)
	if err != nil {
		return nil, err
	}
	f.resolver = vault.NewResolver(f.settings.Silo.Markets, siloConfig, siloVault, erc20, f.logger,
		vault.WithStore(store),
		vault.WithMetrics(f.metrics),
	)
	return f.resolver, nil
}

func (f *engineFactory) vaultStore(ctx context.Context) (vault.Store, error) {
	cacheSettings := f.settings.VaultCache
	switch strings.ToLower(strings.TrimSpace(cacheSettings.Backend)) {
	case "", "memory":
		return vault.NewMemoryStore(), nil
	case "sqlite":
		store, err := vault.OpenSQLiteStore(f.settings.VaultCachePath, f.settings.VaultCacheLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open vault cache", err)
		}
		f.closers = append(f.closers, store.Close)
		return store, nil
	case "redis":
		store, closeFn, err := vault.OpenRedisStore(ctx, vault.RedisConfig{
			Addr:     cacheSettings.RedisAddr,
			Password: cacheSettings.RedisPassword,
			DB:       cacheSettings.RedisDB,
		})
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "open vault cache", err)
		}
		f.closers = append(f.closers, closeFn)
		return store, nil
	default:
		return nil, clierr.New(clierr.CodeConfig, "vault cache backend must be memory, sqlite or redis")
	}
}

func (f *engineFactory) smartAccounts(engine *execution.Engine) (*smartaccount.Gateway, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gw, ok := f.accounts[engine.Network()]; ok {
		return gw, nil
	}
	gw, err := smartaccount.New(engine, f.settings.SmartAccount, f.registry, f.logger)
	if err != nil {
		return nil, err
	}
	f.accounts[engine.Network()] = gw
	return gw, nil
}

// Close releases every connection opened so far.
func (f *engineFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, gw := range f.gateways {
		gw.Close()
	}
	for _, closeFn := range f.closers {
		if err := closeFn(); err != nil {
			f.logger.Debug("close failed", zap.Error(err))
		}
	}
	f.gateways = nil
	f.closers = nil
}
