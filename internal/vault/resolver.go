package vault

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
)

// indexedSlots bounds the silos(i) enumeration.
const indexedSlots = 5

// Reader is the read surface discovery needs. *execution.Engine satisfies it.
type Reader interface {
	Network() string
	Call(ctx context.Context, to common.Address, parsed *abi.ABI, method string, args ...any) ([]any, error)
}

type candidate struct {
	address        common.Address
	collateralType CollateralType
}

// Resolver turns market ids into validated vault descriptors. Concurrent
// resolutions of the same market share one discovery run.
type Resolver struct {
	markets    map[string]map[string]string
	siloConfig *abi.ABI
	siloVault  *abi.ABI
	erc20      *abi.ABI
	store      Store
	metrics    *metrics.Metrics
	group      singleflight.Group
	logger     *zap.Logger
}

type Option func(*Resolver)

func WithStore(store Store) Option {
	return func(r *Resolver) {
		if store != nil {
			r.store = store
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver takes the SiloConfig address of every known market keyed by
// network then market id.
func NewResolver(markets map[string]map[string]string, siloConfig, siloVault, erc20 *abi.ABI, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := map[string]map[string]string{}
	for network, byMarket := range markets {
		key := config.NormalizeNetwork(network)
		normalized[key] = map[string]string{}
		for market, addr := range byMarket {
			normalized[key][strings.TrimSpace(market)] = addr
		}
	}
	r := &Resolver{
		markets:    normalized,
		siloConfig: siloConfig,
		siloVault:  siloVault,
		erc20:      erc20,
		store:      NewMemoryStore(),
		logger:     logger.Named("vault"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MarketConfig returns the SiloConfig contract of a market.
func (r *Resolver) MarketConfig(network, marketID string) (common.Address, error) {
	raw := strings.TrimSpace(r.markets[config.NormalizeNetwork(network)][strings.TrimSpace(marketID)])
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("silo market %s is not configured on %s", marketID, network))
	}
	if !common.IsHexAddress(raw) || common.HexToAddress(raw) == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("invalid SiloConfig address for market %s on %s", marketID, network))
	}
	return common.HexToAddress(raw), nil
}

// Markets lists the configured market ids on network.
func (r *Resolver) Markets(network string) []string {
	byMarket := r.markets[config.NormalizeNetwork(network)]
	out := make([]string, 0, len(byMarket))
	for market := range byMarket {
		out = append(out, market)
	}
	return out
}

// Resolve returns every validated vault of marketID, trying the store, then
// getSilo(0|1), then silos(i), then the named accessors.
func (r *Resolver) Resolve(ctx context.Context, reader Reader, marketID string) ([]Descriptor, error) {
	key := Key{Network: config.NormalizeNetwork(reader.Network()), MarketID: strings.TrimSpace(marketID)}
	if cached, ok, err := r.store.Get(ctx, key); err != nil {
		r.logger.Warn("vault cache read failed", zap.Stringer("key", key), zap.Error(err))
	} else if ok && len(cached) > 0 {
		r.metrics.ObserveVaultResolution(string(SourceCache))
		return cached, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		if cached, ok, err := r.store.Get(ctx, key); err == nil && ok && len(cached) > 0 {
			return cached, nil
		}
		return r.discover(ctx, reader, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Descriptor), nil
}

// Find returns the vault of marketID holding asset, tagged with the
// requested collateral type.
func (r *Resolver) Find(ctx context.Context, reader Reader, marketID string, asset common.Address, collateral CollateralType) (Descriptor, error) {
	descriptors, err := r.Resolve(ctx, reader, marketID)
	if err != nil {
		return Descriptor{}, err
	}
	var match *Descriptor
	for i := range descriptors {
		if descriptors[i].Asset != asset {
			continue
		}
		if match == nil || descriptors[i].CollateralType == collateral {
			match = &descriptors[i]
		}
	}
	if match == nil {
		return Descriptor{}, clierr.New(clierr.CodeVaultDiscovery, fmt.Sprintf("market %s on %s has no vault for asset %s", marketID, reader.Network(), asset.Hex()))
	}
	out := *match
	out.CollateralType = collateral
	return out, nil
}

func (r *Resolver) discover(ctx context.Context, reader Reader, key Key) ([]Descriptor, error) {
	configAddr, err := r.MarketConfig(key.Network, key.MarketID)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(zap.String("network", key.Network), zap.String("market", key.MarketID), zap.String("silo_config", configAddr.Hex()))

	strategies := []struct {
		source Source
		find   func(context.Context, Reader, common.Address) []candidate
	}{
		{SourceFactory, r.factoryCandidates},
		{SourceIndexed, r.indexedCandidates},
		{SourceAccessor, r.accessorCandidates},
	}
	for _, strategy := range strategies {
		candidates := strategy.find(ctx, reader, configAddr)
		descriptors := r.validate(ctx, reader, key, strategy.source, candidates)
		if len(descriptors) == 0 {
			logger.Debug("vault discovery strategy found nothing", zap.String("source", string(strategy.source)))
			continue
		}
		if err := r.store.Put(ctx, key, descriptors); err != nil {
			logger.Warn("vault cache write failed", zap.Error(err))
		}
		r.metrics.ObserveVaultResolution(string(strategy.source))
		logger.Info("resolved silo vaults", zap.String("source", string(strategy.source)), zap.Int("vaults", len(descriptors)))
		return descriptors, nil
	}
	r.metrics.ObserveVaultResolution("failed")
	return nil, clierr.New(clierr.CodeVaultDiscovery, fmt.Sprintf("no vault found for market %s on %s", key.MarketID, key.Network))
}

func (r *Resolver) factoryCandidates(ctx context.Context, reader Reader, configAddr common.Address) []candidate {
	var out []candidate
	for i, collateral := range []CollateralType{Standard, Protected} {
		if addr, ok := r.readAddress(ctx, reader, configAddr, "getSilo", big.NewInt(int64(i))); ok {
			out = append(out, candidate{address: addr, collateralType: collateral})
		}
	}
	return out
}

func (r *Resolver) indexedCandidates(ctx context.Context, reader Reader, configAddr common.Address) []candidate {
	var out []candidate
	for i := 0; i < indexedSlots; i++ {
		addr, ok := r.readAddress(ctx, reader, configAddr, "silos", big.NewInt(int64(i)))
		if !ok {
			continue
		}
		collateral := Standard
		if i%2 == 1 {
			collateral = Protected
		}
		out = append(out, candidate{address: addr, collateralType: collateral})
	}
	return out
}

func (r *Resolver) accessorCandidates(ctx context.Context, reader Reader, configAddr common.Address) []candidate {
	var out []candidate
	if values, err := reader.Call(ctx, configAddr, r.siloConfig, "getSilos"); err == nil && len(values) == 2 {
		for i, collateral := range []CollateralType{Standard, Protected} {
			if addr, ok := values[i].(common.Address); ok && addr != (common.Address{}) {
				out = append(out, candidate{address: addr, collateralType: collateral})
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	if addr, ok := r.readAddress(ctx, reader, configAddr, "getStandardSilo"); ok {
		out = append(out, candidate{address: addr, collateralType: Standard})
	}
	if addr, ok := r.readAddress(ctx, reader, configAddr, "getProtectedSilo"); ok {
		out = append(out, candidate{address: addr, collateralType: Protected})
	}
	return out
}

func (r *Resolver) readAddress(ctx context.Context, reader Reader, to common.Address, method string, args ...any) (common.Address, bool) {
	values, err := reader.Call(ctx, to, r.siloConfig, method, args...)
	if err != nil || len(values) == 0 {
		return common.Address{}, false
	}
	addr, ok := values[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// validate keeps candidates whose underlying asset metadata can be read.
func (r *Resolver) validate(ctx context.Context, reader Reader, key Key, source Source, candidates []candidate) []Descriptor {
	seen := map[common.Address]bool{}
	var out []Descriptor
	for _, c := range candidates {
		if seen[c.address] {
			continue
		}
		seen[c.address] = true
		descriptor, err := r.describe(ctx, reader, c)
		if err != nil {
			r.logger.Debug("dropping vault candidate", zap.String("vault", c.address.Hex()), zap.Error(err))
			continue
		}
		descriptor.Network = key.Network
		descriptor.MarketID = key.MarketID
		descriptor.Source = source
		out = append(out, descriptor)
	}
	return out
}

func (r *Resolver) describe(ctx context.Context, reader Reader, c candidate) (Descriptor, error) {
	values, err := reader.Call(ctx, c.address, r.siloVault, "asset")
	if err != nil {
		return Descriptor{}, err
	}
	asset, ok := values[0].(common.Address)
	if !ok || asset == (common.Address{}) {
		return Descriptor{}, fmt.Errorf("vault %s has no asset", c.address.Hex())
	}
	name, err := r.readString(ctx, reader, asset, "name")
	if err != nil {
		return Descriptor{}, err
	}
	symbol, err := r.readString(ctx, reader, asset, "symbol")
	if err != nil {
		return Descriptor{}, err
	}
	values, err = reader.Call(ctx, asset, r.erc20, "decimals")
	if err != nil {
		return Descriptor{}, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return Descriptor{}, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	return Descriptor{
		Address:        c.address,
		CollateralType: c.collateralType,
		Asset:          asset,
		Name:           name,
		Symbol:         symbol,
		Decimals:       decimals,
	}, nil
}

func (r *Resolver) readString(ctx context.Context, reader Reader, to common.Address, method string) (string, error) {
	values, err := reader.Call(ctx, to, r.erc20, method)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s type %T", method, values[0])
	}
	return s, nil
}
