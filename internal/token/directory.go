package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

// CodeReader reads contract state. Both *ethclient.Client and
// chain.Backend satisfy it.
type CodeReader interface {
	ethereum.ContractCaller
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// DefaultDecimals is assumed when a token's decimals() read fails.
const DefaultDecimals uint8 = 18

// Directory maps symbols to addresses per network and memoizes ERC-20
// decimals for the life of the process.
type Directory struct {
	tokens   map[string]map[string]string
	erc20    *abi.ABI
	decimals *cache.Cache
	group    singleflight.Group
	logger   *zap.Logger
}

func NewDirectory(tokens map[string]map[string]string, erc20 *abi.ABI, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := map[string]map[string]string{}
	for symbol, byNetwork := range tokens {
		key := config.NormalizeSymbol(symbol)
		normalized[key] = map[string]string{}
		for network, addr := range byNetwork {
			normalized[key][config.NormalizeNetwork(network)] = addr
		}
	}
	return &Directory{
		tokens:   normalized,
		erc20:    erc20,
		decimals: cache.New(cache.NoExpiration, 0),
		logger:   logger.Named("token"),
	}
}

// Address resolves a symbol or a hex address on network.
func (d *Directory) Address(symbolOrAddress, network string) (common.Address, error) {
	raw := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw), nil
	}
	addr := d.tokens[config.NormalizeSymbol(raw)][config.NormalizeNetwork(network)]
	if addr == "" || !common.IsHexAddress(addr) {
		return common.Address{}, clierr.New(clierr.CodeUnsupportedToken, fmt.Sprintf("token %s is not configured on %s", raw, network))
	}
	return common.HexToAddress(addr), nil
}

// Symbol returns the configured symbol for an address, or its hex form.
func (d *Directory) Symbol(addr common.Address, network string) string {
	net := config.NormalizeNetwork(network)
	for symbol, byNetwork := range d.tokens {
		if raw := byNetwork[net]; raw != "" && common.HexToAddress(raw) == addr {
			return symbol
		}
	}
	return addr.Hex()
}

func decimalsKey(network string, addr common.Address) string {
	return config.NormalizeNetwork(network) + ":" + strings.ToLower(addr.Hex())
}

// Decimals reads decimals() once per (network, token). A failed read falls
// back to DefaultDecimals and is not cached.
func (d *Directory) Decimals(ctx context.Context, network string, caller ethereum.ContractCaller, tokenAddr common.Address) uint8 {
	key := decimalsKey(network, tokenAddr)
	if v, ok := d.decimals.Get(key); ok {
		return v.(uint8)
	}
	v, err, _ := d.group.Do(key, func() (any, error) {
		if cached, ok := d.decimals.Get(key); ok {
			return cached, nil
		}
		value, err := d.readDecimals(ctx, caller, tokenAddr)
		if err != nil {
			return nil, err
		}
		d.decimals.Set(key, value, cache.NoExpiration)
		return value, nil
	})
	if err != nil {
		d.logger.Warn("decimals read failed, assuming default",
			zap.String("network", network),
			zap.String("token", tokenAddr.Hex()),
			zap.Uint8("decimals", DefaultDecimals),
			zap.Error(err))
		return DefaultDecimals
	}
	return v.(uint8)
}

func (d *Directory) readDecimals(ctx context.Context, caller ethereum.ContractCaller, tokenAddr common.Address) (uint8, error) {
	data, err := d.erc20.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	decoded, err := d.erc20.Unpack("decimals", out)
	if err != nil {
		return 0, err
	}
	if len(decoded) == 0 {
		return 0, fmt.Errorf("empty decimals response")
	}
	value, ok := decoded[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", decoded[0])
	}
	return value, nil
}

// ToSmallestUnit converts a human amount for tokenAddr. Addresses without
// bytecode are rejected before any decimals read.
func (d *Directory) ToSmallestUnit(ctx context.Context, network string, caller CodeReader, tokenAddr common.Address, amount string) (*big.Int, error) {
	code, err := caller.CodeAt(ctx, tokenAddr, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeRead, "read token bytecode", err)
	}
	if len(code) == 0 {
		return nil, clierr.New(clierr.CodeUnsupportedToken, fmt.Sprintf("no contract deployed at %s on %s", tokenAddr.Hex(), network))
	}
	return ParseUnits(amount, d.Decimals(ctx, network, caller, tokenAddr))
}

// Format renders units of tokenAddr using its cached decimals.
func (d *Directory) Format(ctx context.Context, network string, caller ethereum.ContractCaller, tokenAddr common.Address, units *big.Int) string {
	return FormatUnits(units, d.Decimals(ctx, network, caller, tokenAddr))
}
