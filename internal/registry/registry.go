package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

// ChainConfig describes one configured EVM network.
type ChainConfig = config.ChainSettings

// Registry resolves contract addresses per (protocol, network) and parsed
// ABIs by name. It is safe for concurrent use.
type Registry struct {
	chains    map[string]ChainConfig
	contracts map[string]map[string]string
	abiDir    string

	mu   sync.Mutex
	abis map[string]*abi.ABI
}

func New(settings config.Settings) *Registry {
	r := &Registry{
		chains:    map[string]ChainConfig{},
		contracts: map[string]map[string]string{},
		abiDir:    settings.ABIDir,
		abis:      map[string]*abi.ABI{},
	}
	for name, chain := range settings.Chains {
		r.chains[config.NormalizeNetwork(name)] = chain
	}
	for protocol, byNetwork := range settings.Contracts {
		key := strings.ToLower(protocol)
		r.contracts[key] = map[string]string{}
		for network, addr := range byNetwork {
			r.contracts[key][config.NormalizeNetwork(network)] = addr
		}
	}
	return r
}

func (r *Registry) Chain(network string) (ChainConfig, error) {
	chain, ok := r.chains[config.NormalizeNetwork(network)]
	if !ok {
		return ChainConfig{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("network %q is not configured", network))
	}
	if strings.TrimSpace(chain.RPCURL) == "" {
		return ChainConfig{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("network %q has no rpc url", network))
	}
	return chain, nil
}

func (r *Registry) Networks() []string {
	out := make([]string, 0, len(r.chains))
	for name := range r.chains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Address returns the contract bound to protocol on network.
func (r *Registry) Address(protocol, network string) (common.Address, error) {
	byNetwork := r.contracts[strings.ToLower(strings.TrimSpace(protocol))]
	raw := strings.TrimSpace(byNetwork[config.NormalizeNetwork(network)])
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("no %s contract configured for %s", protocol, network))
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("invalid %s contract address for %s: %s", protocol, network, raw))
	}
	return common.HexToAddress(raw), nil
}

// ABI returns the parsed ABI for name, preferring <abi_dir>/<name>.json.
func (r *Registry) ABI(name string) (*abi.ABI, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if parsed, ok := r.abis[key]; ok {
		return parsed, nil
	}

	raw, err := r.loadABISource(key)
	if err != nil {
		return nil, err
	}
	parsed, err := parseABI(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("parse %s abi", key), err)
	}
	r.abis[key] = parsed
	return parsed, nil
}

// MustABI is for built-in names only.
func (r *Registry) MustABI(name string) *abi.ABI {
	parsed, err := r.ABI(name)
	if err != nil {
		panic(err)
	}
	return parsed
}

func (r *Registry) loadABISource(key string) ([]byte, error) {
	if r.abiDir != "" {
		buf, err := os.ReadFile(filepath.Join(r.abiDir, key+".json"))
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("read %s abi", key), err)
		}
	}
	builtin, ok := builtinABIs[key]
	if !ok {
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("no abi available for %q", key))
	}
	return []byte(builtin), nil
}

// parseABI accepts a bare ABI array or a build artifact with an "abi" field.
func parseABI(raw []byte) (*abi.ABI, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, err
		}
		if len(artifact.ABI) == 0 {
			return nil, fmt.Errorf("artifact has no abi field")
		}
		trimmed = string(artifact.ABI)
	}
	parsed, err := abi.JSON(strings.NewReader(trimmed))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// TxURL links a transaction hash to the network's block explorer.
func (r *Registry) TxURL(network string, hash common.Hash) string {
	chain, ok := r.chains[config.NormalizeNetwork(network)]
	if !ok || chain.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(chain.ExplorerURL, "/") + "/tx/" + hash.Hex()
}
