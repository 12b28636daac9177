// Package smartaccount manages the signer's DSA proxy account and routes
// batched connector calls through its cast entry point.
package smartaccount

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/registry"
)

// Account is one proxy account owned by the signer.
type Account struct {
	ID      *big.Int       `json:"id"`
	Address common.Address `json:"address"`
	Version *big.Int       `json:"version"`
}

// Gateway is bound to one network's engine.
type Gateway struct {
	engine     *execution.Engine
	registry   *registry.Registry
	index      common.Address
	version    int64
	connectors map[string]common.Address
	aliases    map[string]string

	indexABI     *abi.ABI
	accountABI   *abi.ABI
	connectorABI *abi.ABI
	logger       *zap.Logger
}

func New(engine *execution.Engine, settings config.SmartAccountSettings, reg *registry.Registry, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	network := config.NormalizeNetwork(engine.Network())
	rawIndex := strings.TrimSpace(settings.Index[network])
	if rawIndex == "" || !common.IsHexAddress(rawIndex) {
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("no smart account index configured for %s", network))
	}

	connectors := map[string]common.Address{}
	for name, raw := range settings.Connectors[network] {
		if !common.IsHexAddress(raw) || common.HexToAddress(raw) == (common.Address{}) {
			return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("invalid address for connector %s on %s", name, network))
		}
		connectors[strings.ToUpper(strings.TrimSpace(name))] = common.HexToAddress(raw)
	}
	aliases := map[string]string{}
	for alias, name := range settings.Aliases[network] {
		aliases[strings.ToLower(strings.TrimSpace(alias))] = strings.ToUpper(strings.TrimSpace(name))
	}

	g := &Gateway{
		engine:     engine,
		registry:   reg,
		index:      common.HexToAddress(rawIndex),
		version:    settings.Version,
		connectors: connectors,
		aliases:    aliases,
		logger:     logger.Named("smartaccount").With(zap.String("network", network)),
	}
	if g.version <= 0 {
		g.version = 1
	}
	var err error
	if g.indexABI, err = reg.ABI(registry.ABIDSAIndex); err != nil {
		return nil, err
	}
	if g.accountABI, err = reg.ABI(registry.ABIDSAAccount); err != nil {
		return nil, err
	}
	if g.connectorABI, err = reg.ABI(registry.ABIDSAConnector); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) Network() string {
	return g.engine.Network()
}

// Accounts lists the proxy accounts of the signer.
func (g *Gateway) Accounts(ctx context.Context) ([]Account, error) {
	out, err := g.engine.Call(ctx, g.index, g.indexABI, "getAccounts", g.engine.Address())
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	records := reflect.ValueOf(out[0])
	if records.Kind() != reflect.Slice {
		return nil, clierr.New(clierr.CodeRead, fmt.Sprintf("unexpected getAccounts output %T", out[0]))
	}
	accounts := make([]Account, 0, records.Len())
	for i := 0; i < records.Len(); i++ {
		record := records.Index(i)
		addr, _ := record.FieldByName("Account").Interface().(common.Address)
		if addr == (common.Address{}) {
			continue
		}
		id, _ := record.FieldByName("Id").Interface().(*big.Int)
		version, _ := record.FieldByName("Version").Interface().(*big.Int)
		accounts = append(accounts, Account{ID: id, Address: addr, Version: version})
	}
	return accounts, nil
}

// EnsureAccount returns the signer's first proxy account, building one when
// none exists. The outcome is nil when no transaction was needed.
func (g *Gateway) EnsureAccount(ctx context.Context) (Account, *execution.Outcome, error) {
	accounts, err := g.Accounts(ctx)
	if err != nil {
		return Account{}, nil, err
	}
	if len(accounts) > 0 {
		return accounts[0], nil, nil
	}

	owner := g.engine.Address()
	g.logger.Info("building smart account", zap.String("owner", owner.Hex()), zap.Int64("version", g.version))
	outcome, err := g.engine.Invoke(ctx, "smart-account-build", g.index, g.indexABI, "build", nil, owner, big.NewInt(g.version), owner)
	if err != nil {
		return Account{}, &outcome, err
	}
	if addr, ok := g.createdAccount(outcome); ok {
		return Account{Address: addr, Version: big.NewInt(g.version)}, &outcome, nil
	}
	accounts, err = g.Accounts(ctx)
	if err != nil {
		return Account{}, &outcome, err
	}
	if len(accounts) == 0 {
		return Account{}, &outcome, clierr.New(clierr.CodeContractState, "smart account build confirmed but no account is registered")
	}
	return accounts[0], &outcome, nil
}

// createdAccount reads the account address from the LogAccountCreated
// event, where it is the second indexed topic.
func (g *Gateway) createdAccount(outcome execution.Outcome) (common.Address, bool) {
	event, ok := g.indexABI.Events["LogAccountCreated"]
	if !ok || outcome.Receipt == nil {
		return common.Address{}, false
	}
	for _, log := range outcome.Receipt.Logs {
		if log == nil || log.Address != g.index || len(log.Topics) < 3 || log.Topics[0] != event.ID {
			continue
		}
		return common.BytesToAddress(log.Topics[2].Bytes()), true
	}
	return common.Address{}, false
}

// ResolveConnector maps a connector name (BASIC-A) or alias (basic) to its
// deployed address.
func (g *Gateway) ResolveConnector(id string) (string, common.Address, error) {
	clean := strings.TrimSpace(id)
	if addr, ok := g.connectors[strings.ToUpper(clean)]; ok {
		return strings.ToUpper(clean), addr, nil
	}
	if name, ok := g.aliases[strings.ToLower(clean)]; ok {
		if addr, ok := g.connectors[name]; ok {
			return name, addr, nil
		}
		return "", common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("connector %s (alias %s) has no address on %s", name, clean, g.Network()))
	}
	return "", common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("unknown connector %q on %s", clean, g.Network()))
}

// connectorABIFor prefers a connector-specific descriptor such as
// dsa-connector-fluid-a.json from the ABI directory.
func (g *Gateway) connectorABIFor(name string) *abi.ABI {
	if parsed, err := g.registry.ABI(registry.ABIDSAConnector + "-" + strings.ToLower(name)); err == nil {
		return parsed
	}
	return g.connectorABI
}
