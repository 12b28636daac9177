package smartaccount

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
)

// Spell is one connector call inside a batch.
type Spell struct {
	Connector string
	Method    string
	Args      []any
}

// Batch accumulates spells for a single cast.
type Batch struct {
	gw     *Gateway
	spells []Spell
}

func (g *Gateway) NewBatch() *Batch {
	return &Batch{gw: g}
}

func (b *Batch) Add(connector, method string, args ...any) *Batch {
	b.spells = append(b.spells, Spell{Connector: connector, Method: method, Args: args})
	return b
}

func (b *Batch) Len() int {
	return len(b.spells)
}

type CastOptions struct {
	Label string
	// Account overrides the proxy account; the signer's first account is
	// used when zero.
	Account common.Address
	Value   *big.Int
}

// Cast encodes every spell and submits one cast(targets, datas, origin)
// transaction. Connector resolution and encoding errors surface before any
// broadcast.
func (b *Batch) Cast(ctx context.Context, opts CastOptions) (execution.Outcome, error) {
	g := b.gw
	network := g.Network()
	if len(b.spells) == 0 {
		return execution.Skipped(network, opts.Label, "empty batch"), clierr.New(clierr.CodeUsage, "batch has no spells")
	}

	targets := make([]common.Address, 0, len(b.spells))
	datas := make([][]byte, 0, len(b.spells))
	names := make([]string, 0, len(b.spells))
	for _, spell := range b.spells {
		name, addr, err := g.ResolveConnector(spell.Connector)
		if err != nil {
			return execution.Outcome{Label: opts.Label, Status: execution.StatusSubmissionFailed, Network: network, Reason: err.Error()}, err
		}
		data, err := g.connectorABIFor(name).Pack(spell.Method, spell.Args...)
		if err != nil {
			wrapped := clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("encode %s.%s", name, spell.Method), err)
			return execution.Outcome{Label: opts.Label, Status: execution.StatusSubmissionFailed, Network: network, Reason: wrapped.Error()}, wrapped
		}
		targets = append(targets, addr)
		datas = append(datas, data)
		names = append(names, name+"."+spell.Method)
	}

	account := opts.Account
	if account == (common.Address{}) {
		accounts, err := g.Accounts(ctx)
		if err != nil {
			return execution.Outcome{Label: opts.Label, Status: execution.StatusSubmissionFailed, Network: network, Reason: err.Error()}, err
		}
		if len(accounts) == 0 {
			err := clierr.New(clierr.CodeContractState, "signer has no smart account")
			return execution.Outcome{Label: opts.Label, Status: execution.StatusSubmissionFailed, Network: network, Reason: err.Error()}, err
		}
		account = accounts[0].Address
	}

	label := opts.Label
	if label == "" {
		label = "cast"
	}
	g.logger.Info("casting spells",
		zap.String("account", account.Hex()),
		zap.String("spells", strings.Join(names, ",")))
	return g.engine.Invoke(ctx, label, account, g.accountABI, "cast", opts.Value, targets, datas, g.engine.Address())
}
