// Package bookkeeping pushes position moves to an external ledger after a
// workflow completes.
package bookkeeping

import (
	"context"
	"fmt"
	"strings"

	"github.com/ggonzalez94/yieldmove/internal/config"
)

// PositionUpdate moves a tracked position from one pool id to another.
// Amount is a decimal string in token units.
type PositionUpdate struct {
	OldPoolID string `json:"old_pool_id"`
	NewPoolID string `json:"new_pool_id"`
	Amount    string `json:"position_balance"`
	TxHash    string `json:"tx_hash"`
}

func (u PositionUpdate) validate() error {
	if strings.TrimSpace(u.OldPoolID) == "" || strings.TrimSpace(u.NewPoolID) == "" {
		return fmt.Errorf("position update requires old and new pool ids")
	}
	return nil
}

type Recorder interface {
	UpdatePosition(ctx context.Context, update PositionUpdate) error
}

// PoolID is {asset}_{chain}_{protocol}.
func PoolID(asset, chain, protocol string) string {
	return fmt.Sprintf("%s_%s_%s", config.NormalizeSymbol(asset), config.NormalizeNetwork(chain), strings.ToLower(strings.TrimSpace(protocol)))
}

// SiloPoolID is {asset}_{chain}_silo-v2_{market}.
func SiloPoolID(asset, chain, market string) string {
	return PoolID(asset, chain, "silo-v2") + "_" + strings.TrimSpace(market)
}
