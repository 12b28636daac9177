// Package vault resolves Silo market ids to concrete vault contracts and
// memoizes the result in an injectable store.
package vault

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

// CollateralType selects the accounting bucket inside a Silo vault.
type CollateralType string

const (
	Standard  CollateralType = "standard"
	Protected CollateralType = "protected"
)

// Uint8 is the value the vault contracts expect for the type argument.
func (c CollateralType) Uint8() uint8 {
	if c == Protected {
		return 0
	}
	return 1
}

func ParseCollateralType(raw string) (CollateralType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(Protected):
		return Protected, nil
	case string(Standard), "collateral":
		return Standard, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown collateral type %q (want standard or protected)", raw))
	}
}

// Source records which discovery strategy produced a descriptor.
type Source string

const (
	SourceCache    Source = "cache"
	SourceFactory  Source = "factory"
	SourceIndexed  Source = "indexed"
	SourceAccessor Source = "accessor"
)

// Descriptor is one validated vault of a market.
type Descriptor struct {
	Network        string         `json:"network"`
	MarketID       string         `json:"market_id"`
	Address        common.Address `json:"address"`
	CollateralType CollateralType `json:"collateral_type"`
	Asset          common.Address `json:"asset"`
	Name           string         `json:"name"`
	Symbol         string         `json:"symbol"`
	Decimals       uint8          `json:"decimals"`
	Source         Source         `json:"source"`
}

// Key identifies one market on one network.
type Key struct {
	Network  string
	MarketID string
}

func (k Key) String() string {
	return strings.ToLower(strings.TrimSpace(k.Network)) + ":" + strings.TrimSpace(k.MarketID)
}
