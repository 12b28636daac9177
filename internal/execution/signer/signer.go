// Package signer holds the signing identity transactions are sent from.
package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs transactions for one address. The engine serializes nonces
// per (Address, chain), so one Signer must map to one key.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

var _ Signer = (*LocalSigner)(nil)
