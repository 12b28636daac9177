package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/yieldmove/internal/chain"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/registry"
)

const (
	feeModeLegacy = "legacy"

	defaultTipCapWei  = 2_000_000_000
	defaultBaseFeeWei = 1_000_000_000
)

// feeParams holds either a legacy gas price or an EIP-1559 fee pair.
type feeParams struct {
	legacy   bool
	gasPrice *big.Int
	tipCap   *big.Int
	feeCap   *big.Int
}

func resolveFees(ctx context.Context, backend chain.Backend, cfg registry.ChainConfig) (feeParams, error) {
	if strings.EqualFold(cfg.Fee.Mode, feeModeLegacy) {
		gasPrice, err := backend.SuggestGasPrice(ctx)
		if err != nil {
			return feeParams{}, clierr.Wrap(clierr.CodeUnavailable, "fetch gas price", err)
		}
		if cfg.Fee.GasPriceMultiplier > 0 {
			gasPrice = applyMultiplier(gasPrice, cfg.Fee.GasPriceMultiplier)
		}
		return feeParams{legacy: true, gasPrice: gasPrice}, nil
	}

	tipCap, err := resolveTipCap(ctx, backend, cfg.Fee.PriorityFeeGwei)
	if err != nil {
		return feeParams{}, err
	}
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return feeParams{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(defaultBaseFeeWei)
	}
	return feeParams{tipCap: tipCap, feeCap: resolveFeeCap(baseFee, tipCap)}, nil
}

func resolveTipCap(ctx context.Context, backend chain.Backend, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeConfig, "parse priority_fee_gwei", err)
		}
		return v, nil
	}
	tipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(defaultTipCapWei), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int) *big.Int {
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap)
}

// bump raises every fee by percent, by at least one wei.
func (f feeParams) bump(percent int64) feeParams {
	return feeParams{
		legacy:   f.legacy,
		gasPrice: bumpWei(f.gasPrice, percent),
		tipCap:   bumpWei(f.tipCap, percent),
		feeCap:   bumpWei(f.feeCap, percent),
	}
}

// atLeast returns f with every fee raised to other's where other is higher.
func (f feeParams) atLeast(other feeParams) feeParams {
	return feeParams{
		legacy:   f.legacy,
		gasPrice: maxWei(f.gasPrice, other.gasPrice),
		tipCap:   maxWei(f.tipCap, other.tipCap),
		feeCap:   maxWei(f.feeCap, other.feeCap),
	}
}

func (f feeParams) build(chainID *big.Int, nonce uint64, to common.Address, value *big.Int, gas uint64, data []byte) *types.Transaction {
	if f.legacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: f.gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: f.tipCap,
		GasFeeCap: f.feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}

func (f feeParams) record(out *Outcome) {
	out.GasPrice, out.MaxFeePerGas, out.MaxPriorityFeePerGas = "", "", ""
	if f.legacy {
		out.GasPrice = f.gasPrice.String()
		return
	}
	out.MaxFeePerGas = f.feeCap.String()
	out.MaxPriorityFeePerGas = f.tipCap.String()
}

func feesFromTx(tx *types.Transaction) feeParams {
	if tx.Type() == types.LegacyTxType {
		return feeParams{legacy: true, gasPrice: tx.GasPrice()}
	}
	return feeParams{tipCap: tx.GasTipCap(), feeCap: tx.GasFeeCap()}
}

func bumpWei(v *big.Int, percent int64) *big.Int {
	if v == nil {
		return nil
	}
	next := new(big.Int).Mul(v, big.NewInt(percent))
	next.Quo(next, big.NewInt(100))
	floor := new(big.Int).Add(v, big.NewInt(1))
	if next.Cmp(floor) < 0 {
		return floor
	}
	return next
}

func maxWei(a, b *big.Int) *big.Int {
	if a == nil {
		return b
	}
	if b == nil || a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func applyMultiplier(v *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(multiplier))
	out, _ := scaled.Int(nil)
	return out
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
