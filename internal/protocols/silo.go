package protocols

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/registry"
	"github.com/ggonzalez94/yieldmove/internal/vault"
)

// WithdrawalInfo describes the signer's position in one vault. Balances are
// in underlying asset units.
type WithdrawalInfo struct {
	Shares           *big.Int `json:"shares"`
	TotalBalance     *big.Int `json:"total_balance"`
	AvailableBalance *big.Int `json:"available_balance"`
	LiquidityPct     float64  `json:"liquidity_pct"`
}

type MarketSnapshot struct {
	Vault          common.Address `json:"vault"`
	TotalAssets    *big.Int       `json:"total_assets"`
	Liquidity      *big.Int       `json:"liquidity"`
	UtilizationPct float64        `json:"utilization_pct"`
}

// VaultOperator is the Silo surface beyond plain supply/withdraw.
type VaultOperator interface {
	Lender
	Market() string
	Vault(ctx context.Context, token common.Address) (vault.Descriptor, error)
	DepositTo(ctx context.Context, d vault.Descriptor, amount *big.Int) (execution.Outcome, error)
	GetWithdrawalInfo(ctx context.Context, vaultAddr common.Address, collateral vault.CollateralType) (WithdrawalInfo, error)
	WithdrawFrom(ctx context.Context, vaultAddr common.Address, amount *big.Int, collateral vault.CollateralType, force bool) (execution.Outcome, error)
	MarketSnapshot(ctx context.Context, vaultAddr common.Address) (MarketSnapshot, error)
}

// NewVaultOperator builds the silo-v2 operator for env.Market.
func NewVaultOperator(env Env) (VaultOperator, error) {
	op, err := New(env, SiloV2)
	if err != nil {
		return nil, err
	}
	return op.(VaultOperator), nil
}

type siloOperator struct {
	base
	vaults     *vault.Resolver
	market     string
	collateral vault.CollateralType
	vaultABI   *abi.ABI
}

func newSilo(env Env) (*siloOperator, error) {
	if env.Vaults == nil {
		return nil, clierr.New(clierr.CodeConfig, "silo operator requires a vault resolver")
	}
	network := env.Engine.Network()
	market := strings.TrimSpace(env.Market)
	if market == "" {
		market = env.Settings.Silo.DefaultMarket[config.NormalizeNetwork(network)]
	}
	if market == "" {
		return nil, clierr.New(clierr.CodeConfig, fmt.Sprintf("no silo market selected for %s", network))
	}
	if _, err := env.Vaults.MarketConfig(network, market); err != nil {
		return nil, err
	}
	vaultABI, err := env.Registry.ABI(registry.ABISiloVault)
	if err != nil {
		return nil, err
	}
	collateral := env.Collateral
	if collateral == "" {
		collateral = vault.Protected
	}
	op := &siloOperator{
		base:       newBase(env, SiloV2),
		vaults:     env.Vaults,
		market:     market,
		collateral: collateral,
		vaultABI:   vaultABI,
	}
	op.logger = op.logger.With(zap.String("market", market))
	return op, nil
}

func (s *siloOperator) Market() string {
	return s.market
}

// Vault finds the market's vault for token with the operator's collateral
// type.
func (s *siloOperator) Vault(ctx context.Context, token common.Address) (vault.Descriptor, error) {
	return s.vaults.Find(ctx, s.engine, s.market, token, s.collateral)
}

func (s *siloOperator) CheckTokenSupport(ctx context.Context, token common.Address) (bool, error) {
	if _, err := s.Vault(ctx, token); err != nil {
		if clierr.Is(err, clierr.CodeVaultDiscovery) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Balance is the redeemable asset value of the signer's shares.
func (s *siloOperator) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	d, err := s.Vault(ctx, token)
	if err != nil {
		return nil, err
	}
	info, err := s.GetWithdrawalInfo(ctx, d.Address, d.CollateralType)
	if err != nil {
		return nil, err
	}
	return info.TotalBalance, nil
}

func (s *siloOperator) Supply(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	d, err := s.Vault(ctx, token)
	if err != nil {
		return failedOutcome(s.Network(), "silo-deposit", err), err
	}
	return s.DepositTo(ctx, d, amount)
}

func (s *siloOperator) DepositTo(ctx context.Context, d vault.Descriptor, amount *big.Int) (execution.Outcome, error) {
	label := "silo-deposit"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(s.Network(), label, err), err
	}
	if err := s.requireWalletBalance(ctx, d.Asset, amount); err != nil {
		return execution.Skipped(s.Network(), label, err.Error()), err
	}
	if approval, err := s.approve(ctx, d.Asset, d.Address, amount); err != nil {
		return approvalFailure(s.Network(), label, approval, err), err
	}
	s.logger.Info("depositing into vault",
		zap.String("vault", d.Address.Hex()),
		zap.String("collateral", string(d.CollateralType)),
		zap.String("amount", s.engine.FormatUnits(ctx, d.Asset, amount)))
	return s.engine.Invoke(ctx, label, d.Address, s.vaultABI, "deposit0", nil, amount, s.owner(), d.CollateralType.Uint8())
}

func (s *siloOperator) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (execution.Outcome, error) {
	d, err := s.Vault(ctx, token)
	if err != nil {
		return failedOutcome(s.Network(), "silo-withdraw", err), err
	}
	return s.WithdrawFrom(ctx, d.Address, amount, d.CollateralType, false)
}

func (s *siloOperator) GetWithdrawalInfo(ctx context.Context, vaultAddr common.Address, collateral vault.CollateralType) (WithdrawalInfo, error) {
	shares, err := s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, "balanceOf", s.owner())
	if err != nil {
		return WithdrawalInfo{}, err
	}
	total := s.sharesToAssets(ctx, vaultAddr, shares)

	available, err := s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, "maxWithdraw0", s.owner(), collateral.Uint8())
	if err != nil {
		s.logger.Debug("typed maxWithdraw unavailable, trying plain maxWithdraw", zap.Error(err))
		available, err = s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, "maxWithdraw", s.owner())
		if err != nil {
			return WithdrawalInfo{}, err
		}
	}
	return WithdrawalInfo{
		Shares:           shares,
		TotalBalance:     total,
		AvailableBalance: available,
		LiquidityPct:     percentOf(available, total),
	}, nil
}

// sharesToAssets prefers previewRedeem, then convertToAssets, then treats
// shares as assets.
func (s *siloOperator) sharesToAssets(ctx context.Context, vaultAddr common.Address, shares *big.Int) *big.Int {
	if shares.Sign() == 0 {
		return new(big.Int)
	}
	for _, method := range []string{"previewRedeem", "convertToAssets"} {
		assets, err := s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, method, shares)
		if err == nil {
			return assets
		}
		s.logger.Debug("share conversion failed", zap.String("method", method), zap.Error(err))
	}
	return new(big.Int).Set(shares)
}

// clampWithdrawal caps requested to the available balance, or only to the
// total balance when forced.
func clampWithdrawal(requested *big.Int, info WithdrawalInfo, force bool) *big.Int {
	limit := info.AvailableBalance
	if force {
		limit = info.TotalBalance
	}
	if limit == nil || limit.Sign() <= 0 {
		return new(big.Int)
	}
	if requested.Cmp(limit) > 0 {
		return new(big.Int).Set(limit)
	}
	return new(big.Int).Set(requested)
}

// assetsToShares prefers convertToShares, then the position's share/asset
// ratio, then the full share balance. The result never exceeds the share
// balance.
func (s *siloOperator) assetsToShares(ctx context.Context, vaultAddr common.Address, amount *big.Int, info WithdrawalInfo) *big.Int {
	shares, err := s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, "convertToShares", amount)
	if err != nil {
		s.logger.Debug("convertToShares failed", zap.Error(err))
		if info.TotalBalance != nil && info.TotalBalance.Sign() > 0 {
			shares = new(big.Int).Mul(amount, info.Shares)
			shares.Quo(shares, info.TotalBalance)
		} else {
			shares = new(big.Int).Set(info.Shares)
		}
	}
	if shares.Cmp(info.Shares) > 0 {
		shares = new(big.Int).Set(info.Shares)
	}
	return shares
}

func (s *siloOperator) WithdrawFrom(ctx context.Context, vaultAddr common.Address, amount *big.Int, collateral vault.CollateralType, force bool) (execution.Outcome, error) {
	label := "silo-withdraw"
	if err := requirePositive(amount); err != nil {
		return failedOutcome(s.Network(), label, err), err
	}
	info, err := s.GetWithdrawalInfo(ctx, vaultAddr, collateral)
	if err != nil {
		return failedOutcome(s.Network(), label, err), err
	}
	logger := s.logger.With(zap.String("vault", vaultAddr.Hex()), zap.String("collateral", string(collateral)))

	clamped := clampWithdrawal(amount, info, force)
	switch {
	case force && info.AvailableBalance.Cmp(clamped) < 0:
		logger.Warn("forced withdrawal exceeds available liquidity, the vault may fulfill less",
			zap.String("requested", clamped.String()),
			zap.String("available", info.AvailableBalance.String()))
	case clamped.Cmp(amount) < 0:
		logger.Warn("withdrawal clamped",
			zap.String("requested", amount.String()),
			zap.String("clamped", clamped.String()))
	}
	if clamped.Sign() == 0 {
		err := clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf("nothing withdrawable from vault %s", vaultAddr.Hex()))
		return execution.Skipped(s.Network(), label, err.Error()), err
	}

	shares := s.assetsToShares(ctx, vaultAddr, clamped, info)
	if shares.Sign() == 0 {
		err := clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf("no shares to redeem in vault %s", vaultAddr.Hex()))
		return execution.Skipped(s.Network(), label, err.Error()), err
	}
	logger.Info("redeeming", zap.String("assets", clamped.String()), zap.String("shares", shares.String()), zap.Bool("force", force))
	return s.engine.Invoke(ctx, label, vaultAddr, s.vaultABI, "redeem0", nil, shares, s.owner(), s.owner(), collateral.Uint8())
}

func (s *siloOperator) MarketSnapshot(ctx context.Context, vaultAddr common.Address) (MarketSnapshot, error) {
	total, err := s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, "totalAssets")
	if err != nil {
		return MarketSnapshot{}, err
	}
	liquidity, err := s.engine.CallBigInt(ctx, vaultAddr, s.vaultABI, "getLiquidity")
	if err != nil {
		return MarketSnapshot{}, err
	}
	borrowed := new(big.Int).Sub(total, liquidity)
	if borrowed.Sign() < 0 {
		borrowed.SetInt64(0)
	}
	return MarketSnapshot{
		Vault:          vaultAddr,
		TotalAssets:    total,
		Liquidity:      liquidity,
		UtilizationPct: percentOf(borrowed, total),
	}, nil
}

// percentOf returns part/whole × 100, or 0 for an empty whole.
func percentOf(part, whole *big.Int) float64 {
	if whole == nil || whole.Sign() == 0 || part == nil {
		return 0
	}
	ratio, _ := new(big.Rat).SetFrac(new(big.Int).Mul(part, big.NewInt(100)), whole).Float64()
	return ratio
}
