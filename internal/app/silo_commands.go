package app

import (
	"context"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/model"
	"github.com/ggonzalez94/yieldmove/internal/protocols"
	"github.com/ggonzalez94/yieldmove/internal/token"
	"github.com/ggonzalez94/yieldmove/internal/vault"
)

type siloArgs struct {
	network    string
	market     string
	asset      string
	amount     string
	collateral string
}

func bindSiloFlags(cmd *cobra.Command, args *siloArgs, withAmount bool) {
	cmd.Flags().StringVar(&args.network, "network", "", "Network name from config")
	cmd.Flags().StringVar(&args.market, "market", "", "Silo market id (defaults to the network's default market)")
	cmd.Flags().StringVar(&args.asset, "asset", "", "Token symbol or address")
	cmd.Flags().StringVar(&args.collateral, "collateral", "protected", "Collateral type (protected|standard)")
	if withAmount {
		cmd.Flags().StringVar(&args.amount, "amount", "", "Amount in token units")
	}
}

// siloVault builds the vault operator of args and finds the vault holding
// the asset.
func (s *runtimeState) siloVault(ctx context.Context, args siloArgs) (protocols.VaultOperator, vault.Descriptor, *execution.Engine, error) {
	if strings.TrimSpace(args.network) == "" || strings.TrimSpace(args.asset) == "" {
		return nil, vault.Descriptor{}, nil, clierr.New(clierr.CodeUsage, "--network and --asset are required")
	}
	collateral, err := vault.ParseCollateralType(args.collateral)
	if err != nil {
		return nil, vault.Descriptor{}, nil, err
	}
	env, err := s.engines().env(ctx, args.network, protocols.SiloV2)
	if err != nil {
		return nil, vault.Descriptor{}, nil, err
	}
	env.Market = s.siloMarket(args.network, args.market)
	env.Collateral = collateral
	op, err := protocols.NewVaultOperator(env)
	if err != nil {
		return nil, vault.Descriptor{}, nil, err
	}
	tokenAddr, err := env.Engine.Tokens().Address(args.asset, env.Engine.Network())
	if err != nil {
		return nil, vault.Descriptor{}, nil, err
	}
	d, err := op.Vault(ctx, tokenAddr)
	if err != nil {
		return nil, vault.Descriptor{}, nil, err
	}
	return op, d, env.Engine, nil
}

func (s *runtimeState) newSiloCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "silo",
		Short: "Silo V2 vault operations",
	}

	var deposit siloArgs
	depositCmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit into a Silo vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(deposit.amount) == "" {
				return clierr.New(clierr.CodeUsage, "--amount is required")
			}
			op, d, _, err := s.siloVault(cmd.Context(), deposit)
			if err != nil {
				return err
			}
			amount, err := token.ParseUnits(deposit.amount, d.Decimals)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse amount", err)
			}
			out, err := op.DepositTo(cmd.Context(), d, amount)
			return s.finishOutcome(cmd, out, err)
		},
	}
	bindSiloFlags(depositCmd, &deposit, true)

	var (
		withdraw siloArgs
		force    bool
	)
	withdrawCmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw from a Silo vault, clamped to available liquidity unless --force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			op, d, _, err := s.siloVault(ctx, withdraw)
			if err != nil {
				return err
			}
			var amount *big.Int
			if strings.TrimSpace(withdraw.amount) == "" {
				info, err := op.GetWithdrawalInfo(ctx, d.Address, d.CollateralType)
				if err != nil {
					return err
				}
				amount = info.TotalBalance
			} else {
				amount, err = token.ParseUnits(withdraw.amount, d.Decimals)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "parse amount", err)
				}
			}
			out, err := op.WithdrawFrom(ctx, d.Address, amount, d.CollateralType, force)
			return s.finishOutcome(cmd, out, err)
		},
	}
	bindSiloFlags(withdrawCmd, &withdraw, true)
	withdrawCmd.Flags().BoolVar(&force, "force", false, "Request the full amount even above available liquidity")

	var info siloArgs
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the signer's position and liquidity in a Silo vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			op, d, engine, err := s.siloVault(ctx, info)
			if err != nil {
				return err
			}
			position, err := op.GetWithdrawalInfo(ctx, d.Address, d.CollateralType)
			if err != nil {
				return err
			}
			snapshot, err := op.MarketSnapshot(ctx, d.Address)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), engine.Network(), model.VaultPosition{
				Network:          engine.Network(),
				Market:           op.Market(),
				Vault:            d.Address.Hex(),
				Asset:            d.Asset.Hex(),
				Symbol:           d.Symbol,
				CollateralType:   string(d.CollateralType),
				Shares:           position.Shares.String(),
				TotalBalance:     token.FormatUnits(position.TotalBalance, d.Decimals),
				AvailableBalance: token.FormatUnits(position.AvailableBalance, d.Decimals),
				LiquidityPct:     position.LiquidityPct,
				UtilizationPct:   snapshot.UtilizationPct,
			})
		},
	}
	bindSiloFlags(infoCmd, &info, false)

	var (
		resolveNetwork string
		resolveMarket  string
	)
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Discover the vaults of a Silo market",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(resolveNetwork) == "" {
				return clierr.New(clierr.CodeUsage, "--network is required")
			}
			ctx := cmd.Context()
			engine, err := s.engines().Engine(ctx, resolveNetwork)
			if err != nil {
				return err
			}
			resolver, err := s.engines().vaults(ctx)
			if err != nil {
				return err
			}
			market := s.siloMarket(resolveNetwork, resolveMarket)
			if market == "" {
				return clierr.New(clierr.CodeUsage, "--market is required when the network has no default market")
			}
			descriptors, err := resolver.Resolve(ctx, engine, market)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), engine.Network(), descriptors)
		},
	}
	resolveCmd.Flags().StringVar(&resolveNetwork, "network", "", "Network name from config")
	resolveCmd.Flags().StringVar(&resolveMarket, "market", "", "Silo market id")

	root.AddCommand(depositCmd)
	root.AddCommand(withdrawCmd)
	root.AddCommand(infoCmd)
	root.AddCommand(resolveCmd)
	return root
}
