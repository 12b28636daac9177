package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
	"github.com/ggonzalez94/yieldmove/internal/model"
	"github.com/ggonzalez94/yieldmove/internal/protocols"
	"github.com/ggonzalez94/yieldmove/internal/workflow"
)

type positionArgs struct {
	protocol string
	network  string
	asset    string
	amount   string
	market   string
}

func (a positionArgs) validate(needAmount bool) error {
	if strings.TrimSpace(a.protocol) == "" {
		return clierr.New(clierr.CodeUsage, "--protocol is required")
	}
	if strings.TrimSpace(a.network) == "" {
		return clierr.New(clierr.CodeUsage, "--network is required")
	}
	if strings.TrimSpace(a.asset) == "" {
		return clierr.New(clierr.CodeUsage, "--asset is required")
	}
	if needAmount && strings.TrimSpace(a.amount) == "" {
		return clierr.New(clierr.CodeUsage, "--amount is required")
	}
	return nil
}

func bindPositionFlags(cmd *cobra.Command, args *positionArgs, withAmount bool) {
	cmd.Flags().StringVar(&args.protocol, "protocol", "", "Protocol (aave-v3|aave-v2|lendle|compound-v3|silo-v2|fluid)")
	cmd.Flags().StringVar(&args.network, "network", "", "Network name from config")
	cmd.Flags().StringVar(&args.asset, "asset", "", "Token symbol or address")
	cmd.Flags().StringVar(&args.market, "market", "", "Silo market id (silo-v2 only)")
	if withAmount {
		cmd.Flags().StringVar(&args.amount, "amount", "", "Amount in token units (e.g. 10.5)")
	}
}

// lender resolves the operator, token and smallest-unit amount of args.
func (s *runtimeState) lender(ctx context.Context, args positionArgs) (protocols.Lender, common.Address, *big.Int, error) {
	protocol, err := protocols.Parse(args.protocol)
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	op, err := s.engines().Operator(ctx, workflow.Target{Network: args.network, Protocol: protocol, Market: s.siloMarket(args.network, args.market)})
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	lender, ok := op.(protocols.Lender)
	if !ok {
		return nil, common.Address{}, nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s does not support supply and withdraw", protocol))
	}
	engine, err := s.engines().Engine(ctx, args.network)
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	tokenAddr, err := engine.Tokens().Address(args.asset, engine.Network())
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	if strings.TrimSpace(args.amount) == "" {
		return lender, tokenAddr, nil, nil
	}
	amount, err := engine.ToSmallestUnit(ctx, tokenAddr, args.amount)
	if err != nil {
		return nil, common.Address{}, nil, err
	}
	return lender, tokenAddr, amount, nil
}

// siloMarket falls back to the configured default market of network.
func (s *runtimeState) siloMarket(network, market string) string {
	if strings.TrimSpace(market) != "" {
		return strings.TrimSpace(market)
	}
	return s.settings.Silo.DefaultMarket[strings.ToLower(strings.TrimSpace(network))]
}

// finishOutcome emits a confirmed outcome or returns the error with the
// outcome attached.
func (s *runtimeState) finishOutcome(cmd *cobra.Command, out execution.Outcome, err error) error {
	if err == nil && !out.Confirmed() {
		err = clierr.New(clierr.CodeReceiptTimeout, fmt.Sprintf("%s did not confirm: %s", out.Label, out.Status))
	}
	if err != nil {
		return s.fail(out.Network, out, false, err)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), out.Network, out)
}

func (s *runtimeState) newSupplyCommand() *cobra.Command {
	var args positionArgs
	cmd := &cobra.Command{
		Use:   "supply",
		Short: "Supply tokens to a lending protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := args.validate(true); err != nil {
				return err
			}
			lender, tokenAddr, amount, err := s.lender(cmd.Context(), args)
			if err != nil {
				return err
			}
			out, err := lender.Supply(cmd.Context(), tokenAddr, amount)
			return s.finishOutcome(cmd, out, err)
		},
	}
	bindPositionFlags(cmd, &args, true)
	return cmd
}

func (s *runtimeState) newWithdrawCommand() *cobra.Command {
	var args positionArgs
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw tokens from a lending protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := args.validate(true); err != nil {
				return err
			}
			lender, tokenAddr, amount, err := s.lender(cmd.Context(), args)
			if err != nil {
				return err
			}
			out, err := lender.Withdraw(cmd.Context(), tokenAddr, amount)
			return s.finishOutcome(cmd, out, err)
		},
	}
	bindPositionFlags(cmd, &args, true)
	return cmd
}

func (s *runtimeState) newBalanceCommand() *cobra.Command {
	var args positionArgs
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the signer's position in a protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := args.validate(false); err != nil {
				return err
			}
			lender, tokenAddr, _, err := s.lender(cmd.Context(), args)
			if err != nil {
				return err
			}
			units, err := lender.Balance(cmd.Context(), tokenAddr)
			if err != nil {
				return err
			}
			engine, err := s.engines().Engine(cmd.Context(), args.network)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), engine.Network(), model.Balance{
				Protocol:    string(lender.Protocol()),
				Network:     engine.Network(),
				Token:       engine.Tokens().Symbol(tokenAddr, engine.Network()),
				Address:     tokenAddr.Hex(),
				AmountUnits: units.String(),
				Amount:      engine.FormatUnits(cmd.Context(), tokenAddr, units),
			})
		},
	}
	bindPositionFlags(cmd, &args, false)
	return cmd
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var (
		network  string
		from     string
		to       string
		amount   string
		slippage float64
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap tokens through the Uniswap V3 router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(network) == "" || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" || strings.TrimSpace(amount) == "" {
				return clierr.New(clierr.CodeUsage, "--network, --from, --to and --amount are required")
			}
			ctx := cmd.Context()
			op, err := s.engines().Operator(ctx, workflow.Target{Network: network, Protocol: protocols.UniswapV3})
			if err != nil {
				return err
			}
			swapper, ok := op.(protocols.Swapper)
			if !ok {
				return clierr.New(clierr.CodeUnsupported, "uniswap-v3 does not support swaps")
			}
			engine, err := s.engines().Engine(ctx, network)
			if err != nil {
				return err
			}
			tokenIn, err := engine.Tokens().Address(from, engine.Network())
			if err != nil {
				return err
			}
			tokenOut, err := engine.Tokens().Address(to, engine.Network())
			if err != nil {
				return err
			}
			amountIn, err := engine.ToSmallestUnit(ctx, tokenIn, amount)
			if err != nil {
				return err
			}
			result, err := swapper.Swap(ctx, protocols.SwapRequest{
				TokenIn:     tokenIn,
				TokenOut:    tokenOut,
				AmountIn:    amountIn,
				SlippagePct: slippage,
			})
			if err == nil && !result.Outcome.Confirmed() {
				err = clierr.New(clierr.CodeReceiptTimeout, fmt.Sprintf("swap did not confirm: %s", result.Outcome.Status))
			}
			if err != nil {
				return s.fail(engine.Network(), result, false, err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), engine.Network(), result)
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "Network name from config")
	cmd.Flags().StringVar(&from, "from", "", "Input token symbol or address")
	cmd.Flags().StringVar(&to, "to", "", "Output token symbol or address")
	cmd.Flags().StringVar(&amount, "amount", "", "Input amount in token units")
	cmd.Flags().Float64Var(&slippage, "slippage", 0.5, "Slippage tolerance in percent")
	return cmd
}
