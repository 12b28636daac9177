package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/execution"
)

func parseTxHash(raw string) (common.Hash, error) {
	hash, ok := execution.ParseTxHash(raw)
	if !ok {
		return common.Hash{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid transaction hash %q", strings.TrimSpace(raw)))
	}
	return hash, nil
}

func (s *runtimeState) newTxCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tx",
		Short: "Follow up on broadcast transactions",
	}

	txAction := func(use, short string, run func(ctx context.Context, engine *execution.Engine, hash common.Hash) (execution.Outcome, error)) *cobra.Command {
		var network string
		cmd := &cobra.Command{
			Use:   use + " <hash>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if strings.TrimSpace(network) == "" {
					return clierr.New(clierr.CodeUsage, "--network is required")
				}
				hash, err := parseTxHash(args[0])
				if err != nil {
					return err
				}
				engine, err := s.engines().Engine(cmd.Context(), network)
				if err != nil {
					return err
				}
				out, err := run(cmd.Context(), engine, hash)
				return s.finishOutcome(cmd, out, err)
			},
		}
		cmd.Flags().StringVar(&network, "network", "", "Network the transaction was sent on")
		return cmd
	}

	root.AddCommand(txAction("speed-up", "Rebroadcast a pending transaction with higher fees",
		func(ctx context.Context, engine *execution.Engine, hash common.Hash) (execution.Outcome, error) {
			return engine.SpeedUp(ctx, hash)
		}))
	root.AddCommand(txAction("wait", "Wait for the receipt of a broadcast transaction",
		func(ctx context.Context, engine *execution.Engine, hash common.Hash) (execution.Outcome, error) {
			return engine.WaitForReceipt(ctx, hash)
		}))
	return root
}
