package app

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/workflow"
)

func (s *runtimeState) newExecuteCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a recommendation file (JSON or YAML)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(file) == "" {
				return clierr.New(clierr.CodeUsage, "--file is required")
			}
			rec, err := workflow.LoadRecommendation(file)
			if err != nil {
				return err
			}
			executor, err := s.executor(cmd.Context())
			if err != nil {
				return err
			}
			result, err := executor.Execute(cmd.Context(), rec)
			if err != nil {
				if result.ID == "" {
					return err
				}
				return s.fail(result.Network, result, result.Status == workflow.StatusPartial, err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result.Network, result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Recommendation file (.json, .yaml)")
	return cmd
}

func (s *runtimeState) newResultsCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "results",
		Short: "Inspect recorded execution results",
	}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent execution results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch workflow.Status(status) {
			case "", workflow.StatusSuccess, workflow.StatusPartial, workflow.StatusFailed:
			default:
				return clierr.New(clierr.CodeUsage, "--status must be success, partial or failed")
			}
			store, err := s.resultStore()
			if err != nil {
				return err
			}
			results, err := store.List(status, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list results", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), "", results)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (success|partial|failed)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum results to return")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one execution result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.resultStore()
			if err != nil {
				return err
			}
			result, err := store.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result.Network, result)
		},
	}

	root.AddCommand(listCmd)
	root.AddCommand(showCmd)
	return root
}
