package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/yieldmove/internal/archive"
	"github.com/ggonzalez94/yieldmove/internal/bookkeeping"
	"github.com/ggonzalez94/yieldmove/internal/config"
	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
	"github.com/ggonzalez94/yieldmove/internal/metrics"
	"github.com/ggonzalez94/yieldmove/internal/model"
	"github.com/ggonzalez94/yieldmove/internal/out"
	"github.com/ggonzalez94/yieldmove/internal/policy"
	"github.com/ggonzalez94/yieldmove/internal/telemetry"
	"github.com/ggonzalez94/yieldmove/internal/version"
	"github.com/ggonzalez94/yieldmove/internal/workflow"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	selectFields string
	resultsOnly  bool
	settings     config.Settings
	root         *cobra.Command

	logger         *zap.Logger
	metrics        *metrics.Metrics
	factory        *engineFactory
	results        *workflow.Store
	closers        []func()
	shutdownTracer func()

	lastCommand string
	lastNetwork string
	lastData    any
	lastPartial bool
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Execute yield reallocation moves across on-chain lending protocols",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			if s.logger == nil {
				logger, err := telemetry.NewLogger(settings.Log)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
				}
				s.logger = logger
				s.metrics = metrics.New()
				s.shutdownTracer = telemetry.InitTracer(cmd.Context(), settings.Tracing, logger)
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	config.BindFlags(cmd.PersistentFlags(), &s.flags)
	cmd.PersistentFlags().StringVar(&s.selectFields, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.resultsOnly, "results-only", false, "Output only data payload")

	cmd.AddCommand(s.newExecuteCommand())
	cmd.AddCommand(s.newSupplyCommand())
	cmd.AddCommand(s.newWithdrawCommand())
	cmd.AddCommand(s.newBalanceCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newSiloCommand())
	cmd.AddCommand(s.newTxCommand())
	cmd.AddCommand(s.newResultsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// engines returns the lazily built factory shared by every command.
func (s *runtimeState) engines() *engineFactory {
	if s.factory == nil {
		s.factory = newEngineFactory(s.settings, s.metrics, s.logger)
	}
	return s.factory
}

func (s *runtimeState) resultStore() (*workflow.Store, error) {
	if s.results != nil {
		return s.results, nil
	}
	store, err := workflow.OpenStore(s.settings.ResultsPath, s.settings.ResultsLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open results store", err)
	}
	s.results = store
	return store, nil
}

// executor wires the workflow executor to the configured sinks.
func (s *runtimeState) executor(ctx context.Context) (*workflow.Executor, error) {
	opts := []workflow.Option{
		workflow.WithMetrics(s.metrics),
		workflow.WithSettleDelay(s.settings.Execution.SettleDelay),
		workflow.WithStepCallback(func(_ context.Context, rec workflow.Recommendation, step workflow.Step) error {
			s.logger.Info("step confirmed",
				zap.String("kind", string(rec.Kind)),
				zap.String("step", step.Name),
				zap.String("tx_hash", step.TxHash))
			return nil
		}),
	}

	store, err := s.resultStore()
	if err != nil {
		return nil, err
	}
	opts = append(opts, workflow.WithStore(store))

	recorder, err := s.recorder(ctx)
	if err != nil {
		return nil, err
	}
	if recorder != nil {
		opts = append(opts, workflow.WithRecorder(recorder))
	}

	if strings.TrimSpace(s.settings.Archive.S3Bucket) != "" {
		archiver, err := archive.New(ctx, s.settings.Archive, archive.Credentials{
			AccessKey: os.Getenv("YIELDMOVE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("YIELDMOVE_S3_SECRET_KEY"),
		}, s.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithArchiver(archiver))
	}

	return workflow.NewExecutor(s.engines(), s.logger, opts...), nil
}

// recorder prefers the HTTP bookkeeping endpoint over a direct database.
func (s *runtimeState) recorder(ctx context.Context) (bookkeeping.Recorder, error) {
	cfg := s.settings.Bookkeeping
	switch {
	case strings.TrimSpace(cfg.HTTPEndpoint) != "":
		return bookkeeping.NewHTTPRecorder(cfg.HTTPEndpoint, cfg.APIKey, s.logger), nil
	case strings.TrimSpace(cfg.PostgresDSN) != "":
		recorder, closeFn, err := bookkeeping.OpenPostgresRecorder(ctx, cfg.PostgresDSN, s.logger)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "connect bookkeeping database", err)
		}
		s.closers = append(s.closers, closeFn)
		return recorder, nil
	default:
		return nil, nil
	}
}

func (s *runtimeState) close() {
	for _, closeFn := range s.closers {
		closeFn()
	}
	if s.factory != nil {
		s.factory.Close()
	}
	if s.results != nil {
		_ = s.results.Close()
	}
	if s.metrics != nil && strings.TrimSpace(s.settings.MetricsFile) != "" {
		if err := s.metrics.WriteTextfile(s.settings.MetricsFile); err != nil && s.logger != nil {
			s.logger.Warn("write metrics textfile", zap.Error(err))
		}
	}
	if s.shutdownTracer != nil {
		s.shutdownTracer()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func (s *runtimeState) outputOptions() out.Options {
	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	return out.Options{
		Mode:        mode,
		Select:      splitCSV(s.selectFields),
		ResultsOnly: s.resultsOnly,
	}
}

func (s *runtimeState) emitSuccess(commandPath, network string, data any) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Error:   nil,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   network,
			Signer:    s.signerAddress(),
		},
	}
	return out.Render(s.runner.stdout, env, s.outputOptions())
}

// fail records data to attach to the error envelope before returning err.
func (s *runtimeState) fail(network string, data any, partial bool, err error) error {
	s.lastNetwork = network
	s.lastData = data
	s.lastPartial = partial
	return err
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.CodeInternal.String()
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = cErr.Code.String()
	}

	opts := s.outputOptions()
	opts.ResultsOnly = false
	opts.Select = nil
	var data any = []any{}
	if s.lastData != nil {
		data = s.lastData
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    data,
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   s.lastNetwork,
			Signer:    s.signerAddress(),
			Partial:   s.lastPartial,
		},
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

func (s *runtimeState) signerAddress() string {
	if s.factory == nil || s.factory.signer == nil {
		return ""
	}
	return s.factory.signer.Address().Hex()
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
