package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokencount/internal/budget"
	"tokencount/internal/cli"
	"tokencount/internal/config"
	"tokencount/internal/counter"
	"tokencount/internal/domain"
	"tokencount/internal/input"
	"tokencount/internal/models"
	"tokencount/internal/output"
	"tokencount/internal/signals"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("tc %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// version is set at build time, e.g.:
//
//	go build -ldflags "-X main.version=0.3.0" -o tc ./cmd/tc
var version string

func getVersion() string {
	if version != "" {
		return version
	}
	return "dev"
}

// getenv is the environment lookup for every command; tests replace it.
var getenv = os.Getenv

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

const (
	exitOK           = 0
	exitFailure      = 1
	exitOverBudget   = 2
	defaultWorkers   = 4
	timeoutFlagUsage = "per-request timeout for remote counters (e.g. 10s); overrides timeoutMs"
)

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:   "tc",
		Short: "Count tokens across LLM models",
		Long: "tc reads text from stdin, --file or a --messages JSON file and reports the token\n" +
			"count for each requested model, locally with tiktoken encodings or through the\n" +
			"provider's count endpoint.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return runCount(cmd)
		},
	}
	root.PersistentFlags().String("config", "", "config file (default $TC_CONFIG or $XDG_CONFIG_HOME/tc/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging on stderr")

	f := root.Flags()
	f.BoolP("version", "V", false, "print version and build metadata")
	f.StringP("file", "f", "", "read plain text from a file instead of stdin")
	f.String("messages", "", "read a JSON array of {role, content} messages from a file")
	f.StringSliceP("model", "m", nil, "model to count (repeatable or comma separated; default "+strings.Join(models.DefaultIDs, ",")+")")
	f.Bool("json", false, "print a JSON object of model to count or error")
	f.Int("max-tokens", 0, "cap every model's context limit at N tokens")
	f.Int("reserve", 0, "tokens to reserve for the response")
	f.Float64("reserve-pct", 0, "fraction of the context to reserve for the response (default from config, 0.2)")
	f.Bool("fail-on-budget", false, "exit 2 when any model exceeds its budget")
	f.Duration("timeout", 0, timeoutFlagUsage)
	f.Int("concurrency", defaultWorkers, "maximum models counted at once")
	root.MarkFlagsMutuallyExclusive("reserve", "reserve-pct")

	root.AddCommand(newModelsCommand(), newCheckCommand(), newConfigCommand())
	return root
}

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models tc can count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunModels(cmd.OutOrStdout())
		},
	}
}

func newCheckCommand() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, credentials and local encodings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			cfgPath, _ := cmd.Flags().GetString("config")
			code := cli.RunCheck(cli.CheckOptions{ConfigPath: cfgPath, Fix: fix, Getenv: getenv}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	return checkCmd
}

func newConfigCommand() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Create or inspect the config file"}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets redacted",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
	cfgCmd.AddCommand(initCmd, showCmd)
	return cfgCmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		flagPath, _ := cmd.Flags().GetString("config")
		p, _, err := config.ResolvePath(flagPath, getenv)
		if err != nil {
			return err
		}
		path = p
	}
	if err := config.WriteDefault(path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists; remove it first to regenerate", path)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	flagPath, _ := cmd.Flags().GetString("config")
	cfg, src, err := config.LoadEffective(flagPath, getenv)
	if err != nil {
		return err
	}
	data, err := config.Marshal(config.Redacted(*cfg))
	if err != nil {
		return err
	}
	switch {
	case src.Loaded:
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", src.Path)
	case src.Path != "":
		fmt.Fprintf(cmd.OutOrStdout(), "# defaults (no file at %s)\n", src.Path)
	default:
		fmt.Fprintln(cmd.OutOrStdout(), "# defaults")
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// runCount is the default command: read input, count per model, render.
func runCount(cmd *cobra.Command) error {
	flags := cmd.Flags()
	cfgPath, _ := flags.GetString("config")
	cfg, _, err := config.LoadEffective(cfgPath, getenv)
	if err != nil {
		return err
	}
	verbose, _ := flags.GetBool("verbose")
	logger := newLogger(cfg.Infra, verbose, cmd.ErrOrStderr())

	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		if d <= 0 {
			return errors.New("--timeout must be positive")
		}
		cfg.TimeoutMs = int(d / time.Millisecond)
	}
	bopts, err := budgetOptions(cmd, cfg.Budget)
	if err != nil {
		return err
	}
	ids, _ := flags.GetStringSlice("model")
	specs, err := models.Resolve(ids)
	if err != nil {
		return err
	}

	filePath, _ := flags.GetString("file")
	messagesPath, _ := flags.GetString("messages")
	payload, err := input.NewReader(cmd.InOrStdin()).Read(input.Options{FilePath: filePath, MessagesPath: messagesPath})
	if err != nil {
		return err
	}
	if payload.IsMessages() {
		logger.Debug("input read", "source", payload.Source, "messages", len(payload.Messages))
	} else {
		logger.Debug("input read", "source", payload.Source, "bytes", len(payload.Text))
	}

	factory := models.NewFactory(*cfg, logger)
	workers, _ := flags.GetInt("concurrency")
	orch := counter.New(factory,
		counter.WithLogger(logger),
		counter.WithTimeout(runDeadline(cfg)),
		counter.WithConcurrency(workers),
	)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	report := orch.Run(ctx, payload, specs)
	budgets := budget.AnalyzeReport(report, specs, bopts)

	jsonOut, _ := flags.GetBool("json")
	fm := output.Formatter{Mode: output.ModeTable, Color: output.ColorEnabled(cfg.Output.NoColor, cmd.OutOrStdout())}
	if jsonOut {
		fm.Mode = output.ModeJSON
	}
	rendered, err := fm.Render(report, budgets)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)

	if len(report) > 0 && report.Succeeded() == 0 {
		return exitCodeErr(exitFailure)
	}
	if failOnBudget, _ := flags.GetBool("fail-on-budget"); failOnBudget && budget.AnyExceeded(budgets) {
		return exitCodeErr(exitOverBudget)
	}
	return nil
}

// budgetOptions merges budget flags over the config defaults.
func budgetOptions(cmd *cobra.Command, defaults domain.BudgetConfig) (budget.Options, error) {
	flags := cmd.Flags()
	opts := budget.Options{ReservePct: defaults.ReservePct}
	if flags.Changed("max-tokens") {
		n, _ := flags.GetInt("max-tokens")
		if n <= 0 {
			return opts, errors.New("--max-tokens must be positive")
		}
		opts.MaxTokens = n
	}
	if flags.Changed("reserve") {
		opts.Reserve, _ = flags.GetInt("reserve")
		opts.HasReserve = true
	}
	if flags.Changed("reserve-pct") {
		opts.ReservePct, _ = flags.GetFloat64("reserve-pct")
	}
	return opts, opts.Validate()
}

// runDeadline bounds one model's whole count, retries included.
func runDeadline(cfg *domain.Config) time.Duration {
	if cfg.TimeoutMs <= 0 {
		return 0
	}
	attempts := max(cfg.Retry.MaxRetries, 0) + 1
	perCall := time.Duration(cfg.TimeoutMs) * time.Millisecond
	backoff := time.Duration(cfg.Retry.MaxBackoff) * time.Millisecond * time.Duration(attempts-1)
	return perCall*time.Duration(attempts) + backoff
}

// newLogger builds the stderr logger from the infra config. verbose forces debug.
func newLogger(infra domain.InfraConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if infra.LogLevel != "" {
		if err := level.UnmarshalText([]byte(infra.LogLevel)); err != nil {
			level = slog.LevelWarn
		}
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(infra.LogFormat, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h)
}

// run executes the CLI against the given streams and returns the exit code (0, 1, or 2).
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	bm := newBuildMeta(getVersion(), "", "")
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signals.WithCancelOnSignal(context.Background())
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			return ec.ExitCode()
		}
		fmt.Fprintf(stderr, "tc: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// runApp runs the root command with the process streams.
func runApp(args []string) int {
	return run(args, os.Stdin, os.Stdout, os.Stderr)
}
