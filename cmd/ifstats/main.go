package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nmslite/ifstats/internal/config"
	"github.com/nmslite/ifstats/internal/credentials"
	"github.com/nmslite/ifstats/internal/database"
	"github.com/nmslite/ifstats/internal/executor"
	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/inventory"
	"github.com/nmslite/ifstats/internal/logging"
	"github.com/nmslite/ifstats/internal/model"
	"github.com/nmslite/ifstats/internal/pipeline"
	"github.com/nmslite/ifstats/internal/resolver"
	"github.com/nmslite/ifstats/internal/sink"
	"github.com/nmslite/ifstats/internal/sshclient"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath string
	variant    string
	sinks      []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ifstats:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "ifstats",
		Short: "Collect Juniper interface counters over SSH",
		Long: `Connects to every router of the host list, runs "show interfaces extensive"
in JSON form and records the selected counters to the console, a workbook
and optionally PostgreSQL.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration")
	rootCmd.Flags().StringVar(&opts.variant, "variant", "", "Counter set to collect: errors or packets")
	rootCmd.Flags().StringSliceVar(&opts.sinks, "sink", nil, "Result sink (console, workbook, postgres); repeatable")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Test SSH connectivity to every host without collecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return check(cmd.Context(), cfg, stdout, stderr)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "example-config",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.DumpExampleConfig(cmd.OutOrStdout())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ifstats %s\n", version)
		},
	})

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd
}

// loadConfig reads the configuration and applies command line overrides.
// Only an explicitly named file has to exist.
func loadConfig(opts options, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath, explicit)
	if err != nil {
		return nil, err
	}

	if opts.variant != "" {
		cfg.Collection.Variant = opts.variant
	}
	if len(opts.sinks) > 0 {
		cfg.Output.Sinks = opts.sinks
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command line options: %w", err)
	}
	return cfg, nil
}

// app holds what both the collection run and the connectivity check need.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	runID    uuid.UUID
	hosts    []model.HostEntry
	schema   extractor.Schema
	resolver *resolver.Resolver
}

// prepare builds the logger and loads credentials and hosts. The returned
// closer releases the error log.
func prepare(cfg *config.Config, stderr io.Writer) (*app, io.Closer, error) {
	logger, logCloser, err := logging.New(cfg.Logging, stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	runID := uuid.New()
	logger = logger.With("run_id", runID.String())
	logger.Info("Starting ifstats",
		"version", version,
		"variant", cfg.Collection.Variant,
		"sinks", cfg.Output.Sinks)

	fail := func(err error) (*app, io.Closer, error) {
		logCloser.Close()
		return nil, nil, err
	}

	creds, err := credentials.Load(cfg.Inventory.CredentialsFile)
	if err != nil {
		logger.Error("Failed to load credentials", "path", cfg.Inventory.CredentialsFile, "error", err)
		return fail(err)
	}

	hosts, err := inventory.Load(cfg.Inventory.HostsFile, logger)
	if err != nil {
		logger.Error("Failed to load host list", "path", cfg.Inventory.HostsFile, "error", err)
		return fail(err)
	}

	variant := model.Variant(cfg.Collection.Variant)
	schema, err := extractor.SchemaFor(variant)
	if err != nil {
		return fail(err)
	}
	schema = schema.WithCommand(cfg.Collection.Command(string(variant), schema.Command))

	dialer, err := sshclient.NewDialer(cfg.Connection.KnownHostsFile, logger)
	if err != nil {
		logger.Error("Failed to initialize SSH", "error", err)
		return fail(err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		runID:    runID,
		hosts:    hosts,
		schema:   schema,
		resolver: resolver.New(dialer, creds, logger, resolver.FromConfig(cfg.Connection)...),
	}, logCloser, nil
}

func (a *app) runner(sinks []sink.Sink) *pipeline.Runner {
	return pipeline.New(a.resolver, executor.New(a.logger), a.schema, sinks, pipeline.Options{
		RunID:         a.runID,
		SessionLogDir: a.cfg.Connection.SessionLogDir,
	}, a.logger)
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	a, logCloser, err := prepare(cfg, stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	sinks, closeSinks, err := buildSinks(ctx, cfg, a.runID, stdout, a.logger)
	if err != nil {
		a.logger.Error("Failed to initialize sinks", "error", err)
		return err
	}
	defer closeSinks()

	report, err := a.runner(sinks).Run(ctx, a.hosts)
	printSummary(stderr, report)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("run interrupted: %w", err)
		}
		a.logger.Error("Run aborted", "error", err)
		return err
	}
	return nil
}

// check resolves every host and prints the strategy that reached it.
func check(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	a, logCloser, err := prepare(cfg, stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	for _, s := range a.resolver.Strategies() {
		fmt.Fprintf(stdout, "strategy %-9s %s port %d, timeout %s", s.Name, s.Selector, s.Port, s.Timeout)
		if s.Jump != nil {
			fmt.Fprintf(stdout, ", jump %s", s.Jump.Address)
		}
		fmt.Fprintln(stdout)
	}

	results, err := a.runner(nil).Check(ctx, a.hosts)
	reachable := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%-32s FAILED  %v\n", r.Host, r.Err)
			continue
		}
		reachable++
		fmt.Fprintf(stdout, "%-32s OK      %s via %s\n", r.Host, r.Strategy, r.Target)
	}
	fmt.Fprintf(stdout, "%d/%d hosts reachable\n", reachable, len(a.hosts))
	if err != nil {
		return fmt.Errorf("check interrupted: %w", err)
	}
	return nil
}

// buildSinks creates the configured sinks in configuration order. The
// returned function releases their resources.
func buildSinks(ctx context.Context, cfg *config.Config, runID uuid.UUID, stdout io.Writer, logger *slog.Logger) ([]sink.Sink, func(), error) {
	var sinks []sink.Sink
	closeFn := func() {}

	for _, name := range cfg.Output.Sinks {
		switch name {
		case config.SinkConsole:
			sinks = append(sinks, sink.NewConsole(stdout))
		case config.SinkWorkbook:
			sinks = append(sinks, sink.NewWorkbook(cfg.Output.WorkbookPath, logger))
		case config.SinkPostgres:
			pool, err := database.Open(ctx, cfg.Database)
			if err != nil {
				closeFn()
				return nil, nil, fmt.Errorf("database init failed: %w", err)
			}
			if err := database.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				closeFn()
				return nil, nil, fmt.Errorf("migrations failed: %w", err)
			}
			prev := closeFn
			closeFn = func() {
				pool.Close()
				prev()
			}
			sinks = append(sinks, sink.NewPostgres(pool, runID, logger))
		default:
			closeFn()
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, closeFn, nil
}

func printSummary(w io.Writer, report pipeline.Report) {
	fmt.Fprintf(w, "Run %s: %d/%d hosts collected, %d interface records, %d failures\n",
		report.RunID, report.Succeeded, report.Hosts, report.Records, len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  %s (%s): %v\n", f.Host, f.Stage, f.Err)
	}
}
