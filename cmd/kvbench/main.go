// Package main provides the CLI entry point for kvbench, a micro-benchmark
// harness for key-value storage engines.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/weiihann/kvbench/backend"
	"github.com/weiihann/kvbench/config"
	"github.com/weiihann/kvbench/harness"
	"github.com/weiihann/kvbench/report"
	"github.com/weiihann/kvbench/workload"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli holds state shared by every subcommand.
type cli struct {
	logger     *slog.Logger
	level      *slog.LevelVar
	configPath string
	envFile    string
	verbose    bool
	cfg        *config.Config
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	c := &cli{logger: logger, level: level}

	root := &cobra.Command{
		Use:   "kvbench",
		Short: "Micro-benchmark harness for key-value storage engines",
		Long: `Kvbench runs small, repeatable workloads against a freshly provisioned
key-value engine (pebble, bolt, sqlite or in-memory), times named sections,
samples on-disk size and prints a structured report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "",
		"Path to a YAML or JSON config file")
	flags.StringVar(&c.envFile, "env-file", ".env",
		"Dotenv file loaded before reading KVBENCH_* variables")
	flags.BoolVarP(&c.verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newRunCmd(c),
		newCompareCmd(c),
		newGenerateCmd(c),
		newListCmd(),
	)

	return root
}

func (c *cli) load() error {
	if c.verbose {
		c.level.Set(slog.LevelDebug)
	}

	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	c.cfg = cfg

	return nil
}

// workloadFlags binds the workload parameters shared by run and compare.
type workloadFlags struct {
	records   int
	valueSize int
	seed      int64
	batchSize int
	dataset   string
	json      bool
	markdown  bool
}

func (f *workloadFlags) register(cmd *cobra.Command) {
	defaults := config.DefaultConfig().Workload

	flags := cmd.Flags()
	flags.IntVar(&f.records, "records", defaults.Records,
		"Number of records each workload writes")
	flags.IntVar(&f.valueSize, "value-size", defaults.ValueSize,
		"Size of each value in bytes")
	flags.Int64Var(&f.seed, "seed", defaults.Seed,
		"Random seed for generated data (0 = use current time)")
	flags.IntVar(&f.batchSize, "batch-size", defaults.BatchSize,
		"Records per batch in bulk loads")
	flags.StringVar(&f.dataset, "dataset", "",
		"JSONL dataset for the load workload (.sz for snappy)")
	flags.BoolVar(&f.json, "json", false,
		"Output results as JSON")
	flags.BoolVar(&f.markdown, "markdown", false,
		"Output results as a markdown table")

	cmd.MarkFlagsMutuallyExclusive("json", "markdown")
}

// apply overlays explicitly set flags on top of cfg.
func (f *workloadFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("records") {
		cfg.Workload.Records = f.records
	}
	if flags.Changed("value-size") {
		cfg.Workload.ValueSize = f.valueSize
	}
	if flags.Changed("seed") {
		cfg.Workload.Seed = f.seed
	}
	if flags.Changed("batch-size") {
		cfg.Workload.BatchSize = f.batchSize
	}
	if flags.Changed("dataset") {
		cfg.Workload.Dataset = f.dataset
	}

	switch {
	case f.json:
		cfg.Output = config.OutputJSON
	case f.markdown:
		cfg.Output = config.OutputMarkdown
	}
}

func params(cfg *config.Config) workload.Params {
	seed := cfg.Workload.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return workload.Params{
		Records:   cfg.Workload.Records,
		ValueSize: cfg.Workload.ValueSize,
		Seed:      seed,
		BatchSize: cfg.Workload.BatchSize,
		Dataset:   cfg.Workload.Dataset,
	}
}

func newRunCmd(c *cli) *cobra.Command {
	var (
		wf          workloadFlags
		backendName string
	)

	cmd := &cobra.Command{
		Use:   "run <workload>",
		Short: "Run one workload against one backend",
		Long: `Provision a fresh backend, run the named workload against it, tear the
backend down and print the resulting report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("backend") {
				c.cfg.Backend = backendName
			}

			wf.apply(cmd, c.cfg)

			return runOne(cmd.Context(), c.logger, c.cfg, args[0], cmd.OutOrStdout())
		},
	}

	wf.register(cmd)
	cmd.Flags().StringVarP(&backendName, "backend", "b", "",
		"Backend to run against (default pebble)")

	return cmd
}

func runOne(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	name string,
	out io.Writer,
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	kind, err := harness.ResolveKind(cfg.Backend)
	if err != nil {
		return err
	}

	fn, err := workload.Lookup(name, params(cfg))
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.String("workload", name),
		slog.String("backend", string(kind)),
		slog.Int("records", cfg.Workload.Records),
	)

	r, err := harness.Run(ctx, options(cfg, kind, logger), fn)
	if err != nil {
		return fmt.Errorf("run %s on %s: %w", name, kind, err)
	}

	if cfg.Output == config.OutputMarkdown {
		return report.Generate(out, []report.Entry{{Name: string(kind), Report: r}})
	}

	return report.GenerateJSON(out, r)
}

func options(cfg *config.Config, kind backend.Kind, logger *slog.Logger) harness.Options {
	return harness.Options{
		Kind:         kind,
		TempDir:      cfg.TempDir,
		DiskUsageCmd: cfg.DiskUsageCommand,
		Logger:       logger,
	}
}

func newCompareCmd(c *cli) *cobra.Command {
	var (
		wf       workloadFlags
		backends []string
	)

	cmd := &cobra.Command{
		Use:   "compare <workload>",
		Short: "Run one workload against several backends",
		Long: `Run the named workload against each backend in turn, each on its own
freshly provisioned instance, and print a comparison.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf.apply(cmd, c.cfg)

			// Compare prints a table unless JSON is asked for explicitly.
			if !wf.json {
				c.cfg.Output = config.OutputMarkdown
			}

			return compare(cmd.Context(), c.logger, c.cfg, args[0], backends, cmd.OutOrStdout())
		},
	}

	wf.register(cmd)
	cmd.Flags().StringSliceVar(&backends, "backends", nil,
		"Backends to compare (default: all)")

	return cmd
}

func compare(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	name string,
	backends []string,
	out io.Writer,
) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	kinds := make([]backend.Kind, 0, len(backends))
	for _, b := range backends {
		kind, err := harness.ResolveKind(b)
		if err != nil {
			return err
		}

		kinds = append(kinds, kind)
	}

	if len(kinds) == 0 {
		kinds = backend.Kinds()
	}

	p := params(cfg)

	entries := make([]report.Entry, 0, len(kinds))

	for _, kind := range kinds {
		fn, err := workload.Lookup(name, p)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "running backend",
			slog.String("workload", name),
			slog.String("backend", string(kind)),
		)

		r, err := harness.Run(ctx, options(cfg, kind, logger), fn)
		if err != nil {
			return fmt.Errorf("run %s on %s: %w", name, kind, err)
		}

		entries = append(entries, report.Entry{Name: string(kind), Report: r})
	}

	if cfg.Output == config.OutputJSON {
		return report.GenerateJSON(out, entries)
	}

	return report.Generate(out, entries)
}

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		out       string
		records   int
		valueSize int
		seed      int64
		prefix    string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a deterministic JSONL dataset",
		Long: `Write a deterministic dataset of put records for the load workload.
Paths ending in .sz are written in the snappy framing format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := workload.Config{
				Records:   c.cfg.Workload.Records,
				ValueSize: c.cfg.Workload.ValueSize,
				Seed:      c.cfg.Workload.Seed,
				KeyPrefix: prefix,
			}

			if cmd.Flags().Changed("records") {
				cfg.Records = records
			}
			if cmd.Flags().Changed("value-size") {
				cfg.ValueSize = valueSize
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}
			if cfg.Seed == 0 {
				cfg.Seed = time.Now().UnixNano()
			}

			summary, err := workload.WriteDataset(out, cfg)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			c.logger.InfoContext(cmd.Context(), "dataset generated",
				slog.String("path", out),
				slog.Int("records", summary.Records),
				slog.Int("key_bytes", summary.KeyBytes),
				slog.Int("value_bytes", summary.ValueBytes),
				slog.Int64("seed", cfg.Seed),
			)

			return nil
		},
	}

	defaults := config.DefaultConfig().Workload

	flags := cmd.Flags()
	flags.StringVarP(&out, "out", "o", "",
		"Output path (.jsonl or .jsonl.sz)")
	flags.IntVar(&records, "records", defaults.Records,
		"Number of records to generate")
	flags.IntVar(&valueSize, "value-size", defaults.ValueSize,
		"Size of each value in bytes")
	flags.Int64Var(&seed, "seed", defaults.Seed,
		"Random seed (0 = use current time)")
	flags.StringVar(&prefix, "key-prefix", "",
		"Prefix prepended to every key")

	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known backends and workloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Backends:")
			for _, k := range backend.Kinds() {
				suffix := ""
				if k == backend.DefaultKind() {
					suffix = " (default)"
				}

				fmt.Fprintf(out, "  %s%s\n", k, suffix)
			}

			fmt.Fprintln(out, "Workloads:")
			for _, name := range workload.Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}

			return nil
		},
	}
}
