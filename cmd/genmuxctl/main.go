package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bkthomps/GeneticMultiplexer/pkg/genmux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath    string
	store         string
	dbPath        string
	benchmarksDir string
	exportsDir    string
	logLevel      string
	logFormat     string
	metricsAddr   string
}

type app struct {
	global globalFlags
	run    RunConfig
	cfg    Config
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	defaults := DefaultConfig()

	root := &cobra.Command{
		Use:           "genmuxctl",
		Short:         "Evolve boolean expression trees for multiplexer and threshold targets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.global.configPath, "config", "", "YAML or JSON config file")
	pf.StringVar(&a.global.store, "store", defaults.Store, "store backend: memory|sqlite")
	pf.StringVar(&a.global.dbPath, "db-path", defaults.DBPath, "sqlite database path")
	pf.StringVar(&a.global.benchmarksDir, "benchmarks-dir", defaults.BenchmarksDir, "run artifacts directory")
	pf.StringVar(&a.global.exportsDir, "exports-dir", defaults.ExportsDir, "export directory")
	pf.StringVar(&a.global.logLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	pf.StringVar(&a.global.logFormat, "log-format", defaults.LogFormat, "log format: auto|text|json")
	pf.StringVar(&a.global.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")

	root.AddCommand(
		a.runCmd(),
		a.benchmarkCmd(),
		a.validateCmd(),
		a.runsCmd(),
		a.fitnessCmd(),
		a.diagnosticsCmd(),
		a.exportCmd(),
	)
	return root
}

func addRunFlags(fs *pflag.FlagSet, r *RunConfig) {
	d := DefaultConfig().Run
	fs.StringVar(&r.Target, "target", d.Target, "target: mux3|mux6|mux11|mux:<pins>|majority16|threshold:<k>:<lo>:<hi>")
	fs.IntVar(&r.Population, "population", d.Population, "population size")
	fs.IntVar(&r.SelectionPerTournament, "selection", d.SelectionPerTournament, "individuals per tournament")
	fs.Float64Var(&r.CrossoverProbability, "crossover", d.CrossoverProbability, "crossover probability")
	fs.Float64Var(&r.MutationProbability, "mutation", d.MutationProbability, "mutation probability")
	fs.Float64Var(&r.Aggressiveness, "aggressiveness", d.Aggressiveness, "node selection aggressiveness")
	fs.IntVar(&r.InitialDepth, "initial-depth", d.InitialDepth, "depth of the random initial trees")
	fs.IntVar(&r.DisfavorDepth, "disfavor-depth", d.DisfavorDepth, "depth beyond which imperfect trees are penalised")
	fs.IntVar(&r.MaximumDepth, "max-depth", d.MaximumDepth, "depth beyond which trees score zero")
	fs.IntVar(&r.MaxGenerations, "max-generations", d.MaxGenerations, "stop after this many generations (0 runs until solved)")
	fs.IntVar(&r.Workers, "workers", d.Workers, "parallel tournament workers")
	fs.Int64Var(&r.Seed, "seed", d.Seed, "random seed")
}

// loadConfig resolves the configuration for cmd: defaults, then the config
// file, then the environment, then flags set on the command line.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.global.configPath)
	if err != nil {
		return err
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "store":
			cfg.Store = a.global.store
		case "db-path":
			cfg.DBPath = a.global.dbPath
		case "benchmarks-dir":
			cfg.BenchmarksDir = a.global.benchmarksDir
		case "exports-dir":
			cfg.ExportsDir = a.global.exportsDir
		case "log-level":
			cfg.LogLevel = a.global.logLevel
		case "log-format":
			cfg.LogFormat = a.global.logFormat
		case "metrics-addr":
			cfg.MetricsAddr = a.global.metricsAddr
		}
	})
	if cmd.Flags().Lookup("population") != nil {
		a.applyRunFlags(cmd.Flags(), &cfg.Run)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) applyRunFlags(fs *pflag.FlagSet, run *RunConfig) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "target":
			run.Target = a.run.Target
		case "population":
			run.Population = a.run.Population
		case "selection":
			run.SelectionPerTournament = a.run.SelectionPerTournament
		case "crossover":
			run.CrossoverProbability = a.run.CrossoverProbability
		case "mutation":
			run.MutationProbability = a.run.MutationProbability
		case "aggressiveness":
			run.Aggressiveness = a.run.Aggressiveness
		case "initial-depth":
			run.InitialDepth = a.run.InitialDepth
		case "disfavor-depth":
			run.DisfavorDepth = a.run.DisfavorDepth
		case "max-depth":
			run.MaximumDepth = a.run.MaximumDepth
		case "max-generations":
			run.MaxGenerations = a.run.MaxGenerations
		case "workers":
			run.Workers = a.run.Workers
		case "seed":
			run.Seed = a.run.Seed
		}
	})
}

// withClient loads the configuration and hands fn a client. The metrics
// server and store are closed when fn returns.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, client *genmux.Client) error) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}
	logger, err := newLogger(a.stderr, a.cfg.LogLevel, a.cfg.LogFormat)
	if err != nil {
		return err
	}
	metrics, err := startMetricsServer(a.cfg.MetricsAddr, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = metrics.Close()
	}()

	client, err := genmux.New(genmux.Options{
		StoreKind:     a.cfg.Store,
		DBPath:        a.cfg.DBPath,
		BenchmarksDir: a.cfg.BenchmarksDir,
		ExportsDir:    a.cfg.ExportsDir,
		Logger:        logger,
		Metrics:       metrics.metrics,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return fn(cmd.Context(), client)
}

func (a *app) runCmd() *cobra.Command {
	var (
		runID        string
		continueFrom string
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a tree until it reproduces the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				req := a.cfg.Run.request()
				req.RunID = runID
				req.ContinueFrom = continueFrom
				summary, runErr := client.Run(ctx, req)
				if runErr != nil && !errors.Is(runErr, genmux.ErrDidNotConverge) {
					return runErr
				}
				if jsonOut {
					if err := writeJSON(a.stdout, summary); err != nil {
						return err
					}
					return runErr
				}
				for i, best := range summary.BestByGeneration {
					fmt.Fprintf(a.stdout, "generation=%d best_fitness=%.6f\n", i+1, best)
				}
				fmt.Fprintf(a.stdout, "run_id=%s target=%s generations=%d evaluations=%s converged=%t best_fitness=%.6f\n",
					summary.RunID,
					summary.Target,
					summary.Generations,
					humanize.Comma(int64(summary.Evaluations)),
					summary.Converged,
					summary.FinalBestFitness,
				)
				fmt.Fprintf(a.stdout, "artifacts=%s\n", summary.ArtifactsDir)
				fmt.Fprintln(a.stdout, summary.BestTree)
				return runErr
			})
		},
	}
	addRunFlags(cmd.Flags(), &a.run)
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	cmd.Flags().StringVar(&continueFrom, "continue-from", "", "continue from the final population of this run")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	return cmd
}

func (a *app) benchmarkCmd() *cobra.Command {
	var (
		targets []string
		repeats int
		id      string
		notes   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run several targets repeatedly and report success statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if repeats <= 0 {
				return errors.New("repeats must be > 0")
			}
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				exp, err := client.Benchmark(ctx, genmux.BenchmarkRequest{
					ID:      id,
					Notes:   notes,
					Targets: targets,
					Repeats: repeats,
					Base:    a.cfg.Run.request(),
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(a.stdout, exp)
				}
				fmt.Fprintf(a.stdout, "experiment=%s runs=%d\n", exp.ID, len(exp.RunIDs))
				for _, ts := range exp.TargetStats {
					fmt.Fprintf(a.stdout, "target=%s runs=%d successes=%d success_rate=%.3f avg_generations=%.2f std_generations=%.2f avg_evaluations=%s avg_final_best=%.6f\n",
						ts.Target,
						ts.Runs,
						ts.Successes,
						ts.SuccessRate,
						ts.AvgGenerations,
						ts.StdGenerations,
						humanize.Commaf(ts.AvgEvaluations),
						ts.AvgFinalBest,
					)
				}
				return nil
			})
		},
	}
	addRunFlags(cmd.Flags(), &a.run)
	cmd.Flags().StringSliceVar(&targets, "targets", []string{genmux.DefaultTarget}, "comma-separated targets")
	cmd.Flags().IntVar(&repeats, "repeats", 1, "runs per target")
	cmd.Flags().StringVar(&id, "id", "", "experiment id (generated when empty)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form experiment notes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the experiment as JSON")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	var (
		target        string
		file          string
		tree          string
		maximumDepth  int
		disfavorDepth int
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a printed tree against every row of a target's truth table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == (tree == "") {
				return errors.New("validate requires exactly one of --file or --tree")
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				tree = strings.TrimSpace(string(data))
			}
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				summary, err := client.Validate(ctx, genmux.ValidateRequest{
					Target:        target,
					Tree:          tree,
					MaximumDepth:  maximumDepth,
					DisfavorDepth: disfavorDepth,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "target=%s rows=%d correct=%d depth=%d logic_size=%d fitness=%.6f\n",
					summary.Target,
					summary.Rows,
					summary.Correct,
					summary.Depth,
					summary.LogicSize,
					summary.Fitness,
				)
				for i, m := range summary.Mismatches {
					if i == 8 {
						fmt.Fprintf(a.stdout, "... %d more\n", len(summary.Mismatches)-i)
						break
					}
					fmt.Fprintf(a.stdout, "row=%d expected=%t got=%t\n", m.Row, m.Expected, m.Got)
				}
				if len(summary.Mismatches) > 0 {
					return fmt.Errorf("tree misses %d of %d rows", len(summary.Mismatches), summary.Rows)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", genmux.DefaultTarget, "target the tree was evolved for")
	cmd.Flags().StringVar(&file, "file", "", "file holding the printed tree, e.g. best_tree.txt")
	cmd.Flags().StringVar(&tree, "tree", "", "printed tree")
	cmd.Flags().IntVar(&maximumDepth, "max-depth", genmux.DefaultMaximumDepth, "depth beyond which trees score zero")
	cmd.Flags().IntVar(&disfavorDepth, "disfavor-depth", genmux.DefaultDisfavorDepth, "depth beyond which imperfect trees are penalised")
	return cmd
}

func (a *app) runsCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				items, err := client.Runs(ctx, genmux.RunsRequest{Limit: limit})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(a.stdout, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(a.stdout, "no runs found")
					return nil
				}
				for _, item := range items {
					fmt.Fprintf(a.stdout, "run_id=%s created=%s target=%s seed=%d pop=%d gens=%d converged=%t final_best_fitness=%.6f\n",
						item.RunID,
						createdDisplay(item.CreatedAtUTC),
						item.Target,
						item.Seed,
						item.Population,
						item.Generations,
						item.Converged,
						item.FinalBestFitness,
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	return cmd
}

func createdDisplay(createdAtUTC string) string {
	t, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return createdAtUTC
	}
	return strings.ReplaceAll(humanize.Time(t), " ", "_")
}

type runSelector struct {
	runID  string
	latest bool
	limit  int
	json   bool
}

func (s *runSelector) bind(fs *pflag.FlagSet, limit int) {
	fs.StringVar(&s.runID, "run-id", "", "run id")
	fs.BoolVar(&s.latest, "latest", false, "use the most recent run from the run index")
	fs.IntVar(&s.limit, "limit", limit, "max generations to print (0 for all)")
	fs.BoolVar(&s.json, "json", false, "emit JSON")
}

func (s *runSelector) check(command string) error {
	if s.runID != "" && s.latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if s.runID == "" && !s.latest {
		return fmt.Errorf("%s requires --run-id or --latest", command)
	}
	return nil
}

func (a *app) fitnessCmd() *cobra.Command {
	var sel runSelector
	cmd := &cobra.Command{
		Use:   "fitness",
		Short: "Print the best fitness of every generation of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sel.check("fitness"); err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				history, err := client.FitnessHistory(ctx, genmux.FitnessHistoryRequest{
					RunID:  sel.runID,
					Latest: sel.latest,
					Limit:  sel.limit,
				})
				if err != nil {
					return err
				}
				if sel.json {
					return writeJSON(a.stdout, history)
				}
				for i, best := range history {
					fmt.Fprintf(a.stdout, "generation=%d best_fitness=%.6f\n", i+1, best)
				}
				return nil
			})
		},
	}
	sel.bind(cmd.Flags(), 0)
	return cmd
}

func (a *app) diagnosticsCmd() *cobra.Command {
	var sel runSelector
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print per-generation diagnostics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sel.check("diagnostics"); err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				diagnostics, err := client.Diagnostics(ctx, genmux.DiagnosticsRequest{
					RunID:  sel.runID,
					Latest: sel.latest,
					Limit:  sel.limit,
				})
				if err != nil {
					return err
				}
				if sel.json {
					return writeJSON(a.stdout, diagnostics)
				}
				for _, d := range diagnostics {
					fmt.Fprintf(a.stdout, "generation=%d best=%.6f mean=%.6f min=%.6f best_depth=%d mean_depth=%.2f distinct=%d crossovers=%d mutations=%d reproductions=%d\n",
						d.Generation,
						d.BestFitness,
						d.MeanFitness,
						d.MinFitness,
						d.BestDepth,
						d.MeanDepth,
						d.DistinctTrees,
						d.Crossovers,
						d.Mutations,
						d.Reproductions,
					)
				}
				return nil
			})
		},
	}
	sel.bind(cmd.Flags(), 0)
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run to another directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, client *genmux.Client) error {
				exported, err := client.Export(ctx, genmux.ExportRequest{
					RunID:  runID,
					Latest: latest,
					OutDir: outDir,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (defaults to the exports dir)")
	return cmd
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
