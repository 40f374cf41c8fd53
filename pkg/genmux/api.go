package genmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bkthomps/GeneticMultiplexer/internal/evo"
	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
	"github.com/bkthomps/GeneticMultiplexer/internal/model"
	"github.com/bkthomps/GeneticMultiplexer/internal/platform"
	"github.com/bkthomps/GeneticMultiplexer/internal/scape"
	"github.com/bkthomps/GeneticMultiplexer/internal/stats"
	"github.com/bkthomps/GeneticMultiplexer/internal/storage"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "genmux.db"
)

// Run defaults.
const (
	DefaultTarget                 = "mux6"
	DefaultPopulation             = 2000
	DefaultSelectionPerTournament = 200
	DefaultCrossoverProbability   = 0.94
	DefaultMutationProbability    = 0.04
	DefaultAggressiveness         = 4
	DefaultInitialDepth           = 3
	DefaultDisfavorDepth          = 5
	DefaultMaximumDepth           = 9
	DefaultWorkers                = 1
	DefaultSeed                   = 1
)

// ErrDidNotConverge is returned with a partial RunSummary when a run reaches
// its generation cap without a perfect tree.
var ErrDidNotConverge = evo.ErrDidNotConverge

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
	Logger        *slog.Logger
	Metrics       *evo.Metrics
}

type Client struct {
	store   storage.Store
	polis   *platform.Polis
	logger  *slog.Logger
	metrics *evo.Metrics

	benchmarksDir string
	exportsDir    string
}

type RunRequest struct {
	RunID                  string
	Target                 string
	Population             int
	SelectionPerTournament int
	// CrossoverProbability and MutationProbability both zero select the
	// defaults.
	CrossoverProbability float64
	MutationProbability  float64
	Aggressiveness       float64
	InitialDepth         int
	DisfavorDepth        int
	MaximumDepth         int
	MaxGenerations       int
	Workers              int
	Seed                 int64
	ContinueFrom         string
	OnGeneration         func(model.GenerationDiagnostics)
	// Exact runs the request as given. Without it, zero-valued fields take
	// the Default* values.
	Exact bool
}

type RunSummary struct {
	RunID            string
	Target           string
	ArtifactsDir     string
	BestByGeneration []float64
	BestTree         string
	FinalBestFitness float64
	Converged        bool
	Generations      int
	Evaluations      int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Target           string
	Seed             int64
	Population       int
	Generations      int
	Converged        bool
	FinalBestFitness float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ValidateRequest struct {
	Target        string
	Tree          string
	MaximumDepth  int
	DisfavorDepth int
}

type ValidateSummary struct {
	Target     string
	Rows       int
	Correct    int
	Depth      int
	LogicSize  int
	Fitness    float64
	Mismatches []scape.Mismatch
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		logger:        logger,
		metrics:       opts.Metrics,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Run evolves a tree for req.Target and writes the run artifacts. When the
// run stops at MaxGenerations without a perfect tree the partial summary is
// returned together with ErrDidNotConverge.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req = applyRunDefaults(req)

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	target, err := p.ResolveTarget(req.Target)
	if err != nil {
		return RunSummary{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%s", target.Name(), req.Seed, uuid.NewString()[:8])
	}

	evolution := platform.EvolutionConfig{
		RunID:                  runID,
		Target:                 req.Target,
		PopulationSize:         req.Population,
		SelectionPerTournament: req.SelectionPerTournament,
		CrossoverProbability:   req.CrossoverProbability,
		MutationProbability:    req.MutationProbability,
		Aggressiveness:         req.Aggressiveness,
		InitialDepth:           req.InitialDepth,
		DisfavorDepth:          req.DisfavorDepth,
		MaximumDepth:           req.MaximumDepth,
		MaxGenerations:         req.MaxGenerations,
		Workers:                req.Workers,
		Seed:                   req.Seed,
		ContinueFrom:           req.ContinueFrom,
		OnGeneration:           req.OnGeneration,
	}
	result, runErr := p.RunEvolution(ctx, evolution)
	if runErr != nil && !errors.Is(runErr, evo.ErrDidNotConverge) {
		return RunSummary{}, runErr
	}

	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:     runID,
			RunConfig: platform.ToRunConfig(evolution),
		},
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.GenerationDiagnostics,
		FinalBestFitness:      result.BestFitness,
		BestTree:              result.BestTree,
		Converged:             result.Converged,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:            runID,
		Target:           result.Target,
		PopulationSize:   req.Population,
		Generations:      result.Generations,
		Seed:             req.Seed,
		Workers:          req.Workers,
		Converged:        result.Converged,
		FinalBestFitness: result.BestFitness,
		CreatedAtUTC:     result.CreatedAt,
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:            runID,
		Target:           result.Target,
		ArtifactsDir:     filepath.Clean(runDir),
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		BestTree:         result.BestTree,
		FinalBestFitness: result.BestFitness,
		Converged:        result.Converged,
		Generations:      result.Generations,
		Evaluations:      result.Evaluations,
	}, runErr
}

func applyRunDefaults(req RunRequest) RunRequest {
	if req.Exact {
		return req
	}
	if req.Target == "" {
		req.Target = DefaultTarget
	}
	if req.Population <= 0 {
		req.Population = DefaultPopulation
	}
	if req.SelectionPerTournament <= 0 {
		req.SelectionPerTournament = DefaultSelectionPerTournament
	}
	if req.CrossoverProbability == 0 && req.MutationProbability == 0 {
		req.CrossoverProbability = DefaultCrossoverProbability
		req.MutationProbability = DefaultMutationProbability
	}
	if req.Aggressiveness <= 0 {
		req.Aggressiveness = DefaultAggressiveness
	}
	if req.InitialDepth <= 0 {
		req.InitialDepth = DefaultInitialDepth
	}
	if req.MaximumDepth <= 0 {
		req.MaximumDepth = DefaultMaximumDepth
	}
	if req.DisfavorDepth <= 0 {
		req.DisfavorDepth = DefaultDisfavorDepth
	}
	if req.Workers <= 0 {
		req.Workers = DefaultWorkers
	}
	if req.Seed == 0 {
		req.Seed = DefaultSeed
	}
	return req
}

// StopRun cancels an active run started by this client.
func (c *Client) StopRun(ctx context.Context, runID string) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.StopRun(runID)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			Target:           e.Target,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			Converged:        e.Converged,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, errors.New("fitness history requires run id or latest")
	}

	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Memory-store runs of earlier processes survive only as artifacts.
		history, ok, err = stats.ReadFitnessHistory(c.benchmarksDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, errors.New("diagnostics requires run id or latest")
	}

	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.benchmarksDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// Validate parses a printed tree and checks it against every truth row of the
// target.
func (c *Client) Validate(ctx context.Context, req ValidateRequest) (ValidateSummary, error) {
	if req.MaximumDepth <= 0 {
		req.MaximumDepth = DefaultMaximumDepth
	}
	if req.DisfavorDepth <= 0 {
		req.DisfavorDepth = DefaultDisfavorDepth
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return ValidateSummary{}, err
	}
	target, err := p.ResolveTarget(req.Target)
	if err != nil {
		return ValidateSummary{}, err
	}
	tree, err := expr.Parse(req.Tree, target.Inputs())
	if err != nil {
		return ValidateSummary{}, err
	}
	evaluator, err := scape.NewEvaluator(target, req.MaximumDepth, req.DisfavorDepth)
	if err != nil {
		return ValidateSummary{}, err
	}

	fitness, trace, err := evaluator.Evaluate(ctx, tree)
	if err != nil {
		return ValidateSummary{}, err
	}
	mismatches, err := evaluator.Verify(tree)
	if err != nil {
		return ValidateSummary{}, err
	}
	c.logger.Debug("tree validated", "target", target.Name(), "trace", trace)
	return ValidateSummary{
		Target:     target.Name(),
		Rows:       evaluator.Rows(),
		Correct:    evaluator.Rows() - len(mismatches),
		Depth:      tree.Depth(),
		LogicSize:  tree.LogicSize(),
		Fitness:    float64(fitness),
		Mismatches: mismatches,
	}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if !latest {
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{
		Store:   c.store,
		Logger:  c.logger,
		Metrics: c.metrics,
	})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
