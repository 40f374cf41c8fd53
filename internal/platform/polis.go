package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bkthomps/GeneticMultiplexer/internal/evo"
	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
	"github.com/bkthomps/GeneticMultiplexer/internal/model"
	"github.com/bkthomps/GeneticMultiplexer/internal/scape"
	"github.com/bkthomps/GeneticMultiplexer/internal/storage"
)

var ErrPopulationNotFound = errors.New("population not found")

type Config struct {
	Store   storage.Store
	Logger  *slog.Logger
	Metrics *evo.Metrics
}

type EvolutionConfig struct {
	RunID                  string
	Target                 string
	PopulationSize         int
	SelectionPerTournament int
	CrossoverProbability   float64
	MutationProbability    float64
	Aggressiveness         float64
	InitialDepth           int
	DisfavorDepth          int
	MaximumDepth           int
	MaxGenerations         int
	Workers                int
	Seed                   int64
	// ContinueFrom names a persisted run whose final population seeds this
	// run instead of random trees.
	ContinueFrom string
	OnGeneration func(model.GenerationDiagnostics)
}

type EvolutionResult struct {
	RunID                 string
	Target                string
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	BestTree              string
	BestFitness           float64
	Converged             bool
	Generations           int
	Evaluations           int
	CreatedAt             string
}

// Polis owns the store and the registry of targets, and runs evolutions
// against them. Targets are kept by name so that every run and every parsed
// population of one target shares the same input set.
type Polis struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *evo.Metrics

	mu      sync.RWMutex
	targets map[string]scape.Target
	started bool
	runs    map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Polis{
		store:   cfg.Store,
		logger:  logger,
		metrics: cfg.Metrics,
		targets: make(map[string]scape.Target),
		runs:    make(map[string]context.CancelFunc),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) RegisterTarget(t scape.Target) error {
	if t == nil {
		return fmt.Errorf("target is nil")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("target name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("polis is not initialized")
	}
	p.targets[name] = t
	return nil
}

func (p *Polis) GetTarget(name string) (scape.Target, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.targets[name]
	return t, ok
}

// ResolveTarget parses alias and returns the registered target of the same
// name, registering the parsed one when none exists yet.
func (p *Polis) ResolveTarget(alias string) (scape.Target, error) {
	parsed, err := scape.ParseTarget(alias)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, fmt.Errorf("polis is not initialized")
	}
	if existing, ok := p.targets[parsed.Name()]; ok {
		return existing, nil
	}
	p.targets[parsed.Name()] = parsed
	return parsed, nil
}

func (p *Polis) RegisteredTargets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.targets))
	for name := range p.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadPopulation parses the persisted population of runID back into trees
// over target's inputs and returns them with the generation they reached.
func (p *Polis) LoadPopulation(ctx context.Context, runID string, target scape.Target) ([]*expr.Node, int, error) {
	snapshot, ok, err := p.store.GetPopulation(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrPopulationNotFound, runID)
	}
	if snapshot.Target != target.Name() {
		return nil, 0, fmt.Errorf("population %s was evolved for %s, not %s", runID, snapshot.Target, target.Name())
	}
	trees := make([]*expr.Node, 0, len(snapshot.Trees))
	for i, printed := range snapshot.Trees {
		tree, err := expr.Parse(printed, target.Inputs())
		if err != nil {
			return nil, 0, fmt.Errorf("population %s tree %d: %w", runID, i, err)
		}
		trees = append(trees, tree)
	}
	return trees, snapshot.Generation, nil
}

// RunEvolution runs one evolution and persists its record, fitness history,
// diagnostics and final population. A run stopped by its generation cap is
// persisted and returned together with evo.ErrDidNotConverge.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if !p.Started() {
		return EvolutionResult{}, fmt.Errorf("polis is not initialized")
	}
	target, err := p.ResolveTarget(cfg.Target)
	if err != nil {
		return EvolutionResult{}, err
	}
	evaluator, err := scape.NewEvaluator(target, cfg.MaximumDepth, cfg.DisfavorDepth)
	if err != nil {
		return EvolutionResult{}, fmt.Errorf("%w: %v", evo.ErrInvalidConfig, err)
	}

	var initial []*expr.Node
	initialGeneration := 0
	if cfg.ContinueFrom != "" {
		initial, initialGeneration, err = p.LoadPopulation(ctx, cfg.ContinueFrom, target)
		if err != nil {
			return EvolutionResult{}, err
		}
	}

	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("evo:%s:%d", target.Name(), cfg.Seed)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRunControl(runID, cancel); err != nil {
		return EvolutionResult{}, err
	}
	defer p.unregisterRunControl(runID)

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Evaluator:              evaluator,
		PopulationSize:         cfg.PopulationSize,
		SelectionPerTournament: cfg.SelectionPerTournament,
		CrossoverProbability:   cfg.CrossoverProbability,
		MutationProbability:    cfg.MutationProbability,
		Aggressiveness:         cfg.Aggressiveness,
		InitialDepth:           cfg.InitialDepth,
		MaxGenerations:         cfg.MaxGenerations,
		Workers:                cfg.Workers,
		Seed:                   cfg.Seed,
		Logger:                 p.logger.With("run_id", runID),
		Metrics:                p.metrics,
		OnGeneration:           cfg.OnGeneration,
	})
	if err != nil {
		return EvolutionResult{}, err
	}

	p.logger.Info("evolution started",
		"run_id", runID,
		"target", target.Name(),
		"population_size", cfg.PopulationSize,
		"continue_from", cfg.ContinueFrom,
	)
	result, runErr := monitor.Run(runCtx, initial)
	if runErr != nil && !errors.Is(runErr, evo.ErrDidNotConverge) {
		return EvolutionResult{}, runErr
	}

	evaluations := 0
	for i := range result.Diagnostics {
		result.Diagnostics[i].Generation += initialGeneration
		evaluations += result.Diagnostics[i].Evaluations
	}
	history := result.BestByGeneration
	diagnostics := result.Diagnostics
	if cfg.ContinueFrom != "" {
		history, diagnostics, err = p.mergeExistingRunHistory(ctx, cfg.ContinueFrom, history, diagnostics)
		if err != nil {
			return EvolutionResult{}, err
		}
	}
	executedGenerations := len(result.BestByGeneration) + initialGeneration

	out := EvolutionResult{
		RunID:                 runID,
		Target:                target.Name(),
		BestByGeneration:      history,
		GenerationDiagnostics: diagnostics,
		BestTree:              result.BestTree,
		BestFitness:           result.BestFitness,
		Converged:             result.Converged,
		Generations:           executedGenerations,
		Evaluations:           evaluations,
		CreatedAt:             time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.persist(ctx, cfg, out, result.FinalPopulation); err != nil {
		return EvolutionResult{}, err
	}

	p.logger.Info("evolution finished",
		"run_id", runID,
		"target", target.Name(),
		"generations", executedGenerations,
		"best_fitness", result.BestFitness,
		"converged", result.Converged,
	)
	return out, runErr
}

func (p *Polis) persist(ctx context.Context, cfg EvolutionConfig, out EvolutionResult, population []*expr.Node) error {
	trees := make([]string, 0, len(population))
	for _, tree := range population {
		trees = append(trees, tree.String())
	}
	if err := p.store.SavePopulation(ctx, model.PopulationSnapshot{
		VersionedRecord: storage.CurrentVersion(),
		ID:              out.RunID,
		Target:          out.Target,
		Generation:      out.Generations,
		Trees:           trees,
	}); err != nil {
		return err
	}
	if err := p.store.SaveFitnessHistory(ctx, out.RunID, out.BestByGeneration); err != nil {
		return err
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, out.RunID, out.GenerationDiagnostics); err != nil {
		return err
	}
	return p.store.SaveRun(ctx, model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              out.RunID,
		Target:          out.Target,
		Config:          ToRunConfig(cfg),
		Generations:     out.Generations,
		BestFitness:     out.BestFitness,
		Converged:       out.Converged,
		BestTree:        out.BestTree,
		CreatedAt:       out.CreatedAt,
	})
}

// mergeExistingRunHistory prefixes the history of the run a population was
// continued from.
func (p *Polis) mergeExistingRunHistory(ctx context.Context, runID string, history []float64, diagnostics []model.GenerationDiagnostics) ([]float64, []model.GenerationDiagnostics, error) {
	if previous, ok, err := p.store.GetFitnessHistory(ctx, runID); err != nil {
		return nil, nil, err
	} else if ok {
		history = append(append([]float64{}, previous...), history...)
	}
	if previous, ok, err := p.store.GetGenerationDiagnostics(ctx, runID); err != nil {
		return nil, nil, err
	} else if ok {
		diagnostics = append(append([]model.GenerationDiagnostics{}, previous...), diagnostics...)
	}
	return history, diagnostics, nil
}

func ToRunConfig(cfg EvolutionConfig) model.RunConfig {
	return model.RunConfig{
		Target:                 cfg.Target,
		PopulationSize:         cfg.PopulationSize,
		SelectionPerTournament: cfg.SelectionPerTournament,
		CrossoverProbability:   cfg.CrossoverProbability,
		MutationProbability:    cfg.MutationProbability,
		Aggressiveness:         cfg.Aggressiveness,
		InitialDepth:           cfg.InitialDepth,
		DisfavorDepth:          cfg.DisfavorDepth,
		MaximumDepth:           cfg.MaximumDepth,
		MaxGenerations:         cfg.MaxGenerations,
		Workers:                cfg.Workers,
		Seed:                   cfg.Seed,
		ContinueFrom:           cfg.ContinueFrom,
	}
}

// StopRun cancels an active run. The run returns context.Canceled and is not
// persisted.
func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Polis) registerRunControl(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Polis) unregisterRunControl(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}
