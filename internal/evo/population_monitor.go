package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
	"github.com/bkthomps/GeneticMultiplexer/internal/model"
	"github.com/bkthomps/GeneticMultiplexer/internal/scape"
)

var (
	ErrInvalidConfig  = errors.New("invalid evolution config")
	ErrDidNotConverge = errors.New("did not converge")
)

// fitnessEpsilon is the distance from 1 within which a fitness counts as a
// perfect solution.
const fitnessEpsilon = 0x1p-52

type RunResult struct {
	BestByGeneration []float64
	BestTree         string
	BestFitness      float64
	Converged        bool
	Diagnostics      []model.GenerationDiagnostics
	FinalPopulation  []*expr.Node
}

type MonitorConfig struct {
	Evaluator              *scape.Evaluator
	PopulationSize         int
	SelectionPerTournament int
	CrossoverProbability   float64
	MutationProbability    float64
	Aggressiveness         float64
	InitialDepth           int
	MaxGenerations         int
	Workers                int
	Seed                   int64
	Logger                 *slog.Logger
	Metrics                *Metrics
	OnGeneration           func(model.GenerationDiagnostics)
}

type PopulationMonitor struct {
	cfg          MonitorConfig
	rng          *rand.Rand
	crossover    CrossoverOperator
	mutation     MutationOperator
	reproduction ReproductionOperator
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	inputs := cfg.Evaluator.Target().Inputs()
	return &PopulationMonitor{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		crossover: CrossoverOperator{Aggressiveness: cfg.Aggressiveness},
		mutation:  MutationOperator{Aggressiveness: cfg.Aggressiveness, Inputs: inputs},
	}, nil
}

func validateConfig(cfg *MonitorConfig) error {
	if cfg.Evaluator == nil {
		return fmt.Errorf("evaluator is required")
	}
	if cfg.PopulationSize <= 0 {
		return fmt.Errorf("population size must be > 0")
	}
	if cfg.SelectionPerTournament < 2 || cfg.SelectionPerTournament%2 != 0 {
		return fmt.Errorf("selection per tournament must be even and >= 2, got %d", cfg.SelectionPerTournament)
	}
	if cfg.PopulationSize%cfg.SelectionPerTournament != 0 {
		return fmt.Errorf("population size %d must be divisible by selection per tournament %d", cfg.PopulationSize, cfg.SelectionPerTournament)
	}
	if cfg.CrossoverProbability < 0 || cfg.MutationProbability < 0 {
		return fmt.Errorf("operator probabilities must be >= 0")
	}
	if cfg.CrossoverProbability+cfg.MutationProbability > 1 {
		return fmt.Errorf("crossover probability %v plus mutation probability %v exceeds 1", cfg.CrossoverProbability, cfg.MutationProbability)
	}
	if cfg.Aggressiveness <= 0 {
		return fmt.Errorf("aggressiveness must be > 0")
	}
	if cfg.InitialDepth < 1 {
		return fmt.Errorf("initial depth must be >= 1")
	}
	if cfg.MaxGenerations < 0 {
		return fmt.Errorf("max generations must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// SeedPopulation builds PopulationSize random trees of InitialDepth.
func (m *PopulationMonitor) SeedPopulation() ([]*expr.Node, error) {
	inputs := m.cfg.Evaluator.Target().Inputs()
	population := make([]*expr.Node, 0, m.cfg.PopulationSize)
	for i := 0; i < m.cfg.PopulationSize; i++ {
		tree, err := expr.RandomNode(m.rng, inputs, m.cfg.InitialDepth)
		if err != nil {
			return nil, err
		}
		population = append(population, tree)
	}
	return population, nil
}

// Run evolves initial until a generation produces a tree of perfect fitness.
// A nil initial population is seeded randomly. When MaxGenerations is set and
// reached first, the partial result is returned with ErrDidNotConverge.
func (m *PopulationMonitor) Run(ctx context.Context, initial []*expr.Node) (RunResult, error) {
	if initial == nil {
		seeded, err := m.SeedPopulation()
		if err != nil {
			return RunResult{}, err
		}
		initial = seeded
	}
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}
	inputs := m.cfg.Evaluator.Target().Inputs()
	for i, tree := range initial {
		if err := tree.Validate(); err != nil {
			return RunResult{}, fmt.Errorf("initial tree %d: %w", i, err)
		}
		if tree.Inputs() != inputs {
			return RunResult{}, fmt.Errorf("initial tree %d: %w", i, expr.ErrInputMismatch)
		}
		if tree.Kind() == expr.KindTerminal {
			return RunResult{}, fmt.Errorf("initial tree %d: %w: terminal root has no splice point", i, expr.ErrStructural)
		}
	}

	population := make([]*expr.Node, len(initial))
	copy(population, initial)

	target := m.cfg.Evaluator.Target().Name()
	var result RunResult
	for gen := 1; ; gen++ {
		if err := ctx.Err(); err != nil {
			result.FinalPopulation = population
			return result, err
		}

		started := time.Now()
		next, diag, best, err := m.generation(ctx, population, gen)
		if err != nil {
			result.FinalPopulation = population
			return result, err
		}
		diag.ElapsedSeconds = time.Since(started).Seconds()

		result.BestByGeneration = append(result.BestByGeneration, diag.BestFitness)
		result.Diagnostics = append(result.Diagnostics, diag)
		if gen == 1 || diag.BestFitness > result.BestFitness {
			result.BestFitness = diag.BestFitness
			result.BestTree = best.String()
		}
		population = next

		m.cfg.Logger.Info("generation complete",
			"target", target,
			"generation", gen,
			"best_fitness", diag.BestFitness,
			"mean_fitness", diag.MeanFitness,
			"best_depth", diag.BestDepth,
			"distinct_trees", diag.DistinctTrees,
		)
		m.cfg.Metrics.observeGeneration(target, diag)
		if m.cfg.OnGeneration != nil {
			m.cfg.OnGeneration(diag)
		}

		if diag.BestFitness >= 1-fitnessEpsilon {
			result.BestTree = best.String()
			result.BestFitness = diag.BestFitness
			result.Converged = true
			result.FinalPopulation = population
			return result, nil
		}
		if m.cfg.MaxGenerations > 0 && gen >= m.cfg.MaxGenerations {
			result.FinalPopulation = population
			return result, fmt.Errorf("%w after %d generations: best fitness %v", ErrDidNotConverge, gen, result.BestFitness)
		}
	}
}

type tournamentOutcome struct {
	selection TournamentResult
	offspring []*expr.Node
	counts    map[string]int
}

// generation runs one round of tournaments over population and returns the
// next generation. Entrants are drawn on the monitor generator in tournament
// order; each tournament then breeds on its own generator so the outcome does
// not depend on the worker count.
func (m *PopulationMonitor) generation(ctx context.Context, population []*expr.Node, gen int) ([]*expr.Node, model.GenerationDiagnostics, *expr.Node, error) {
	size := m.cfg.SelectionPerTournament
	tournaments := m.cfg.PopulationSize / size

	pool := make([]*expr.Node, len(population))
	copy(pool, population)
	groups := make([][]*expr.Node, tournaments)
	seeds := make([]int64, tournaments)
	for t := range groups {
		var err error
		groups[t], pool, err = DrawEntrants(m.rng, pool, size)
		if err != nil {
			return nil, model.GenerationDiagnostics{}, nil, err
		}
		seeds[t] = m.rng.Int63()
	}

	outcomes := make([]tournamentOutcome, tournaments)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for t := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := m.tournament(rand.New(rand.NewSource(seeds[t])), groups[t])
			if err != nil {
				return fmt.Errorf("generation %d tournament %d: %w", gen, t, err)
			}
			outcomes[t] = outcome
			m.cfg.Logger.Debug("tournament complete",
				"generation", gen,
				"tournament", t,
				"best_fitness", outcome.selection.Best.Fitness,
				"second_fitness", outcome.selection.Second.Fitness,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, model.GenerationDiagnostics{}, nil, err
	}

	next := make([]*expr.Node, 0, m.cfg.PopulationSize)
	diag := model.GenerationDiagnostics{Generation: gen, MinFitness: 1}
	var best *expr.Node
	totalFitness, totalDepth := 0.0, 0
	distinct := make(map[string]struct{}, m.cfg.PopulationSize)
	for _, outcome := range outcomes {
		if best == nil || outcome.selection.Best.Fitness > diag.BestFitness {
			best = outcome.selection.Best.Tree
			diag.BestFitness = outcome.selection.Best.Fitness
		}
		for _, entry := range outcome.selection.Entries {
			totalFitness += entry.Fitness
			totalDepth += entry.Tree.Depth()
			if entry.Fitness < diag.MinFitness {
				diag.MinFitness = entry.Fitness
			}
			distinct[entry.Tree.String()] = struct{}{}
		}
		diag.Evaluations += len(outcome.selection.Entries)
		diag.Crossovers += outcome.counts[OperationCrossover]
		diag.Mutations += outcome.counts[OperationMutation]
		diag.Reproductions += outcome.counts[OperationReproduction]
		next = append(next, outcome.offspring...)
	}
	if diag.Evaluations > 0 {
		diag.MeanFitness = totalFitness / float64(diag.Evaluations)
		diag.MeanDepth = float64(totalDepth) / float64(diag.Evaluations)
	}
	diag.DistinctTrees = len(distinct)
	diag.BestDepth = best.Depth()
	diag.BestLogicSize = best.LogicSize()
	diag.BestTree = best.String()
	return next, diag, best, nil
}

func (m *PopulationMonitor) tournament(rng *rand.Rand, entrants []*expr.Node) (tournamentOutcome, error) {
	selection, err := SelectParents(entrants, m.cfg.Evaluator)
	if err != nil {
		return tournamentOutcome{}, err
	}
	outcome := tournamentOutcome{
		selection: selection,
		offspring: make([]*expr.Node, 0, len(entrants)),
		counts:    make(map[string]int, 3),
	}
	first, second := selection.Best.Tree, selection.Second.Tree
	for pair := 0; pair < len(entrants)/2; pair++ {
		x, y, op, err := m.breed(rng, first, second)
		if err != nil {
			return tournamentOutcome{}, err
		}
		outcome.offspring = append(outcome.offspring, x, y)
		outcome.counts[op.Name()] += 2
	}
	return outcome, nil
}

// breed produces one offspring pair. Crossover happens with probability Pc;
// otherwise mutation of both parents happens with probability Pm/(1-Pc), so
// that mutation occurs with overall probability Pm; otherwise both parents
// are copied.
func (m *PopulationMonitor) breed(rng *rand.Rand, first, second *expr.Node) (*expr.Node, *expr.Node, Operator, error) {
	pc := m.cfg.CrossoverProbability
	if rng.Float64() < pc {
		x, y, err := m.crossover.Apply(rng, first, second)
		return x, y, m.crossover, err
	}
	if pc < 1 && rng.Float64() < m.cfg.MutationProbability/(1-pc) {
		x, err := m.mutation.Apply(rng, first)
		if err != nil {
			return nil, nil, nil, err
		}
		y, err := m.mutation.Apply(rng, second)
		if err != nil {
			return nil, nil, nil, err
		}
		return x, y, m.mutation, nil
	}
	return m.reproduction.Apply(first), m.reproduction.Apply(second), m.reproduction, nil
}
