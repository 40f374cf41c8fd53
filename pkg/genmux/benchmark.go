package genmux

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bkthomps/GeneticMultiplexer/internal/stats"
)

const (
	benchmarkProgressInProgress = "in_progress"
	benchmarkProgressCompleted  = "completed"
)

type BenchmarkRequest struct {
	ID      string
	Notes   string
	Targets []string
	// Repeats runs per target; repeat i uses seed Base.Seed+i.
	Repeats int
	Base    RunRequest
}

// Benchmark runs every target Repeats times in sequence and records the
// experiment with per-target success statistics. Runs that hit their
// generation cap count as failures, not errors.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (stats.BenchmarkExperiment, error) {
	if len(req.Targets) == 0 {
		return stats.BenchmarkExperiment{}, errors.New("benchmark requires at least one target")
	}
	if req.Repeats <= 0 {
		req.Repeats = 1
	}
	base := applyRunDefaults(req.Base)
	exp := stats.BenchmarkExperiment{
		ID:           req.ID,
		Notes:        req.Notes,
		ProgressFlag: benchmarkProgressInProgress,
		Targets:      append([]string(nil), req.Targets...),
		Repeats:      req.Repeats,
		StartedAtUTC: nowUTC(),
	}
	if exp.ID == "" {
		exp.ID = "bench-" + uuid.NewString()
	}
	if err := stats.WriteBenchmarkExperiment(c.benchmarksDir, exp); err != nil {
		return stats.BenchmarkExperiment{}, err
	}

	histories := make(map[string][]float64)
	for _, target := range req.Targets {
		for i := 0; i < req.Repeats; i++ {
			run := base
			run.Target = target
			run.Seed = base.Seed + int64(i)
			run.RunID = ""
			run.ContinueFrom = ""
			started := time.Now()
			summary, err := c.Run(ctx, run)
			if err != nil && !errors.Is(err, ErrDidNotConverge) {
				return exp, fmt.Errorf("benchmark %s run %d: %w", target, i, err)
			}
			c.logger.Info("benchmark run complete",
				"experiment", exp.ID,
				"target", summary.Target,
				"repeat", i,
				"generations", summary.Generations,
				"converged", summary.Converged,
			)
			exp.RunIDs = append(exp.RunIDs, summary.RunID)
			exp.Summaries = append(exp.Summaries, stats.BenchmarkSummary{
				RunID:          summary.RunID,
				Target:         summary.Target,
				Seed:           run.Seed,
				PopulationSize: run.Population,
				Generations:    summary.Generations,
				Evaluations:    summary.Evaluations,
				Converged:      summary.Converged,
				FinalBest:      summary.FinalBestFitness,
				ElapsedSeconds: time.Since(started).Seconds(),
			})
			histories[summary.RunID] = summary.BestByGeneration
		}
	}

	exp.TargetStats = stats.BuildTargetStats(exp.Summaries, histories)
	exp.ProgressFlag = benchmarkProgressCompleted
	exp.CompletedAtUTC = nowUTC()
	if err := stats.WriteBenchmarkExperiment(c.benchmarksDir, exp); err != nil {
		return stats.BenchmarkExperiment{}, err
	}
	return exp, nil
}

// Benchmarks lists recorded experiments newest first.
func (c *Client) Benchmarks(_ context.Context) ([]stats.BenchmarkExperiment, error) {
	return stats.ListBenchmarkExperiments(c.benchmarksDir)
}
