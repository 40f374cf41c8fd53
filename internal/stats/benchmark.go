package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const benchmarkExperimentsDir = "experiments"

// BenchmarkSummary is the outcome of one run inside a benchmark experiment.
type BenchmarkSummary struct {
	RunID          string  `json:"run_id"`
	Target         string  `json:"target"`
	Seed           int64   `json:"seed"`
	PopulationSize int     `json:"population_size"`
	Generations    int     `json:"generations"`
	Evaluations    int     `json:"evaluations"`
	Converged      bool    `json:"converged"`
	FinalBest      float64 `json:"final_best"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// TargetStats aggregates the runs of one target.
type TargetStats struct {
	Target         string      `json:"target"`
	Runs           int         `json:"runs"`
	Successes      int         `json:"successes"`
	SuccessRate    float64     `json:"success_rate"`
	AvgGenerations float64     `json:"avg_generations"`
	StdGenerations float64     `json:"std_generations"`
	AvgEvaluations float64     `json:"avg_evaluations"`
	AvgFinalBest   float64     `json:"avg_final_best"`
	AverageCurve   []PlotPoint `json:"average_curve,omitempty"`
}

type PlotPoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

type BenchmarkExperiment struct {
	ID             string             `json:"id"`
	Notes          string             `json:"notes,omitempty"`
	ProgressFlag   string             `json:"progress_flag"`
	Targets        []string           `json:"targets"`
	Repeats        int                `json:"repeats"`
	StartedAtUTC   string             `json:"started_at_utc,omitempty"`
	CompletedAtUTC string             `json:"completed_at_utc,omitempty"`
	RunIDs         []string           `json:"run_ids,omitempty"`
	Summaries      []BenchmarkSummary `json:"summaries,omitempty"`
	TargetStats    []TargetStats      `json:"target_stats,omitempty"`
}

func WriteBenchmarkExperiment(baseDir string, exp BenchmarkExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	path := benchmarkExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, exp)
}

func ReadBenchmarkExperiment(baseDir, id string) (BenchmarkExperiment, bool, error) {
	if id == "" {
		return BenchmarkExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	data, err := os.ReadFile(benchmarkExperimentPath(baseDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return BenchmarkExperiment{}, false, nil
		}
		return BenchmarkExperiment{}, false, err
	}
	var exp BenchmarkExperiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return BenchmarkExperiment{}, false, err
	}
	return exp, true, nil
}

// ListBenchmarkExperiments returns experiments newest first.
// ListBenchmarkExperiments returns every recorded experiment, most recently
// started first. Experiments without a start time sort last.
func ListBenchmarkExperiments(baseDir string) ([]BenchmarkExperiment, error) {
	dirs, err := os.ReadDir(filepath.Join(baseDir, benchmarkExperimentsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []BenchmarkExperiment{}, nil
	}
	if err != nil {
		return nil, err
	}

	var exps []BenchmarkExperiment
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		exp, ok, err := ReadBenchmarkExperiment(baseDir, dir.Name())
		if err != nil {
			return nil, fmt.Errorf("experiment %s: %w", dir.Name(), err)
		}
		if ok {
			exps = append(exps, exp)
		}
	}
	slices.SortFunc(exps, func(a, b BenchmarkExperiment) int {
		if (a.StartedAtUTC == "") != (b.StartedAtUTC == "") {
			if a.StartedAtUTC == "" {
				return 1
			}
			return -1
		}
		if c := strings.Compare(b.StartedAtUTC, a.StartedAtUTC); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if exps == nil {
		exps = []BenchmarkExperiment{}
	}
	return exps, nil
}

func benchmarkExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, benchmarkExperimentsDir, id, "experiment.json")
}

// BuildTargetStats groups summaries by target, in first-seen order. histories
// maps run ids to their best-by-generation series for the average curve.
func BuildTargetStats(summaries []BenchmarkSummary, histories map[string][]float64) []TargetStats {
	var order []string
	byTarget := map[string][]BenchmarkSummary{}
	for _, summary := range summaries {
		if _, ok := byTarget[summary.Target]; !ok {
			order = append(order, summary.Target)
		}
		byTarget[summary.Target] = append(byTarget[summary.Target], summary)
	}

	out := make([]TargetStats, 0, len(order))
	for _, target := range order {
		runs := byTarget[target]
		stats := TargetStats{Target: target, Runs: len(runs)}
		generations := make([]float64, 0, len(runs))
		evaluations := make([]float64, 0, len(runs))
		finals := make([]float64, 0, len(runs))
		curves := make([][]float64, 0, len(runs))
		for _, run := range runs {
			if run.Converged {
				stats.Successes++
			}
			generations = append(generations, float64(run.Generations))
			evaluations = append(evaluations, float64(run.Evaluations))
			finals = append(finals, run.FinalBest)
			if history, ok := histories[run.RunID]; ok {
				curves = append(curves, history)
			}
		}
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Runs)
		stats.AvgGenerations, stats.StdGenerations = meanStd(generations)
		stats.AvgEvaluations, _ = meanStd(evaluations)
		stats.AvgFinalBest, _ = meanStd(finals)
		if len(curves) > 0 {
			stats.AverageCurve = BuildAveragePlot(curves, 1, 1)
		}
		out = append(out, stats)
	}
	return out
}

// BuildAveragePlot averages the lists position by position. Lists that have
// ended drop out of later averages.
func BuildAveragePlot(lists [][]float64, startIndex, step int) []PlotPoint {
	if step <= 0 {
		step = 1
	}
	points := make([]PlotPoint, 0, 128)
	index := startIndex
	for pos := 0; ; pos++ {
		values := make([]float64, 0, len(lists))
		for _, list := range lists {
			if pos < len(list) {
				values = append(values, list[pos])
			}
		}
		if len(values) == 0 {
			break
		}
		avg, _ := meanStd(values)
		points = append(points, PlotPoint{Index: index, Value: avg})
		index += step
	}
	return points
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	mean := total / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
