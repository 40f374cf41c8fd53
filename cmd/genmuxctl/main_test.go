package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkthomps/GeneticMultiplexer/internal/stats"
	"github.com/bkthomps/GeneticMultiplexer/pkg/genmux"
)

const perfectMux6 = "( IF a1 THEN ( IF a0 THEN d3 ELSE d2 ) ELSE ( IF a0 THEN d1 ELSE d0 ) )"

func execute(t *testing.T, base string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	common := []string{
		"--benchmarks-dir", filepath.Join(base, "benchmarks"),
		"--exports-dir", filepath.Join(base, "exports"),
		"--log-format", "json",
		"--log-level", "warn",
	}
	cmd.SetArgs(append(append([]string{}, args...), common...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunCommandSolvesMux3AndRecordsRun(t *testing.T) {
	base := t.TempDir()
	out, _, err := execute(t, base, "run",
		"--target", "mux3",
		"--population", "100",
		"--selection", "10",
		"--max-generations", "500",
		"--seed", "2",
		"--json",
	)
	require.NoError(t, err)

	var summary genmux.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.True(t, summary.Converged)
	assert.Equal(t, 1.0, summary.FinalBestFitness)

	tree, ok, err := stats.ReadBestTree(filepath.Join(base, "benchmarks"), summary.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary.BestTree, tree)

	out, _, err = execute(t, base, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "run_id="+summary.RunID)
	assert.Contains(t, out, "converged=true")

	out, _, err = execute(t, base, "fitness", "--latest")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, summary.Generations)
	assert.True(t, strings.HasPrefix(lines[0], "generation=1 best_fitness="))

	out, _, err = execute(t, base, "diagnostics", "--run-id", summary.RunID, "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	treeFile := filepath.Join(base, "benchmarks", summary.RunID, "best_tree.txt")
	out, _, err = execute(t, base, "validate", "--target", "mux3", "--file", treeFile)
	require.NoError(t, err)
	assert.Contains(t, out, "rows=8 correct=8")

	out, _, err = execute(t, base, "export", "--latest")
	require.NoError(t, err)
	assert.Contains(t, out, "exported run_id="+summary.RunID)
}

func TestRunCommandTextOutputEndsWithBestTree(t *testing.T) {
	base := t.TempDir()
	out, _, err := execute(t, base, "run",
		"--target", "mux3",
		"--population", "100",
		"--selection", "10",
		"--max-generations", "500",
	)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	last := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(last, "( "), last)
	assert.Contains(t, out, "converged=true")
}

func TestRunCommandGenerationCapFails(t *testing.T) {
	base := t.TempDir()
	out, _, err := execute(t, base, "run",
		"--target", "mux11",
		"--population", "40",
		"--selection", "10",
		"--max-generations", "2",
	)
	require.ErrorIs(t, err, genmux.ErrDidNotConverge)
	assert.Contains(t, out, "converged=false")
}

func TestRunCommandRejectsInvalidFlags(t *testing.T) {
	base := t.TempDir()
	_, _, err := execute(t, base, "run", "--selection", "7", "--population", "70")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	_, _, err = execute(t, base, "run", "--target", "parity5", "--population", "100", "--selection", "10")
	require.Error(t, err)

	_, _, err = execute(t, base, "run", "--store", "postgres")
	require.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	base := t.TempDir()
	out, _, err := execute(t, base, "validate", "--target", "mux6", "--tree", perfectMux6)
	require.NoError(t, err)
	assert.Contains(t, out, "rows=64 correct=64")

	out, _, err = execute(t, base, "validate", "--target", "mux6", "--tree", "( a0 OR d0 )")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "of 64 rows")
	assert.Contains(t, out, "row=")

	_, _, err = execute(t, base, "validate", "--target", "mux6")
	require.Error(t, err)
}

func TestFitnessCommandRequiresSelector(t *testing.T) {
	base := t.TempDir()
	_, _, err := execute(t, base, "fitness")
	require.Error(t, err)
	_, _, err = execute(t, base, "fitness", "--run-id", "x", "--latest")
	require.Error(t, err)
	_, _, err = execute(t, base, "fitness", "--latest")
	require.Error(t, err)
}

func TestBenchmarkCommand(t *testing.T) {
	base := t.TempDir()
	out, _, err := execute(t, base, "benchmark",
		"--targets", "mux3,mux6",
		"--repeats", "2",
		"--population", "100",
		"--selection", "10",
		"--max-generations", "3",
		"--id", "bench-cli",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "experiment=bench-cli runs=4")
	assert.Contains(t, out, "target=mux3 runs=2")
	assert.Contains(t, out, "target=mux6 runs=2")

	exp, ok, err := stats.ReadBenchmarkExperiment(filepath.Join(base, "benchmarks"), "bench-cli")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, exp.Summaries, 4)
}

func TestConfigFileFeedsRunAndFlagsOverride(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "genmux.yaml")
	doc := "run:\n  target: mux11\n  population: 40\n  selection_per_tournament: 10\n  max_generations: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, _, err := execute(t, base, "run", "--config", path, "--json", "--max-generations", "2")
	require.ErrorIs(t, err, genmux.ErrDidNotConverge)
	var summary genmux.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "mux11", summary.Target)
	assert.Equal(t, 2, summary.Generations)
}

func TestMetricsServerServesEvolutionMetrics(t *testing.T) {
	m, err := startMetricsServer("127.0.0.1:0", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NotEmpty(t, m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsServerWithoutAddressDoesNotListen(t *testing.T) {
	m, err := startMetricsServer("", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Empty(t, m.Addr())
	assert.NotNil(t, m.metrics)
	assert.NoError(t, m.Close())
}

func TestLoggerFormatSelection(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, useTextHandler(&buf, "text"))
	assert.False(t, useTextHandler(&buf, "json"))
	assert.False(t, useTextHandler(&buf, "auto"))

	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept", "target", "mux6")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"target":"mux6"`)

	_, err = newLogger(&buf, "verbose", "json")
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := parseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestRunCommandKeepsExplicitZeroSettings(t *testing.T) {
	base := t.TempDir()
	out, _, err := execute(t, base, "run",
		"--target", "mux3",
		"--population", "20",
		"--selection", "10",
		"--crossover", "0",
		"--mutation", "0",
		"--seed", "0",
		"--initial-depth", "2",
		"--disfavor-depth", "0",
		"--max-depth", "3",
		"--max-generations", "2",
		"--json",
	)
	if err != nil {
		require.ErrorIs(t, err, genmux.ErrDidNotConverge)
	}
	var summary genmux.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))

	cfg, ok, err := stats.ReadRunConfig(filepath.Join(base, "benchmarks"), summary.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, cfg.CrossoverProbability)
	assert.Zero(t, cfg.MutationProbability)
	assert.Zero(t, cfg.Seed)
	assert.Zero(t, cfg.DisfavorDepth)
	assert.Equal(t, 3, cfg.MaximumDepth)
	assert.Equal(t, 2, cfg.InitialDepth)
}
