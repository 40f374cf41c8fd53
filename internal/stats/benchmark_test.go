package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadAndListBenchmarkExperiments(t *testing.T) {
	base := t.TempDir()
	expA := BenchmarkExperiment{
		ID:           "exp-a",
		ProgressFlag: "in_progress",
		Targets:      []string{"mux6"},
		Repeats:      2,
		StartedAtUTC: "2026-02-27T00:00:00Z",
	}
	expB := BenchmarkExperiment{
		ID:           "exp-b",
		ProgressFlag: "completed",
		Targets:      []string{"mux6", "mux11"},
		Repeats:      1,
		StartedAtUTC: "2026-02-28T00:00:00Z",
	}
	expC := BenchmarkExperiment{ID: "exp-c", ProgressFlag: "in_progress"}
	for _, exp := range []BenchmarkExperiment{expA, expB, expC} {
		require.NoError(t, WriteBenchmarkExperiment(base, exp), "write %s", exp.ID)
	}

	read, ok, err := ReadBenchmarkExperiment(base, "exp-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, read.Repeats)
	assert.Equal(t, []string{"mux6"}, read.Targets)

	list, err := ListBenchmarkExperiments(base)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"exp-b", "exp-a", "exp-c"}, []string{list[0].ID, list[1].ID, list[2].ID})

	_, ok, err = ReadBenchmarkExperiment(base, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	empty, err := ListBenchmarkExperiments(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBuildTargetStats(t *testing.T) {
	summaries := []BenchmarkSummary{
		{RunID: "r1", Target: "mux6", Generations: 10, Evaluations: 20000, Converged: true, FinalBest: 1},
		{RunID: "r2", Target: "mux11", Generations: 50, Evaluations: 100000, FinalBest: 0.8},
		{RunID: "r3", Target: "mux6", Generations: 20, Evaluations: 40000, Converged: true, FinalBest: 1},
	}
	histories := map[string][]float64{
		"r1": {0.5, 1},
		"r3": {0.7, 0.8, 1},
	}

	stats := BuildTargetStats(summaries, histories)
	require.Len(t, stats, 2)
	assert.Equal(t, "mux6", stats[0].Target)
	assert.Equal(t, "mux11", stats[1].Target)

	mux6 := stats[0]
	assert.Equal(t, 2, mux6.Runs)
	assert.Equal(t, 2, mux6.Successes)
	assert.Equal(t, 1.0, mux6.SuccessRate)
	assert.Equal(t, 15.0, mux6.AvgGenerations)
	assert.Equal(t, 5.0, mux6.StdGenerations)
	require.Len(t, mux6.AverageCurve, 3)
	assert.InDelta(t, 0.6, mux6.AverageCurve[0].Value, 1e-12)
	assert.Equal(t, 1.0, mux6.AverageCurve[2].Value)

	assert.Zero(t, stats[1].SuccessRate)
	assert.Nil(t, stats[1].AverageCurve)
}

func TestBuildAveragePlot(t *testing.T) {
	points := BuildAveragePlot([][]float64{{1, 2, 3}, {2, 4}, {3}}, 1, 1)
	require.Len(t, points, 3)
	assert.Equal(t, 1, points[0].Index)
	assert.Equal(t, 3, points[2].Index)
	assert.Equal(t, 2.0, points[0].Value)
	assert.Equal(t, 3.0, points[1].Value)
	assert.Equal(t, 3.0, points[2].Value)
}
