package evo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

type fixedScorer map[*expr.Node]float64

func (s fixedScorer) Fitness(tree *expr.Node) (float64, error) {
	return s[tree], nil
}

func scoredTrees(t *testing.T, fitness ...float64) ([]*expr.Node, fixedScorer) {
	t.Helper()
	inputs := newMuxEvaluator(t, 1).Target().Inputs()
	rng := rand.New(rand.NewSource(int64(len(fitness))))
	trees := make([]*expr.Node, 0, len(fitness))
	scorer := fixedScorer{}
	for _, f := range fitness {
		tree := randomTree(t, rng, inputs, 2)
		trees = append(trees, tree)
		scorer[tree] = f
	}
	return trees, scorer
}

func TestDrawEntrantsRemovesWithoutReplacement(t *testing.T) {
	pool, _ := scoredTrees(t, make([]float64, 50)...)
	original := make(map[*expr.Node]struct{}, len(pool))
	for _, tree := range pool {
		original[tree] = struct{}{}
	}

	rng := rand.New(rand.NewSource(11))
	entrants, rest, err := DrawEntrants(rng, pool, 20)
	require.NoError(t, err)
	require.Len(t, entrants, 20)
	require.Len(t, rest, 30)

	seen := map[*expr.Node]struct{}{}
	for _, tree := range append(append([]*expr.Node(nil), entrants...), rest...) {
		_, ok := original[tree]
		require.True(t, ok, "draw produced an individual outside the pool")
		_, dup := seen[tree]
		require.False(t, dup, "individual drawn twice")
		seen[tree] = struct{}{}
	}
	assert.Len(t, seen, 50)

	_, _, err = DrawEntrants(rng, rest, 31)
	assert.Error(t, err, "drawing more than the pool holds")
}

func TestSelectParentsDemotesPreviousBest(t *testing.T) {
	cases := []struct {
		name      string
		fitness   []float64
		bestIdx   int
		secondIdx int
	}{
		{name: "ascending", fitness: []float64{0.1, 0.5, 0.9}, bestIdx: 2, secondIdx: 1},
		{name: "descending", fitness: []float64{0.9, 0.5, 0.1}, bestIdx: 0, secondIdx: 1},
		{name: "demoted_best_beats_late_entry", fitness: []float64{0.5, 0.9, 0.1}, bestIdx: 1, secondIdx: 0},
		{name: "late_second", fitness: []float64{0.2, 0.9, 0.1, 0.7}, bestIdx: 1, secondIdx: 3},
		{name: "ties_keep_earlier", fitness: []float64{0.5, 0.5, 0.5}, bestIdx: 0, secondIdx: 1},
		{name: "all_zero", fitness: []float64{0, 0}, bestIdx: 0, secondIdx: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trees, scorer := scoredTrees(t, tc.fitness...)
			result, err := SelectParents(trees, scorer)
			require.NoError(t, err)
			assert.Same(t, trees[tc.bestIdx], result.Best.Tree, "best")
			assert.Same(t, trees[tc.secondIdx], result.Second.Tree, "second")
			assert.Len(t, result.Entries, len(trees))
		})
	}
}

func TestTournamentSelectionOrdersAndSeparatesParents(t *testing.T) {
	fitness := make([]float64, 200)
	rng := rand.New(rand.NewSource(21))
	for i := range fitness {
		fitness[i] = float64(rng.Intn(10)) / 10
	}
	pool, scorer := scoredTrees(t, fitness...)

	for len(pool) > 0 {
		var result TournamentResult
		var err error
		result, pool, err = TournamentSelection(rng, pool, 20, scorer)
		require.NoError(t, err)
		require.NotSame(t, result.Best.Tree, result.Second.Tree, "same individual selected twice")
		require.GreaterOrEqual(t, result.Best.Fitness, result.Second.Fitness)
		for _, entry := range result.Entries {
			if entry.Tree != result.Best.Tree {
				require.LessOrEqual(t, entry.Fitness, result.Second.Fitness, "entrant beats second")
			}
		}
	}
}

func TestSelectParentsRequiresTwoEntrants(t *testing.T) {
	trees, scorer := scoredTrees(t, 0.5)
	_, err := SelectParents(trees, scorer)
	assert.Error(t, err)
}
