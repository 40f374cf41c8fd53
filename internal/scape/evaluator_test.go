package scape

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

func leaf(t *testing.T, target Target, name string) *expr.Node {
	t.Helper()
	idx, ok := target.Inputs().Index(name)
	require.True(t, ok, "unknown input %s", name)
	node, err := expr.Terminal(target.Inputs(), idx)
	require.NoError(t, err)
	return node
}

func wrapNot(node *expr.Node, times int) *expr.Node {
	for i := 0; i < times; i++ {
		node = expr.Not(node)
	}
	return node
}

func perfectMux6(t *testing.T, target Target) *expr.Node {
	t.Helper()
	low := expr.If(leaf(t, target, "a0"), leaf(t, target, "d1"), leaf(t, target, "d0"))
	high := expr.If(leaf(t, target, "a0"), leaf(t, target, "d3"), leaf(t, target, "d2"))
	return expr.If(leaf(t, target, "a1"), high, low)
}

func TestMultiplexerSelectsDataPinByAddress(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	assert.Equal(t, "mux6", mux.Name())
	assert.Equal(t, []string{"a0", "a1", "d0", "d1", "d2", "d3"}, mux.Inputs().Names())

	// a0=1, a1=0 selects d1.
	assert.True(t, mux.Expected([]bool{true, false, false, true, false, false}))
	assert.False(t, mux.Expected([]bool{true, false, true, false, true, true}))
	// a0=0, a1=1 selects d2.
	assert.True(t, mux.Expected([]bool{false, true, false, false, true, false}))
}

func TestThresholdCountsSetInputs(t *testing.T) {
	th, err := NewThreshold(4, 2, 3)
	require.NoError(t, err)
	assert.False(t, th.Expected([]bool{true, false, false, false}))
	assert.True(t, th.Expected([]bool{true, true, false, false}))
	assert.True(t, th.Expected([]bool{true, true, true, false}))
	assert.False(t, th.Expected([]bool{true, true, true, true}))

	_, err = NewThreshold(4, 3, 2)
	assert.Error(t, err)
	_, err = NewThreshold(4, 0, 5)
	assert.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("mux11")
	require.NoError(t, err)
	addressed, ok := target.(AddressedTarget)
	require.True(t, ok)
	assert.Equal(t, 3, addressed.AddressPinCount())
	assert.Equal(t, 11, target.Inputs().Len())

	target, err = ParseTarget("majority16")
	require.NoError(t, err)
	assert.Equal(t, "threshold16-7-9", target.Name())

	for _, bad := range []string{"", "xor", "mux:x", "mux:9", "threshold:4:1", "threshold:4:3:1"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
	_, err = ParseTarget("xor")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestNewEvaluatorRejectsInvertedDepths(t *testing.T) {
	mux, err := NewMultiplexer(1)
	require.NoError(t, err)
	_, err = NewEvaluator(mux, 5, 5)
	assert.Error(t, err)
	_, err = NewEvaluator(nil, 9, 5)
	assert.Error(t, err)
}

func TestPerfectMux6ScoresOne(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)
	assert.Equal(t, 64, ev.Rows())

	tree := perfectMux6(t, mux)
	fitness, err := ev.Fitness(tree)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fitness)

	mismatches, err := ev.Verify(tree)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	// Every row selects d[2*a1+a0].
	for r := 0; r < ev.Rows(); r++ {
		row := ev.Row(r)
		got, err := tree.Evaluate(row)
		require.NoError(t, err)
		address := 0
		if row[0] {
			address++
		}
		if row[1] {
			address += 2
		}
		assert.Equal(t, row[2+address], got)
	}
}

func TestSingleAddressIfTreeScoresOne(t *testing.T) {
	mux, err := NewMultiplexer(1)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)

	tree := expr.If(leaf(t, mux, "a0"), leaf(t, mux, "d1"), leaf(t, mux, "d0"))
	assert.Equal(t, "( IF a0 THEN d1 ELSE d0 )", tree.String())
	assert.Equal(t, 1, tree.Depth())
	assert.Equal(t, 1, tree.LogicSize())

	fitness, err := ev.Fitness(tree)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fitness)
}

func TestFitnessDepthShaping(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)

	// d0 alone is right on the 16 rows addressing d0 and half of the other 48.
	d0 := leaf(t, mux, "d0")
	fitness, err := ev.Fitness(d0)
	require.NoError(t, err)
	assert.InDelta(t, 40.0/64, fitness, 1e-12)

	shallow := wrapNot(d0.Clone(), 4)
	fitness, err = ev.Fitness(shallow)
	require.NoError(t, err)
	assert.InDelta(t, 40.0/64, fitness, 1e-12, "no scaling below the disfavor depth")

	atDisfavor := wrapNot(d0.Clone(), 5)
	fitness, err = ev.Fitness(atDisfavor)
	require.NoError(t, err)
	assert.InDelta(t, 24.0/64, fitness, 1e-12)

	scaled := wrapNot(d0.Clone(), 6)
	fitness, err = ev.Fitness(scaled)
	require.NoError(t, err)
	assert.InDelta(t, 40.0/64*0.75, fitness, 1e-12)

	atMax := wrapNot(d0.Clone(), 8)
	fitness, err = ev.Fitness(wrapNot(atMax, 1))
	require.NoError(t, err)
	assert.Zero(t, fitness, "depth equal to the maximum scales to zero")
}

func TestFitnessHardCutoffBeyondMaximumDepth(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 20; i++ {
		tree, err := expr.RandomNode(rng, mux.Inputs(), 10+rng.Intn(2))
		require.NoError(t, err)
		fitness, err := ev.Fitness(tree)
		require.NoError(t, err)
		assert.Zero(t, fitness)
	}

	tooDeep := wrapNot(perfectMux6(t, mux), 8)
	require.Equal(t, 10, tooDeep.Depth())
	fitness, err := ev.Fitness(tooDeep)
	require.NoError(t, err)
	assert.Zero(t, fitness, "even a correct tree is cut off past the maximum depth")
}

func TestPerfectTreeIsNeverPenalised(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)

	for extra := 0; extra <= 7; extra += 2 {
		tree := wrapNot(perfectMux6(t, mux), extra)
		fitness, err := ev.Fitness(tree)
		require.NoError(t, err)
		assert.Equal(t, 1.0, fitness, "depth %d", tree.Depth())
	}
}

func TestFitnessMatchesRowByRowEvaluation(t *testing.T) {
	mux1, err := NewMultiplexer(1)
	require.NoError(t, err)
	mux2, err := NewMultiplexer(2)
	require.NoError(t, err)
	mux3, err := NewMultiplexer(3)
	require.NoError(t, err)
	th3, err := NewThreshold(3, 1, 2)
	require.NoError(t, err)
	th5, err := NewThreshold(5, 2, 3)
	require.NoError(t, err)

	cases := []struct {
		target Target
		rows   int
		trees  int
	}{
		{mux1, 8, 300},
		{th3, 8, 300},
		{th5, 32, 200},
		{mux2, 64, 100},
		{mux3, 2048, 30},
	}
	for _, tc := range cases {
		t.Run(tc.target.Name(), func(t *testing.T) {
			ev, err := NewEvaluator(tc.target, 9, 5)
			require.NoError(t, err)
			require.Equal(t, tc.rows, ev.Rows())

			rng := rand.New(rand.NewSource(12))
			for i := 0; i < tc.trees; i++ {
				tree, err := expr.RandomNode(rng, tc.target.Inputs(), 1+rng.Intn(4))
				require.NoError(t, err)
				correct, err := ev.Correct(tree)
				require.NoError(t, err)

				want := 0
				for r := 0; r < ev.Rows(); r++ {
					row := ev.Row(r)
					got, err := tree.Evaluate(row)
					require.NoError(t, err)
					if got == tc.target.Expected(row) {
						want++
					}
				}
				require.Equal(t, want, correct, "tree %s", tree)

				mismatches, err := ev.Verify(tree)
				require.NoError(t, err)
				assert.Equal(t, ev.Rows()-len(mismatches), correct)
			}
		})
	}
}

func TestThresholdEvaluatorOnSmallTable(t *testing.T) {
	th, err := NewThreshold(3, 2, 3)
	require.NoError(t, err)
	ev, err := NewEvaluator(th, 9, 5)
	require.NoError(t, err)
	assert.Equal(t, 8, ev.Rows())

	// Majority of three: (x0 AND x1) OR (x2 AND (x0 OR x1)).
	tree := expr.Or(
		expr.And(leaf(t, th, "x0"), leaf(t, th, "x1")),
		expr.And(leaf(t, th, "x2"), expr.Or(leaf(t, th, "x0"), leaf(t, th, "x1"))),
	)
	fitness, err := ev.Fitness(tree)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fitness)
}

func TestEvaluateReportsTrace(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)

	fitness, trace, err := ev.Evaluate(context.Background(), leaf(t, mux, "d0"))
	require.NoError(t, err)
	assert.InDelta(t, 40.0/64, float64(fitness), 1e-12)
	assert.Equal(t, 40, trace["correct"])
	assert.Equal(t, 64, trace["rows"])

	_, trace, err = ev.Evaluate(context.Background(), wrapNot(leaf(t, mux, "d0"), 10))
	require.NoError(t, err)
	assert.Equal(t, true, trace["cutoff"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = ev.Evaluate(ctx, leaf(t, mux, "d0"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCorrectRejectsForeignInputs(t *testing.T) {
	mux, err := NewMultiplexer(2)
	require.NoError(t, err)
	other, err := NewMultiplexer(2)
	require.NoError(t, err)
	ev, err := NewEvaluator(mux, 9, 5)
	require.NoError(t, err)

	_, err = ev.Fitness(leaf(t, other, "d0"))
	assert.ErrorIs(t, err, expr.ErrInputMismatch)
}
