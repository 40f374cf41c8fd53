package evo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
	"github.com/bkthomps/GeneticMultiplexer/internal/scape"
)

func newMuxEvaluator(t *testing.T, addressPins int) *scape.Evaluator {
	t.Helper()
	mux, err := scape.NewMultiplexer(addressPins)
	require.NoError(t, err)
	ev, err := scape.NewEvaluator(mux, 9, 5)
	require.NoError(t, err)
	return ev
}

func randomTree(t *testing.T, rng *rand.Rand, inputs *expr.InputSet, depth int) *expr.Node {
	t.Helper()
	tree, err := expr.RandomNode(rng, inputs, depth)
	require.NoError(t, err)
	return tree
}

func TestCrossoverPreservesParentsAndWellFormedness(t *testing.T) {
	inputs := newMuxEvaluator(t, 2).Target().Inputs()
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 200; i++ {
		first := randomTree(t, rng, inputs, 1+rng.Intn(4))
		second := randomTree(t, rng, inputs, 1+rng.Intn(4))
		firstBefore, secondBefore := first.String(), second.String()

		x, y, err := Crossover(rng, first, second, 4)
		require.NoError(t, err)
		require.Equal(t, firstBefore, first.String(), "crossover modified the first parent")
		require.Equal(t, secondBefore, second.String(), "crossover modified the second parent")
		require.NoError(t, x.Validate())
		require.NoError(t, y.Validate())
		require.Equal(t, first.Count()+second.Count(), x.Count()+y.Count(), "node count not conserved")
		require.Same(t, inputs, x.Inputs())
		require.Same(t, inputs, y.Inputs())
	}
}

func TestCrossoverOffspringShareNoNodes(t *testing.T) {
	inputs := newMuxEvaluator(t, 2).Target().Inputs()
	rng := rand.New(rand.NewSource(8))
	first := randomTree(t, rng, inputs, 3)
	second := randomTree(t, rng, inputs, 3)

	x, y, err := Crossover(rng, first, second, 4)
	require.NoError(t, err)
	// A joint root validates the two trees together, which fails if any
	// subtree instance is reachable from both.
	assert.NoError(t, expr.And(x, y).Validate(), "offspring share structure")
	assert.NoError(t, expr.And(x, first).Validate(), "offspring shares structure with a parent")
}

func TestCrossoverRejectsTerminalParent(t *testing.T) {
	inputs := newMuxEvaluator(t, 1).Target().Inputs()
	rng := rand.New(rand.NewSource(1))
	leaf, err := expr.Terminal(inputs, 0)
	require.NoError(t, err)

	_, _, err = Crossover(rng, leaf, randomTree(t, rng, inputs, 2), 4)
	assert.ErrorIs(t, err, expr.ErrStructural)
}

func TestMutationReplacesOneSubtree(t *testing.T) {
	inputs := newMuxEvaluator(t, 2).Target().Inputs()
	rng := rand.New(rand.NewSource(5))
	changed := 0

	for i := 0; i < 200; i++ {
		parent := randomTree(t, rng, inputs, 1+rng.Intn(4))
		before := parent.String()

		child, err := Mutation(rng, parent, inputs, 4)
		require.NoError(t, err)
		require.Equal(t, before, parent.String(), "mutation modified the parent")
		require.NoError(t, child.Validate())
		require.Same(t, inputs, child.Inputs())
		require.LessOrEqual(t, child.Depth(), parent.Depth()+3, "mutation payload too deep")
		if child.String() != before {
			changed++
		}
	}
	assert.NotZero(t, changed, "no mutation changed its tree")
}

func TestMutationRejectsTerminalParent(t *testing.T) {
	inputs := newMuxEvaluator(t, 1).Target().Inputs()
	leaf, err := expr.Terminal(inputs, 1)
	require.NoError(t, err)

	_, err = Mutation(rand.New(rand.NewSource(1)), leaf, inputs, 4)
	assert.ErrorIs(t, err, expr.ErrStructural)
}

func TestOperatorNames(t *testing.T) {
	ops := []Operator{CrossoverOperator{}, MutationOperator{}, ReproductionOperator{}}
	want := []string{OperationCrossover, OperationMutation, OperationReproduction}
	for i, op := range ops {
		assert.Equal(t, want[i], op.Name())
	}
}
