package evo

import (
	"fmt"
	"math/rand"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

// Operator names a breeding operation so that offspring can be attributed.
type Operator interface {
	Name() string
}

const (
	OperationCrossover    = "crossover"
	OperationMutation     = "mutation"
	OperationReproduction = "reproduction"
)

// CrossoverOperator exchanges one subtree between clones of two parents.
type CrossoverOperator struct {
	Aggressiveness float64
}

func (CrossoverOperator) Name() string { return OperationCrossover }

func (o CrossoverOperator) Apply(rng *rand.Rand, first, second *expr.Node) (*expr.Node, *expr.Node, error) {
	return Crossover(rng, first, second, o.Aggressiveness)
}

// MutationOperator replaces one subtree of a clone with a small random one.
type MutationOperator struct {
	Aggressiveness float64
	Inputs         *expr.InputSet
}

func (MutationOperator) Name() string { return OperationMutation }

func (o MutationOperator) Apply(rng *rand.Rand, parent *expr.Node) (*expr.Node, error) {
	return Mutation(rng, parent, o.Inputs, o.Aggressiveness)
}

// ReproductionOperator copies a parent unchanged.
type ReproductionOperator struct{}

func (ReproductionOperator) Name() string { return OperationReproduction }

func (ReproductionOperator) Apply(parent *expr.Node) *expr.Node { return parent.Clone() }

// Crossover clones both parents and swaps a uniformly chosen child subtree of
// a selected splice point in one clone with that of the other. The parents
// are left untouched.
func Crossover(rng *rand.Rand, first, second *expr.Node, aggressiveness float64) (*expr.Node, *expr.Node, error) {
	if first == nil || second == nil {
		return nil, nil, fmt.Errorf("%w: crossover requires two parents", expr.ErrStructural)
	}
	x := first.Clone()
	y := second.Clone()
	xSite, err := expr.SelectNode(rng, x, aggressiveness)
	if err != nil {
		return nil, nil, fmt.Errorf("crossover: %w", err)
	}
	ySite, err := expr.SelectNode(rng, y, aggressiveness)
	if err != nil {
		return nil, nil, fmt.Errorf("crossover: %w", err)
	}
	xSlot, err := xSite.RandomSlot(rng)
	if err != nil {
		return nil, nil, fmt.Errorf("crossover: %w", err)
	}
	ySlot, err := ySite.RandomSlot(rng)
	if err != nil {
		return nil, nil, fmt.Errorf("crossover: %w", err)
	}
	if err := expr.ExchangeChildren(xSite, xSlot, ySite, ySlot); err != nil {
		return nil, nil, fmt.Errorf("crossover: %w", err)
	}
	return x, y, nil
}

// Mutation clones parent and replaces a uniformly chosen child subtree of a
// selected splice point with a fresh random subtree of mutation depth.
func Mutation(rng *rand.Rand, parent *expr.Node, inputs *expr.InputSet, aggressiveness float64) (*expr.Node, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: mutation requires a parent", expr.ErrStructural)
	}
	child := parent.Clone()
	site, err := expr.SelectNode(rng, child, aggressiveness)
	if err != nil {
		return nil, fmt.Errorf("mutation: %w", err)
	}
	slot, err := site.RandomSlot(rng)
	if err != nil {
		return nil, fmt.Errorf("mutation: %w", err)
	}
	payload, err := expr.RandomNode(rng, inputs, expr.MutationDepth(rng))
	if err != nil {
		return nil, fmt.Errorf("mutation: %w", err)
	}
	if _, err := site.ReplaceChild(slot, payload); err != nil {
		return nil, fmt.Errorf("mutation: %w", err)
	}
	return child, nil
}
