package expr

import (
	"fmt"
	"math/rand"
)

// mutationDepths is sampled uniformly, so payloads of depth 1 and 2 are twice
// as likely as depth 0 or 3.
var mutationDepths = [...]int{0, 1, 1, 2, 2, 3}

// RandomNode builds a random tree of exactly the given depth along at least one
// path. Depth 0 yields a terminal with a uniformly drawn input.
func RandomNode(rng *rand.Rand, inputs *InputSet, depth int) (*Node, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if inputs == nil || inputs.Len() == 0 {
		return nil, fmt.Errorf("input set is required")
	}
	if depth < 0 {
		return nil, fmt.Errorf("depth must be >= 0, got %d", depth)
	}
	return randomNode(rng, inputs, depth), nil
}

func randomNode(rng *rand.Rand, inputs *InputSet, depth int) *Node {
	if depth == 0 {
		return &Node{kind: KindTerminal, input: rng.Intn(inputs.Len()), inputs: inputs}
	}
	node := &Node{kind: internalKinds[rng.Intn(len(internalKinds))]}
	for i := 0; i < node.kind.Arity(); i++ {
		node.children[i] = randomNode(rng, inputs, depth-1)
	}
	return node
}

// MutationDepth draws the depth of a mutation payload.
func MutationDepth(rng *rand.Rand) int {
	return mutationDepths[rng.Intn(len(mutationDepths))]
}
