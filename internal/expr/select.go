package expr

import (
	"fmt"
	"math/rand"
)

// SelectNode picks an operator node of root to act as a splice point.
//
// Each traversal walks down from the root, stopping at an operator node with
// probability aggressiveness/LogicSize(root) and otherwise descending into a
// uniformly chosen child. A traversal that reaches a terminal yields nothing
// and the walk restarts from the root. The restarts keep the selection
// distribution roughly independent of tree size; higher aggressiveness biases
// selection toward the root.
func SelectNode(rng *rand.Rand, root *Node, aggressiveness float64) (*Node, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if root == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrStructural)
	}
	if aggressiveness <= 0 {
		return nil, fmt.Errorf("aggressiveness must be > 0, got %v", aggressiveness)
	}
	size := root.LogicSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: terminal root has no splice point", ErrStructural)
	}
	probability := aggressiveness / float64(size)
	for {
		if node := root.selectOnce(rng, probability); node != nil {
			return node, nil
		}
	}
}

func (n *Node) selectOnce(rng *rand.Rand, probability float64) *Node {
	for n.kind != KindTerminal {
		if rng.Float64() < probability {
			return n
		}
		n = n.children[rng.Intn(n.kind.Arity())]
	}
	return nil
}

// RandomSlot draws a uniformly chosen child slot of an operator node.
func (n *Node) RandomSlot(rng *rand.Rand) (int, error) {
	if n.kind == KindTerminal {
		return 0, fmt.Errorf("%w: cannot detach from a terminal", ErrStructural)
	}
	return rng.Intn(n.kind.Arity()), nil
}
