package expr

import "fmt"

// Columns holds a truth table in bit-sliced form: bit b of Columns[i][w] is
// the value of input i on row 64*w+b.
type Columns [][]uint64

// EvaluateColumns evaluates the tree on every packed row and writes one bit
// per row into out, which must have one word per column word.
func (n *Node) EvaluateColumns(columns Columns, out []uint64) error {
	inputs := n.Inputs()
	if len(columns) != inputs.Len() {
		return fmt.Errorf("%w: got %d columns, want %d", ErrInputMismatch, len(columns), inputs.Len())
	}
	for i, col := range columns {
		if len(col) != len(out) {
			return fmt.Errorf("%w: column %d has %d words, want %d", ErrInputMismatch, i, len(col), len(out))
		}
	}
	for w := range out {
		out[w] = n.evalWord(columns, w)
	}
	return nil
}

func (n *Node) evalWord(columns Columns, w int) uint64 {
	switch n.kind {
	case KindTerminal:
		return columns[n.input][w]
	case KindNot:
		return ^n.children[0].evalWord(columns, w)
	case KindAnd:
		return n.children[0].evalWord(columns, w) & n.children[1].evalWord(columns, w)
	case KindOr:
		return n.children[0].evalWord(columns, w) | n.children[1].evalWord(columns, w)
	case KindIf:
		cond := n.children[0].evalWord(columns, w)
		return cond&n.children[1].evalWord(columns, w) | ^cond&n.children[2].evalWord(columns, w)
	default:
		return 0
	}
}
