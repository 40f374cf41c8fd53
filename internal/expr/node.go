package expr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStructural marks a violated tree invariant. It always indicates a bug
	// in a caller, never a recoverable runtime condition.
	ErrStructural = errors.New("structural misuse")
	// ErrInputMismatch is returned when a truth row does not match the input set.
	ErrInputMismatch = errors.New("truth row does not match input count")
)

// Kind tags the closed set of node variants.
type Kind uint8

const (
	KindTerminal Kind = iota
	KindNot
	KindAnd
	KindOr
	KindIf
)

// internalKinds are the kinds drawn by the random generator for depth > 0.
var internalKinds = [...]Kind{KindNot, KindAnd, KindOr, KindIf}

func (k Kind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindNot:
		return "NOT"
	case KindAnd:
		return "AND"
	case KindOr:
		return "OR"
	case KindIf:
		return "IF"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Arity returns the fixed number of child slots for the kind.
func (k Kind) Arity() int {
	switch k {
	case KindNot:
		return 1
	case KindAnd, KindOr:
		return 2
	case KindIf:
		return 3
	default:
		return 0
	}
}

// InputSet is the ordered, immutable list of named boolean inputs a tree reads.
// Terminals reference inputs by index; the set itself is shared read-only.
type InputSet struct {
	names []string
	index map[string]int
}

func NewInputSet(names ...string) (*InputSet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("input set requires at least one name")
	}
	set := &InputSet{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, name := range set.names {
		if name == "" || strings.ContainsAny(name, " \t\n()") {
			return nil, fmt.Errorf("invalid input name %q", name)
		}
		if isKeyword(name) {
			return nil, fmt.Errorf("input name %q collides with an operator keyword", name)
		}
		if _, dup := set.index[name]; dup {
			return nil, fmt.Errorf("duplicate input name %q", name)
		}
		set.index[name] = i
	}
	return set, nil
}

func (s *InputSet) Len() int { return len(s.names) }

func (s *InputSet) Name(i int) string { return s.names[i] }

func (s *InputSet) Names() []string { return append([]string(nil), s.names...) }

func (s *InputSet) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Node is one expression tree node. The zero value is not usable; build nodes
// with the constructors or RandomNode.
//
// A node is owned by exactly one parent slot, or by the population when it is
// a root. Subtrees move only through ReplaceChild and ExchangeChildren and are
// duplicated only through Clone.
type Node struct {
	kind     Kind
	input    int
	inputs   *InputSet
	children [3]*Node
}

func Terminal(inputs *InputSet, index int) (*Node, error) {
	if inputs == nil {
		return nil, fmt.Errorf("%w: terminal requires an input set", ErrStructural)
	}
	if index < 0 || index >= inputs.Len() {
		return nil, fmt.Errorf("%w: terminal index %d outside [0,%d)", ErrStructural, index, inputs.Len())
	}
	return &Node{kind: KindTerminal, input: index, inputs: inputs}, nil
}

func Not(child *Node) *Node { return &Node{kind: KindNot, children: [3]*Node{child}} }

func And(first, second *Node) *Node {
	return &Node{kind: KindAnd, children: [3]*Node{first, second}}
}

func Or(first, second *Node) *Node {
	return &Node{kind: KindOr, children: [3]*Node{first, second}}
}

func If(condition, trueCase, falseCase *Node) *Node {
	return &Node{kind: KindIf, children: [3]*Node{condition, trueCase, falseCase}}
}

func (n *Node) Kind() Kind { return n.kind }

// Input returns the input index of a terminal, or -1 for operator nodes.
func (n *Node) Input() int {
	if n.kind != KindTerminal {
		return -1
	}
	return n.input
}

// Evaluate computes the node's value for one truth row.
func (n *Node) Evaluate(row []bool) (bool, error) {
	switch n.kind {
	case KindTerminal:
		if len(row) != n.inputs.Len() {
			return false, fmt.Errorf("%w: got %d values, want %d", ErrInputMismatch, len(row), n.inputs.Len())
		}
		return row[n.input], nil
	case KindNot:
		v, err := n.children[0].Evaluate(row)
		return !v, err
	case KindAnd:
		first, err := n.children[0].Evaluate(row)
		if err != nil {
			return false, err
		}
		second, err := n.children[1].Evaluate(row)
		return first && second, err
	case KindOr:
		first, err := n.children[0].Evaluate(row)
		if err != nil {
			return false, err
		}
		second, err := n.children[1].Evaluate(row)
		return first || second, err
	case KindIf:
		cond, err := n.children[0].Evaluate(row)
		if err != nil {
			return false, err
		}
		if cond {
			return n.children[1].Evaluate(row)
		}
		return n.children[2].Evaluate(row)
	default:
		return false, fmt.Errorf("%w: unknown node kind %d", ErrStructural, n.kind)
	}
}

func (n *Node) Depth() int {
	if n.kind == KindTerminal {
		return 0
	}
	deepest := 0
	for _, child := range n.children[:n.kind.Arity()] {
		if d := child.Depth(); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}

// LogicSize counts operator nodes only; terminals contribute zero.
func (n *Node) LogicSize() int {
	if n.kind == KindTerminal {
		return 0
	}
	size := 1
	for _, child := range n.children[:n.kind.Arity()] {
		size += child.LogicSize()
	}
	return size
}

// Clone returns a deep copy that shares no nodes with n.
func (n *Node) Clone() *Node {
	out := &Node{kind: n.kind, input: n.input, inputs: n.inputs}
	for i, child := range n.children[:n.kind.Arity()] {
		out.children[i] = child.Clone()
	}
	return out
}

// String renders the fully parenthesised form, e.g. "( a0 AND ( NOT d1 ) )".
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

// PrettyPrint is an alias of String kept for callers that name the printed
// form explicitly.
func (n *Node) PrettyPrint() string { return n.String() }

func (n *Node) write(b *strings.Builder) {
	switch n.kind {
	case KindTerminal:
		b.WriteString(n.inputs.Name(n.input))
	case KindNot:
		b.WriteString("( NOT ")
		n.children[0].write(b)
		b.WriteString(" )")
	case KindAnd, KindOr:
		b.WriteString("( ")
		n.children[0].write(b)
		b.WriteByte(' ')
		b.WriteString(n.kind.String())
		b.WriteByte(' ')
		n.children[1].write(b)
		b.WriteString(" )")
	case KindIf:
		b.WriteString("( IF ")
		n.children[0].write(b)
		b.WriteString(" THEN ")
		n.children[1].write(b)
		b.WriteString(" ELSE ")
		n.children[2].write(b)
		b.WriteString(" )")
	}
}

// ReplaceChild moves replacement into the given slot and hands back the
// subtree that occupied it. Detach and attach happen as one step, so no other
// operation can observe the slot empty.
func (n *Node) ReplaceChild(slot int, replacement *Node) (*Node, error) {
	if err := n.checkSlot(slot); err != nil {
		return nil, err
	}
	if replacement == nil {
		return nil, fmt.Errorf("%w: cannot attach a nil subtree", ErrStructural)
	}
	if replacement == n {
		return nil, fmt.Errorf("%w: cannot attach a node to itself", ErrStructural)
	}
	detached := n.children[slot]
	n.children[slot] = replacement
	return detached, nil
}

// ExchangeChildren swaps the subtree in a's slot with the subtree in b's slot.
// Neither splice point may lie inside the subtree the other gives up, since
// the swap would then make a node its own descendant.
func ExchangeChildren(a *Node, aSlot int, b *Node, bSlot int) error {
	if err := a.checkSlot(aSlot); err != nil {
		return err
	}
	if err := b.checkSlot(bSlot); err != nil {
		return err
	}
	if a == b {
		return fmt.Errorf("%w: exchange requires two distinct splice points", ErrStructural)
	}
	if a.children[aSlot].contains(b) || b.children[bSlot].contains(a) {
		return fmt.Errorf("%w: exchanged subtrees overlap", ErrStructural)
	}
	a.children[aSlot], b.children[bSlot] = b.children[bSlot], a.children[aSlot]
	return nil
}

func (n *Node) contains(target *Node) bool {
	if n == nil {
		return false
	}
	if n == target {
		return true
	}
	for _, child := range n.children[:n.kind.Arity()] {
		if child.contains(target) {
			return true
		}
	}
	return false
}

func (n *Node) checkSlot(slot int) error {
	if n.kind == KindTerminal {
		return fmt.Errorf("%w: cannot detach from a terminal", ErrStructural)
	}
	if slot < 0 || slot >= n.kind.Arity() {
		return fmt.Errorf("%w: slot %d outside [0,%d) for %s", ErrStructural, slot, n.kind.Arity(), n.kind)
	}
	return nil
}

// Validate reports the first broken structural invariant: an empty slot, a
// node reachable from two places, or a terminal outside its input set.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: nil tree", ErrStructural)
	}
	seen := make(map[*Node]struct{})
	var inputs *InputSet
	var walk func(node *Node, path string) error
	walk = func(node *Node, path string) error {
		if node == nil {
			return fmt.Errorf("%w: empty slot at %s", ErrStructural, path)
		}
		if _, dup := seen[node]; dup {
			return fmt.Errorf("%w: node at %s is shared", ErrStructural, path)
		}
		seen[node] = struct{}{}
		if node.kind == KindTerminal {
			if node.inputs == nil || node.input < 0 || node.input >= node.inputs.Len() {
				return fmt.Errorf("%w: terminal at %s has invalid input", ErrStructural, path)
			}
			if inputs == nil {
				inputs = node.inputs
			} else if inputs != node.inputs {
				return fmt.Errorf("%w: terminal at %s uses a foreign input set", ErrStructural, path)
			}
			return nil
		}
		arity := node.kind.Arity()
		if arity == 0 {
			return fmt.Errorf("%w: unknown node kind %d at %s", ErrStructural, node.kind, path)
		}
		for i := arity; i < len(node.children); i++ {
			if node.children[i] != nil {
				return fmt.Errorf("%w: %s at %s has a child beyond its arity", ErrStructural, node.kind, path)
			}
		}
		for i, child := range node.children[:arity] {
			if err := walk(child, fmt.Sprintf("%s/%d", path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n, "root")
}

// Count returns the total number of nodes, terminals included.
func (n *Node) Count() int {
	total := 1
	for _, child := range n.children[:n.kind.Arity()] {
		total += child.Count()
	}
	return total
}

// Inputs returns the input set the tree's terminals reference.
func (n *Node) Inputs() *InputSet {
	for n.kind != KindTerminal {
		n = n.children[0]
	}
	return n.inputs
}
