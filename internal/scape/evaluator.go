package scape

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

// Evaluator scores trees against a target over its full truth table. The
// table and expected outputs are enumerated once; row r assigns bit j of r to
// input j.
//
// Fitness is the fraction of matching rows, except that a tree deeper than
// maximumDepth scores 0, a perfect tree always scores exactly 1, and an
// imperfect tree deeper than disfavorDepth is scaled linearly down to 0 at
// maximumDepth.
type Evaluator struct {
	target        Target
	maximumDepth  int
	disfavorDepth int

	rows     int
	columns  expr.Columns
	expected []uint64
	lastMask uint64
}

func NewEvaluator(target Target, maximumDepth, disfavorDepth int) (*Evaluator, error) {
	if target == nil {
		return nil, fmt.Errorf("target is required")
	}
	if disfavorDepth < 0 {
		return nil, fmt.Errorf("disfavor depth must be >= 0, got %d", disfavorDepth)
	}
	if disfavorDepth >= maximumDepth {
		return nil, fmt.Errorf("disfavor depth %d must be < maximum depth %d", disfavorDepth, maximumDepth)
	}
	inputs := target.Inputs()
	n := inputs.Len()
	if n > maxInputs {
		return nil, fmt.Errorf("target %s has %d inputs, limit is %d", target.Name(), n, maxInputs)
	}

	rows := 1 << n
	words := (rows + 63) / 64
	e := &Evaluator{
		target:        target,
		maximumDepth:  maximumDepth,
		disfavorDepth: disfavorDepth,
		rows:          rows,
		columns:       make(expr.Columns, n),
		expected:      make([]uint64, words),
		lastMask:      ^uint64(0),
	}
	if rem := rows % 64; rem != 0 {
		e.lastMask = 1<<rem - 1
	}
	for j := range e.columns {
		e.columns[j] = make([]uint64, words)
	}

	row := make([]bool, n)
	for r := 0; r < rows; r++ {
		w, b := r/64, uint(r%64)
		for j := range row {
			row[j] = r&(1<<j) != 0
			if row[j] {
				e.columns[j][w] |= 1 << b
			}
		}
		if target.Expected(row) {
			e.expected[w] |= 1 << b
		}
	}
	return e, nil
}

func (e *Evaluator) Target() Target { return e.target }

func (e *Evaluator) Rows() int { return e.rows }

func (e *Evaluator) MaximumDepth() int { return e.maximumDepth }

func (e *Evaluator) DisfavorDepth() int { return e.disfavorDepth }

// Row returns the truth row with index r.
func (e *Evaluator) Row(r int) []bool {
	row := make([]bool, len(e.columns))
	for j := range row {
		row[j] = r&(1<<j) != 0
	}
	return row
}

// Correct counts the rows on which tree reproduces the target.
func (e *Evaluator) Correct(tree *expr.Node) (int, error) {
	if tree.Inputs() != e.target.Inputs() {
		return 0, fmt.Errorf("%w: tree does not use the inputs of target %s", expr.ErrInputMismatch, e.target.Name())
	}
	out := make([]uint64, len(e.expected))
	if err := tree.EvaluateColumns(e.columns, out); err != nil {
		return 0, err
	}
	correct := 0
	for w, got := range out {
		match := ^(got ^ e.expected[w])
		if w == len(out)-1 {
			match &= e.lastMask
		}
		correct += bits.OnesCount64(match)
	}
	return correct, nil
}

func (e *Evaluator) Fitness(tree *expr.Node) (float64, error) {
	depth := tree.Depth()
	if depth > e.maximumDepth {
		return 0, nil
	}
	correct, err := e.Correct(tree)
	if err != nil {
		return 0, err
	}
	return e.shape(correct, depth), nil
}

func (e *Evaluator) shape(correct, depth int) float64 {
	if correct == e.rows {
		return 1
	}
	fitness := float64(correct) / float64(e.rows)
	if depth > e.disfavorDepth {
		factor := float64(e.maximumDepth-depth) / float64(e.maximumDepth-e.disfavorDepth)
		fitness *= factor
	}
	return fitness
}

// Evaluate scores tree and reports the raw match counts alongside.
func (e *Evaluator) Evaluate(ctx context.Context, tree *expr.Node) (Fitness, Trace, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	depth := tree.Depth()
	trace := Trace{
		"target":     e.target.Name(),
		"rows":       e.rows,
		"depth":      depth,
		"logic_size": tree.LogicSize(),
	}
	if depth > e.maximumDepth {
		trace["cutoff"] = true
		return 0, trace, nil
	}
	correct, err := e.Correct(tree)
	if err != nil {
		return 0, nil, err
	}
	trace["correct"] = correct
	return Fitness(e.shape(correct, depth)), trace, nil
}

// Mismatch is a truth row on which a tree disagrees with the target.
type Mismatch struct {
	Row      int    `json:"row"`
	Values   []bool `json:"values"`
	Expected bool   `json:"expected"`
	Got      bool   `json:"got"`
}

// Verify re-evaluates tree one row at a time, independently of the packed
// path used by Fitness, and returns every row it gets wrong. Depth limits are
// not applied.
func (e *Evaluator) Verify(tree *expr.Node) ([]Mismatch, error) {
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	var mismatches []Mismatch
	for r := 0; r < e.rows; r++ {
		row := e.Row(r)
		got, err := tree.Evaluate(row)
		if err != nil {
			return nil, err
		}
		want := e.target.Expected(row)
		if got != want {
			mismatches = append(mismatches, Mismatch{Row: r, Values: row, Expected: want, Got: got})
		}
	}
	return mismatches, nil
}
