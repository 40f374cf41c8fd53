package scape

import (
	"fmt"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

// Threshold is true when the number of set inputs lies in [Low, High].
// Inputs are named x0..x(K-1).
type Threshold struct {
	low, high int
	inputs    *expr.InputSet
}

func NewThreshold(inputCount, low, high int) (*Threshold, error) {
	if inputCount < 1 || inputCount > maxInputs {
		return nil, fmt.Errorf("threshold input count must be in [1,%d], got %d", maxInputs, inputCount)
	}
	if low < 0 || high > inputCount || low > high {
		return nil, fmt.Errorf("threshold range [%d,%d] invalid for %d inputs", low, high, inputCount)
	}
	names := make([]string, inputCount)
	for i := range names {
		names[i] = fmt.Sprintf("x%d", i)
	}
	inputs, err := expr.NewInputSet(names...)
	if err != nil {
		return nil, err
	}
	return &Threshold{low: low, high: high, inputs: inputs}, nil
}

func (t *Threshold) Name() string {
	return fmt.Sprintf("threshold%d-%d-%d", t.inputs.Len(), t.low, t.high)
}

func (t *Threshold) Inputs() *expr.InputSet { return t.inputs }

func (t *Threshold) Expected(row []bool) bool {
	ones := 0
	for _, v := range row {
		if v {
			ones++
		}
	}
	return ones >= t.low && ones <= t.high
}
