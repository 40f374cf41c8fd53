package scape

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
	"github.com/bkthomps/GeneticMultiplexer/internal/targetid"
)

type Fitness float64

type Trace map[string]any

var ErrUnknownTarget = errors.New("unknown target")

// Target is the boolean function a tree is evolved to reproduce. Expected is
// called once per truth row when an Evaluator is built, never per tree.
type Target interface {
	Name() string
	Inputs() *expr.InputSet
	Expected(row []bool) bool
}

// AddressedTarget is implemented by targets whose first inputs are address
// pins, so reports can show the split between address and data inputs.
type AddressedTarget interface {
	Target
	AddressPinCount() int
}

// ParseTarget resolves a target name or alias, e.g. "mux6", "mux:3" or
// "threshold:16:7:9".
func ParseTarget(alias string) (Target, error) {
	canonical := targetid.Normalize(alias)
	parts := strings.Split(canonical, ":")
	switch parts[0] {
	case "mux":
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q: want mux:<address pins>", ErrUnknownTarget, alias)
		}
		pins, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: address pins: %v", ErrUnknownTarget, alias, err)
		}
		return NewMultiplexer(pins)
	case "threshold":
		if len(parts) != 4 {
			return nil, fmt.Errorf("%w: %q: want threshold:<inputs>:<lo>:<hi>", ErrUnknownTarget, alias)
		}
		values := make([]int, 3)
		for i, raw := range parts[1:] {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrUnknownTarget, alias, err)
			}
			values[i] = v
		}
		return NewThreshold(values[0], values[1], values[2])
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, alias)
	}
}
