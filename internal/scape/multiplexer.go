package scape

import (
	"fmt"

	"github.com/bkthomps/GeneticMultiplexer/internal/expr"
)

// maxInputs bounds the truth table at 2^maxInputs rows.
const maxInputs = 20

// Multiplexer passes through the data pin selected by the address pins. Inputs
// are named a0..a(N-1) followed by d0..d(2^N-1); a0 is the least significant
// address bit.
type Multiplexer struct {
	addressPins int
	inputs      *expr.InputSet
}

func NewMultiplexer(addressPins int) (*Multiplexer, error) {
	if addressPins < 1 {
		return nil, fmt.Errorf("multiplexer requires at least one address pin, got %d", addressPins)
	}
	if addressPins+(1<<addressPins) > maxInputs {
		return nil, fmt.Errorf("multiplexer with %d address pins exceeds %d inputs", addressPins, maxInputs)
	}
	inputs, err := expr.NewInputSet(MultiplexerInputNames(addressPins)...)
	if err != nil {
		return nil, err
	}
	return &Multiplexer{addressPins: addressPins, inputs: inputs}, nil
}

// MultiplexerInputNames returns the address pin names followed by the data pin names.
func MultiplexerInputNames(addressPins int) []string {
	dataPins := 1 << addressPins
	names := make([]string, 0, addressPins+dataPins)
	for i := 0; i < addressPins; i++ {
		names = append(names, fmt.Sprintf("a%d", i))
	}
	for i := 0; i < dataPins; i++ {
		names = append(names, fmt.Sprintf("d%d", i))
	}
	return names
}

func (m *Multiplexer) Name() string {
	return fmt.Sprintf("mux%d", m.inputs.Len())
}

func (m *Multiplexer) Inputs() *expr.InputSet { return m.inputs }

func (m *Multiplexer) AddressPinCount() int { return m.addressPins }

func (m *Multiplexer) Expected(row []bool) bool {
	address := 0
	for i := 0; i < m.addressPins; i++ {
		if row[i] {
			address |= 1 << i
		}
	}
	return row[m.addressPins+address]
}
