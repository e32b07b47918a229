package model

import (
	"fmt"

	"digitforge/internal/ndarray"
)

// Mlp is a multilayer perceptron: Linear+ReLU for every hidden size followed
// by a final Linear producing output logits.
type Mlp struct {
	*Sequential
	input  int
	output int
	hidden []int
}

// NewMlp builds an MLP for flattened inputs of size input.
func NewMlp(input, output int, hidden []int) *Mlp {
	seq := NewSequential()
	prev := input
	for i, h := range hidden {
		seq.Add(NewLinear(fmt.Sprintf("linear%d", i), prev, h))
		seq.Add(NewReLU(h))
		prev = h
	}
	seq.Add(NewLinear(fmt.Sprintf("linear%d", len(hidden)), prev, output))
	return &Mlp{
		Sequential: seq,
		input:      input,
		output:     output,
		hidden:     append([]int(nil), hidden...),
	}
}

// InputShape implements Block.
func (m *Mlp) InputShape() ndarray.Shape { return ndarray.Shape{m.input} }

// OutputShape implements Block.
func (m *Mlp) OutputShape() ndarray.Shape { return ndarray.Shape{m.output} }

func (m *Mlp) String() string {
	return fmt.Sprintf("Mlp(input=%d, output=%d, hidden=%v)", m.input, m.output, m.hidden)
}
