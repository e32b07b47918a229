package model

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"digitforge/internal/ndarray"
)

// Linear is a fully connected layer y = x·Wᵀ + b with W of shape (out, in).
type Linear struct {
	in, out int
	weight  *Parameter
	bias    *Parameter
	input   *mat.Dense
}

// NewLinear returns an uninitialized layer; parameters start at zero.
func NewLinear(name string, in, out int) *Linear {
	return &Linear{
		in:     in,
		out:    out,
		weight: newParameter(name+".weight", out, in, nil),
		bias:   newParameter(name+".bias", 1, out, Zeros),
	}
}

// InputShape implements Block.
func (l *Linear) InputShape() ndarray.Shape { return ndarray.Shape{l.in} }

// OutputShape implements Block.
func (l *Linear) OutputShape() ndarray.Shape { return ndarray.Shape{l.out} }

// Forward implements Block.
func (l *Linear) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != l.in {
		return nil, errors.Wrapf(ndarray.ErrShapeMismatch, "linear %s: input has %d features, want %d", l.weight.Name, cols, l.in)
	}
	y := mat.NewDense(rows, l.out, nil)
	y.Mul(x, l.weight.Value.T())
	bias := l.bias.Value.RawRowView(0)
	for r := 0; r < rows; r++ {
		row := y.RawRowView(r)
		for c := range row {
			row[c] += bias[c]
		}
	}
	if training {
		l.input = x
	} else {
		l.input = nil
	}
	return y, nil
}

// Backward implements Block.
func (l *Linear) Backward(dout *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, ErrNoForward
	}
	var dw mat.Dense
	dw.Mul(dout.T(), l.input)
	l.weight.Grad.Add(l.weight.Grad, &dw)

	rows, _ := dout.Dims()
	db := l.bias.Grad.RawRowView(0)
	for r := 0; r < rows; r++ {
		for c, v := range dout.RawRowView(r) {
			db[c] += v
		}
	}

	dx := mat.NewDense(rows, l.in, nil)
	dx.Mul(dout, l.weight.Value)
	l.input = nil
	return dx, nil
}

// Parameters implements Block.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Initialize implements Block.
func (l *Linear) Initialize(init Initializer, rng *rand.Rand) {
	for _, p := range l.Parameters() {
		pi := init
		if p.Init != nil {
			pi = p.Init
		}
		pi.Initialize(p.Value, l.in, l.out, rng)
		p.ZeroGrad()
	}
}
