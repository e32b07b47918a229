package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"digitforge/internal/ndarray"
)

// ReLU clamps negative activations to zero.
type ReLU struct {
	size int
	mask *mat.Dense
}

// NewReLU returns a ReLU over size features.
func NewReLU(size int) *ReLU {
	return &ReLU{size: size}
}

// InputShape implements Block.
func (r *ReLU) InputShape() ndarray.Shape { return ndarray.Shape{r.size} }

// OutputShape implements Block.
func (r *ReLU) OutputShape() ndarray.Shape { return ndarray.Shape{r.size} }

// Forward implements Block.
func (r *ReLU) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, x)
	if training {
		r.mask = &y
	} else {
		r.mask = nil
	}
	return &y, nil
}

// Backward implements Block.
func (r *ReLU) Backward(dout *mat.Dense) (*mat.Dense, error) {
	if r.mask == nil {
		return nil, ErrNoForward
	}
	var dx mat.Dense
	dx.Apply(func(i, j int, v float64) float64 {
		if r.mask.At(i, j) > 0 {
			return v
		}
		return 0
	}, dout)
	r.mask = nil
	return &dx, nil
}

// Parameters implements Block.
func (r *ReLU) Parameters() []*Parameter { return nil }

// Initialize implements Block.
func (r *ReLU) Initialize(Initializer, *rand.Rand) {}
