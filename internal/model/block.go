package model

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"digitforge/internal/ndarray"
)

// Parameter is a trainable tensor of a block together with its gradient.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
	// Init overrides the initializer passed to Block.Initialize.
	Init Initializer
}

func newParameter(name string, rows, cols int, init Initializer) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
		Init:  init,
	}
}

// Shape returns the parameter dimensions.
func (p *Parameter) Shape() ndarray.Shape {
	r, c := p.Value.Dims()
	return ndarray.Shape{r, c}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Block is a differentiable layer operating on row-major minibatches, one
// example per row.
type Block interface {
	// InputShape is the per-example input shape.
	InputShape() ndarray.Shape
	// OutputShape is the per-example output shape.
	OutputShape() ndarray.Shape
	// Forward computes the block output. With training set the block keeps
	// what Backward needs.
	Forward(x *mat.Dense, training bool) (*mat.Dense, error)
	// Backward accumulates parameter gradients from dout, the gradient of
	// the loss with respect to the last training Forward output, and returns
	// the gradient with respect to that Forward's input.
	Backward(dout *mat.Dense) (*mat.Dense, error)
	Parameters() []*Parameter
	Initialize(init Initializer, rng *rand.Rand)
}

// ErrNoForward is returned by Backward without a preceding training Forward.
var ErrNoForward = errors.New("model: backward without training forward")

// Sequential chains blocks.
type Sequential struct {
	blocks []Block
}

// NewSequential returns a block running blocks in order.
func NewSequential(blocks ...Block) *Sequential {
	return &Sequential{blocks: blocks}
}

// Add appends a block.
func (s *Sequential) Add(b Block) *Sequential {
	s.blocks = append(s.blocks, b)
	return s
}

// Children returns the chained blocks.
func (s *Sequential) Children() []Block {
	return s.blocks
}

// InputShape implements Block.
func (s *Sequential) InputShape() ndarray.Shape {
	if len(s.blocks) == 0 {
		return nil
	}
	return s.blocks[0].InputShape()
}

// OutputShape implements Block.
func (s *Sequential) OutputShape() ndarray.Shape {
	if len(s.blocks) == 0 {
		return nil
	}
	return s.blocks[len(s.blocks)-1].OutputShape()
}

// Forward implements Block.
func (s *Sequential) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	var err error
	for _, b := range s.blocks {
		if x, err = b.Forward(x, training); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Backward implements Block.
func (s *Sequential) Backward(dout *mat.Dense) (*mat.Dense, error) {
	var err error
	for i := len(s.blocks) - 1; i >= 0; i-- {
		if dout, err = s.blocks[i].Backward(dout); err != nil {
			return nil, err
		}
	}
	return dout, nil
}

// Parameters implements Block.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, b := range s.blocks {
		params = append(params, b.Parameters()...)
	}
	return params
}

// Initialize implements Block.
func (s *Sequential) Initialize(init Initializer, rng *rand.Rand) {
	for _, b := range s.blocks {
		b.Initialize(init, rng)
	}
}
