// Package inference runs trained models on application inputs through
// translators.
package inference

import (
	"sync"

	"github.com/pkg/errors"

	"digitforge/internal/model"
	"digitforge/internal/ndarray"
)

// Translator converts between application values and model tensors. Inputs
// are processed one example at a time without a batch dimension; the
// predictor stacks them.
type Translator[I, O any] interface {
	ProcessInput(m *ndarray.Manager, input I) (*ndarray.NDArray, error)
	ProcessOutput(m *ndarray.Manager, output *ndarray.NDArray) (O, error)
}

// ErrPredictorClosed is returned by a closed predictor.
var ErrPredictorClosed = errors.New("inference: predictor closed")

// Predictor runs a model through a translator. Calls are serialized.
type Predictor[I, O any] struct {
	mu         sync.Mutex
	model      *model.Model
	translator Translator[I, O]
	manager    *ndarray.Manager
	closed     bool
}

// NewPredictor returns a predictor for m.
func NewPredictor[I, O any](m *model.Model, t Translator[I, O]) *Predictor[I, O] {
	return &Predictor[I, O]{model: m, translator: t, manager: ndarray.NewBaseManager()}
}

// Predict runs a single input.
func (p *Predictor[I, O]) Predict(input I) (O, error) {
	out, err := p.BatchPredict([]I{input})
	if err != nil {
		var zero O
		return zero, err
	}
	return out[0], nil
}

// BatchPredict runs inputs as one batch. Every input must translate to the
// same shape.
func (p *Predictor[I, O]) BatchPredict(inputs []I) ([]O, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPredictorClosed
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	m := p.manager.NewSubManager()
	defer m.Close()

	var (
		shape ndarray.Shape
		data  []float64
	)
	for i, in := range inputs {
		x, err := p.translator.ProcessInput(m, in)
		if err != nil {
			return nil, errors.Wrapf(err, "process input %d", i)
		}
		if i == 0 {
			shape = x.Shape()
		} else if !x.Shape().Equal(shape) {
			return nil, errors.Wrapf(ndarray.ErrShapeMismatch, "input %d has shape %s, want %s", i, x.Shape(), shape)
		}
		vals, err := x.Float64s()
		if err != nil {
			return nil, err
		}
		data = append(data, vals...)
	}
	batch, err := m.Create(data, append(ndarray.Shape{len(inputs)}, shape...))
	if err != nil {
		return nil, err
	}
	batch, err = batch.ToType(ndarray.Float32)
	if err != nil {
		return nil, err
	}
	pred, err := p.model.Forward(batch)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	rows, err := pred.Float64s()
	if err != nil {
		return nil, err
	}
	width := pred.Shape().Size() / len(inputs)
	outputs := make([]O, len(inputs))
	for i := range inputs {
		row, err := m.Create(append([]float64(nil), rows[i*width:(i+1)*width]...), ndarray.Shape{width})
		if err != nil {
			return nil, err
		}
		if outputs[i], err = p.translator.ProcessOutput(m, row); err != nil {
			return nil, errors.Wrapf(err, "process output %d", i)
		}
	}
	return outputs, nil
}

// Close releases the predictor. The model stays open.
func (p *Predictor[I, O]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.manager.Close()
}
