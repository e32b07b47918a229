package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"digitforge/internal/model"
)

func param(value, grad []float64) *model.Parameter {
	return &model.Parameter{
		Name:  "p",
		Value: mat.NewDense(1, len(value), value),
		Grad:  mat.NewDense(1, len(grad), grad),
	}
}

func TestAdamFirstStepIsSignScaled(t *testing.T) {
	p := param([]float64{1, 1, 1}, []float64{0.5, -20, 0})
	adam := NewAdam()
	adam.Update([]*model.Parameter{p})
	assert.InDeltaSlice(t, []float64{0.999, 1.001, 1}, p.Value.RawRowView(0), 1e-6)
}

func TestSGD(t *testing.T) {
	p := param([]float64{1, 2}, []float64{1, -1})
	NewSGD(0.1, 0).Update([]*model.Parameter{p})
	assert.InDeltaSlice(t, []float64{0.9, 2.1}, p.Value.RawRowView(0), 1e-12)

	q := param([]float64{0}, []float64{1})
	sgd := NewSGD(0.1, 0.9)
	sgd.Update([]*model.Parameter{q})
	sgd.Update([]*model.Parameter{q})
	// v1 = -0.1, v2 = 0.9*-0.1 - 0.1 = -0.19
	assert.InDelta(t, -0.29, q.Value.At(0, 0), 1e-12)
}
