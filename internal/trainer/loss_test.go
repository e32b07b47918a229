package trainer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSoftmaxCrossEntropyValues(t *testing.T) {
	l := NewSoftmaxCrossEntropyLoss()
	assert.Equal(t, "SoftmaxCrossEntropyLoss", l.Name())

	pred := mat.NewDense(2, 2, []float64{0, 0, 1000, 0})
	v, err := l.Evaluate([]int{0, 0}, pred)
	require.NoError(t, err)
	// ln2 for the uniform row, ~0 for the confident one; stays finite
	assert.InDelta(t, math.Ln2/2, v, 1e-9)

	loss, grad, err := l.Gradient([]int{0, 0}, pred)
	require.NoError(t, err)
	assert.InDelta(t, v, loss, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.25, 0.25}, grad.RawRowView(0), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0}, grad.RawRowView(1), 1e-12)
}

func TestSoftmaxCrossEntropyGradientNumeric(t *testing.T) {
	l := NewSoftmaxCrossEntropyLoss()
	pred := mat.NewDense(2, 3, []float64{0.2, -1.3, 0.8, 2.1, 0.4, -0.6})
	labels := []int{2, 0}
	_, grad, err := l.Gradient(labels, pred)
	require.NoError(t, err)

	const eps = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			orig := pred.At(i, j)
			pred.Set(i, j, orig+eps)
			plus, err := l.Evaluate(labels, pred)
			require.NoError(t, err)
			pred.Set(i, j, orig-eps)
			minus, err := l.Evaluate(labels, pred)
			require.NoError(t, err)
			pred.Set(i, j, orig)
			assert.InDelta(t, (plus-minus)/(2*eps), grad.At(i, j), 1e-6)
		}
	}
}

func TestAccumulators(t *testing.T) {
	acc := NewAccuracy()
	acc.AddAccumulator(TrainKey)
	_, err := acc.Accumulator(TrainKey)
	assert.Error(t, err, "empty accumulator")

	pred := mat.NewDense(4, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		1, 0, 0,
	})
	require.NoError(t, acc.UpdateAccumulator(TrainKey, []int{0, 1, 2, 2}, pred))
	require.NoError(t, acc.UpdateAccumulator(TrainKey, []int{0, 0, 0, 0}, pred))
	v, err := acc.Accumulator(TrainKey)
	require.NoError(t, err)
	assert.Equal(t, 5.0/8, v)

	single, err := acc.Evaluate([]int{0, 1, 2, 2}, pred)
	require.NoError(t, err)
	assert.Equal(t, 0.75, single)

	acc.ResetAccumulator(TrainKey)
	_, err = acc.Accumulator(TrainKey)
	assert.Error(t, err)

	assert.Error(t, acc.UpdateAccumulator(ValidateKey, []int{0, 1, 2, 2}, pred), "unknown key")
	assert.Error(t, acc.UpdateAccumulator(TrainKey, []int{0, 1, 2}, pred), "label count")
	assert.Error(t, acc.UpdateAccumulator(TrainKey, []int{0, 1, 2, 3}, pred), "label range")
}
