package trainer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"digitforge/internal/ndarray"
)

// Loss is an Evaluator that can also differentiate itself.
type Loss interface {
	Evaluator
	// Gradient returns the mean batch loss and its gradient with respect to
	// pred.
	Gradient(labels []int, pred *mat.Dense) (float64, *mat.Dense, error)
}

// SoftmaxCrossEntropyLoss applies softmax to logits and computes the
// negative log-likelihood of the sparse labels.
type SoftmaxCrossEntropyLoss struct {
	acc accumulators
}

// NewSoftmaxCrossEntropyLoss returns the loss named "SoftmaxCrossEntropyLoss".
func NewSoftmaxCrossEntropyLoss() *SoftmaxCrossEntropyLoss {
	return &SoftmaxCrossEntropyLoss{acc: accumulators{}}
}

// Name implements Evaluator.
func (l *SoftmaxCrossEntropyLoss) Name() string { return "SoftmaxCrossEntropyLoss" }

// rowLoss returns -log softmax(row)[label] computed through log-sum-exp.
func rowLoss(row []float64, label int) float64 {
	return floats.LogSumExp(row) - row[label]
}

func (l *SoftmaxCrossEntropyLoss) total(labels []int, pred *mat.Dense) (float64, error) {
	if err := checkBatch(l.Name(), labels, pred); err != nil {
		return 0, err
	}
	var sum float64
	for i, label := range labels {
		sum += rowLoss(pred.RawRowView(i), label)
	}
	return sum, nil
}

// Evaluate implements Evaluator.
func (l *SoftmaxCrossEntropyLoss) Evaluate(labels []int, pred *mat.Dense) (float64, error) {
	sum, err := l.total(labels, pred)
	if err != nil {
		return 0, err
	}
	return sum / float64(len(labels)), nil
}

// Gradient implements Loss. The gradient is (softmax(pred) - onehot) / n.
func (l *SoftmaxCrossEntropyLoss) Gradient(labels []int, pred *mat.Dense) (float64, *mat.Dense, error) {
	if err := checkBatch(l.Name(), labels, pred); err != nil {
		return 0, nil, err
	}
	rows, cols := pred.Dims()
	grad := mat.NewDense(rows, cols, nil)
	scale := 1 / float64(rows)
	var sum float64
	for i, label := range labels {
		row := pred.RawRowView(i)
		sum += rowLoss(row, label)
		g := grad.RawRowView(i)
		copy(g, row)
		ndarray.SoftmaxInPlace(g)
		g[label] -= 1
		floats.Scale(scale, g)
	}
	return sum / float64(rows), grad, nil
}

// AddAccumulator implements Evaluator.
func (l *SoftmaxCrossEntropyLoss) AddAccumulator(key string) { l.acc.add(key) }

// ResetAccumulator implements Evaluator.
func (l *SoftmaxCrossEntropyLoss) ResetAccumulator(key string) { l.acc.reset(key) }

// UpdateAccumulator implements Evaluator.
func (l *SoftmaxCrossEntropyLoss) UpdateAccumulator(key string, labels []int, pred *mat.Dense) error {
	sum, err := l.total(labels, pred)
	if err != nil {
		return err
	}
	return l.acc.update(l.Name(), key, sum, len(labels))
}

// Accumulator implements Evaluator.
func (l *SoftmaxCrossEntropyLoss) Accumulator(key string) (float64, error) {
	return l.acc.mean(l.Name(), key)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
