package trainer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accumulator keys used by the trainer.
const (
	TrainKey    = "train"
	ValidateKey = "validate"
)

// Evaluator scores predictions against labels. Scores can be accumulated
// under independent keys, one per phase.
type Evaluator interface {
	Name() string
	// Evaluate returns the mean score of one batch.
	Evaluate(labels []int, pred *mat.Dense) (float64, error)
	AddAccumulator(key string)
	ResetAccumulator(key string)
	UpdateAccumulator(key string, labels []int, pred *mat.Dense) error
	Accumulator(key string) (float64, error)
}

type tally struct {
	total float64
	count int
}

// accumulators keeps per-key sums for an evaluator.
type accumulators map[string]*tally

func (a accumulators) add(key string) {
	if _, ok := a[key]; !ok {
		a[key] = &tally{}
	}
}

func (a accumulators) reset(key string) {
	if t, ok := a[key]; ok {
		*t = tally{}
	}
}

func (a accumulators) update(name, key string, total float64, count int) error {
	t, ok := a[key]
	if !ok {
		return fmt.Errorf("%s: no accumulator %q", name, key)
	}
	t.total += total
	t.count += count
	return nil
}

func (a accumulators) mean(name, key string) (float64, error) {
	t, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%s: no accumulator %q", name, key)
	}
	if t.count == 0 {
		return 0, fmt.Errorf("%s: accumulator %q is empty", name, key)
	}
	return t.total / float64(t.count), nil
}

func checkBatch(name string, labels []int, pred *mat.Dense) error {
	rows, cols := pred.Dims()
	if rows != len(labels) {
		return fmt.Errorf("%s: %d labels for %d predictions", name, len(labels), rows)
	}
	for _, l := range labels {
		if l < 0 || l >= cols {
			return fmt.Errorf("%s: label %d out of range [0, %d)", name, l, cols)
		}
	}
	return nil
}

// Accuracy is the fraction of rows whose highest score is the label.
type Accuracy struct {
	acc accumulators
}

// NewAccuracy returns an accuracy evaluator named "Accuracy".
func NewAccuracy() *Accuracy {
	return &Accuracy{acc: accumulators{}}
}

// Name implements Evaluator.
func (a *Accuracy) Name() string { return "Accuracy" }

func (a *Accuracy) correct(labels []int, pred *mat.Dense) (int, error) {
	if err := checkBatch(a.Name(), labels, pred); err != nil {
		return 0, err
	}
	n := 0
	for i, l := range labels {
		if floats.MaxIdx(pred.RawRowView(i)) == l {
			n++
		}
	}
	return n, nil
}

// Evaluate implements Evaluator.
func (a *Accuracy) Evaluate(labels []int, pred *mat.Dense) (float64, error) {
	n, err := a.correct(labels, pred)
	if err != nil {
		return 0, err
	}
	return float64(n) / float64(len(labels)), nil
}

// AddAccumulator implements Evaluator.
func (a *Accuracy) AddAccumulator(key string) { a.acc.add(key) }

// ResetAccumulator implements Evaluator.
func (a *Accuracy) ResetAccumulator(key string) { a.acc.reset(key) }

// UpdateAccumulator implements Evaluator.
func (a *Accuracy) UpdateAccumulator(key string, labels []int, pred *mat.Dense) error {
	n, err := a.correct(labels, pred)
	if err != nil {
		return err
	}
	return a.acc.update(a.Name(), key, float64(n), len(labels))
}

// Accumulator implements Evaluator.
func (a *Accuracy) Accumulator(key string) (float64, error) { return a.acc.mean(a.Name(), key) }
