// Package trainer fits models on datasets: losses, evaluators, optimizers,
// the training loop and its listeners.
package trainer

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"digitforge/internal/dataset"
	"digitforge/internal/metrics"
	"digitforge/internal/model"
	"digitforge/internal/ndarray"
)

// ErrDiverged is returned when the training loss becomes NaN or infinite.
var ErrDiverged = errors.New("trainer: loss diverged")

// Trainer optimizes the block of a model. It owns a tensor manager that is
// the parent of every batch manager and is released by Close.
type Trainer struct {
	id      uuid.UUID
	model   *model.Model
	cfg     *TrainingConfig
	manager *ndarray.Manager
	metrics *metrics.Metrics

	evaluators  []Evaluator
	epoch       int
	evaluations map[string]float64
	initialized bool
	closed      bool
}

// New returns a trainer for m. The model must have a block.
func New(m *model.Model, cfg *TrainingConfig) (*Trainer, error) {
	if m.Block() == nil {
		return nil, model.ErrNoBlock
	}
	if cfg == nil || cfg.loss == nil {
		return nil, errors.New("trainer: training config needs a loss")
	}
	for _, d := range cfg.devices {
		if !d.IsCPU() {
			return nil, fmt.Errorf("trainer: device %s is not supported", d)
		}
	}
	evaluators := append([]Evaluator{cfg.loss}, cfg.evaluators...)
	return &Trainer{
		id:          uuid.New(),
		model:       m,
		cfg:         cfg,
		manager:     ndarray.NewBaseManager(),
		evaluators:  evaluators,
		evaluations: map[string]float64{},
	}, nil
}

// ID identifies the training run in logs.
func (t *Trainer) ID() string { return t.id.String() }

// Model returns the trained model.
func (t *Trainer) Model() *model.Model { return t.model }

// Config returns the training config.
func (t *Trainer) Config() *TrainingConfig { return t.cfg }

// Manager is the parent manager for batches.
func (t *Trainer) Manager() *ndarray.Manager { return t.manager }

// SetMetrics attaches a metrics collection used by listeners.
func (t *Trainer) SetMetrics(m *metrics.Metrics) { t.metrics = m }

// Metrics returns the attached collection, nil if none.
func (t *Trainer) Metrics() *metrics.Metrics { return t.metrics }

// Epoch is the number of completed epochs.
func (t *Trainer) Epoch() int { return t.epoch }

// Initialize initializes the block parameters for inputs of the given shape,
// whose first dimension is the batch.
func (t *Trainer) Initialize(shapes ...ndarray.Shape) error {
	if t.closed {
		return ndarray.ErrClosed
	}
	block := t.model.Block()
	want := block.InputShape().Size()
	for _, s := range shapes {
		if s.Rank() < 2 || s[1:].Size() != want {
			return fmt.Errorf("trainer: input shape %s does not match block input %s: %w", s, block.InputShape(), ndarray.ErrShapeMismatch)
		}
	}
	block.Initialize(t.cfg.initializer, rand.New(rand.NewSource(t.cfg.seed)))
	for _, e := range t.evaluators {
		e.AddAccumulator(TrainKey)
		e.AddAccumulator(ValidateKey)
	}
	t.initialized = true
	slog.Debug("trainer initialized", "run", t.ID(), "model", t.model.Name(), "block", block, "devices", t.cfg.devices)
	return t.notify(func(l TrainingListener) error { return l.OnTrainingBegin(t) })
}

// TrainBatch runs forward and backward over a batch, accumulating gradients
// and training evaluations. It returns the mean batch loss.
func (t *Trainer) TrainBatch(b *dataset.Batch) (float64, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	x, labels, err := batchInputs(b)
	if err != nil {
		return 0, err
	}
	block := t.model.Block()
	pred, err := block.Forward(x, true)
	if err != nil {
		return 0, err
	}
	loss, grad, err := t.cfg.loss.Gradient(labels, pred)
	if err != nil {
		return 0, err
	}
	if _, err := block.Backward(grad); err != nil {
		return 0, err
	}
	if err := t.updateAccumulators(TrainKey, labels, pred); err != nil {
		return 0, err
	}
	return loss, nil
}

// ValidateBatch runs inference over a batch and accumulates validation
// evaluations.
func (t *Trainer) ValidateBatch(b *dataset.Batch) error {
	if err := t.ready(); err != nil {
		return err
	}
	x, labels, err := batchInputs(b)
	if err != nil {
		return err
	}
	pred, err := t.model.Block().Forward(x, false)
	if err != nil {
		return err
	}
	return t.updateAccumulators(ValidateKey, labels, pred)
}

// Step applies the optimizer to the accumulated gradients and clears them.
func (t *Trainer) Step() {
	params := t.model.Block().Parameters()
	t.cfg.optimizer.Update(params)
	for _, p := range params {
		p.ZeroGrad()
	}
}

// EndEpoch records the epoch evaluations, notifies listeners and resets the
// accumulators.
func (t *Trainer) EndEpoch() error {
	if err := t.ready(); err != nil {
		return err
	}
	t.epoch++
	evaluations := map[string]float64{}
	for _, e := range t.evaluators {
		name := evaluatorKey(e, t.cfg.loss)
		for _, key := range []string{TrainKey, ValidateKey} {
			v, err := e.Accumulator(key)
			if err != nil {
				// phase not run this epoch
				continue
			}
			evaluations[EvaluationKey(key, name)] = v
			if t.metrics != nil {
				t.metrics.AddMetric(EvaluationKey(key, name), v, "")
			}
		}
	}
	t.evaluations = evaluations
	err := t.notify(func(l TrainingListener) error { return l.OnEpoch(t) })
	for _, e := range t.evaluators {
		e.ResetAccumulator(TrainKey)
		e.ResetAccumulator(ValidateKey)
	}
	return err
}

// Result returns the evaluations of the last completed epoch.
func (t *Trainer) Result() Result {
	return Result{Epoch: t.epoch, Evaluations: maps.Clone(t.evaluations)}
}

// Close notifies listeners that training ended and releases the manager. It
// is safe to call more than once.
func (t *Trainer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var err error
	if t.initialized {
		err = t.notify(func(l TrainingListener) error { return l.OnTrainingEnd(t) })
	}
	t.manager.Close()
	return err
}

func (t *Trainer) ready() error {
	if t.closed {
		return ndarray.ErrClosed
	}
	if !t.initialized {
		return errors.New("trainer: not initialized")
	}
	return nil
}

func (t *Trainer) notify(fn func(TrainingListener) error) error {
	var errs []error
	for _, l := range t.cfg.listeners {
		if err := fn(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Trainer) updateAccumulators(key string, labels []int, pred *mat.Dense) error {
	for _, e := range t.evaluators {
		if err := e.UpdateAccumulator(key, labels, pred); err != nil {
			return err
		}
	}
	return nil
}

// evaluatorKey reports the loss as "loss" and other evaluators by name.
func evaluatorKey(e Evaluator, loss Loss) string {
	if e == Evaluator(loss) {
		return "loss"
	}
	return e.Name()
}

func batchInputs(b *dataset.Batch) (*mat.Dense, []int, error) {
	flat, err := b.Data.BatchFlatten()
	if err != nil {
		return nil, nil, err
	}
	defer flat.Close()
	x, err := flat.ToDense()
	if err != nil {
		return nil, nil, err
	}
	raw, err := b.Labels.Int32s()
	if err != nil {
		return nil, nil, err
	}
	labels := make([]int, len(raw))
	for i, l := range raw {
		labels[i] = int(l)
	}
	return x, labels, nil
}
