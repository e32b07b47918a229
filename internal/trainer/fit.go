package trainer

import (
	"context"
	"fmt"
	"time"

	"digitforge/internal/dataset"
)

// Fit trains for the given number of epochs. After each epoch over train the
// model is evaluated on valid, which may be nil. Cancelling ctx stops
// between batches.
func Fit(ctx context.Context, t *Trainer, epochs int, train, valid dataset.RandomAccess) error {
	if epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be > 0 (got %d)", epochs)
	}
	for e := 0; e < epochs; e++ {
		last := time.Now()
		err := train.Batches(ctx, t.Manager(), func(b *dataset.Batch) error {
			dataTime := time.Since(last)
			start := time.Now()
			loss, err := t.TrainBatch(b)
			if err != nil {
				return err
			}
			t.Step()
			data := BatchData{Batch: b, Loss: loss, DataTime: dataTime, ComputeTime: time.Since(start)}
			if err := t.notify(func(l TrainingListener) error { return l.OnTrainingBatch(t, data) }); err != nil {
				return err
			}
			last = time.Now()
			return nil
		})
		if err != nil {
			return fmt.Errorf("epoch %d: %w", e+1, err)
		}
		if valid != nil {
			if err := evaluate(ctx, t, valid); err != nil {
				return fmt.Errorf("epoch %d validation: %w", e+1, err)
			}
		}
		if err := t.EndEpoch(); err != nil {
			return err
		}
	}
	return nil
}

func evaluate(ctx context.Context, t *Trainer, valid dataset.RandomAccess) error {
	last := time.Now()
	return valid.Batches(ctx, t.Manager(), func(b *dataset.Batch) error {
		dataTime := time.Since(last)
		start := time.Now()
		if err := t.ValidateBatch(b); err != nil {
			return err
		}
		data := BatchData{Batch: b, DataTime: dataTime, ComputeTime: time.Since(start)}
		if err := t.notify(func(l TrainingListener) error { return l.OnValidationBatch(t, data) }); err != nil {
			return err
		}
		last = time.Now()
		return nil
	})
}
