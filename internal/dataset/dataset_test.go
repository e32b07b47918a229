package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitforge/internal/ndarray"
)

func newTestArrayDataset(t *testing.T, n, batchSize int) *ArrayDataset {
	t.Helper()
	pixels := make([]uint8, n*4)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < 4; j++ {
			pixels[i*4+j] = uint8(i * 10)
		}
		labels[i] = i % 10
	}
	ds, err := NewArrayDataset(pixels, labels, ndarray.Shape{2, 2, 1}, NewSampler(batchSize, false, 0), nil)
	require.NoError(t, err)
	return ds
}

func TestNewArrayDatasetValidates(t *testing.T) {
	_, err := NewArrayDataset(make([]uint8, 3), []int{1}, ndarray.Shape{2, 2, 1}, nil, nil)
	assert.Error(t, err)
	_, err = NewArrayDataset(make([]uint8, 4), []int{1}, ndarray.Shape{4}, nil, nil)
	assert.Error(t, err)
}

func TestArrayDatasetGet(t *testing.T) {
	ds := newTestArrayDataset(t, 3, 2)
	m := ndarray.NewBaseManager()
	defer m.Close()

	rec, err := ds.Get(m, 2)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{1, 2, 2}, rec.Data.Shape())
	v, err := rec.Data.Get(0, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 20.0/255, v, 1e-6)
	label, err := rec.Label.Get()
	require.NoError(t, err)
	assert.Equal(t, 2.0, label)

	_, err = ds.Get(m, 3)
	assert.Error(t, err)
}

func TestArrayDatasetBatches(t *testing.T) {
	ds := newTestArrayDataset(t, 5, 2)
	m := ndarray.NewBaseManager()
	defer m.Close()

	var sizes []int
	var batches []*Batch
	err := ds.Batches(context.Background(), m, func(b *Batch) error {
		assert.Equal(t, ndarray.Shape{b.Size(), 1, 2, 2}, b.Data.Shape())
		assert.Equal(t, ndarray.Float32, b.Data.DType())
		assert.Equal(t, ndarray.Int32, b.Labels.DType())
		assert.Equal(t, 3, b.Total)
		sizes = append(sizes, b.Size())
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	for _, b := range batches {
		assert.True(t, b.Data.IsClosed())
	}
	assert.Equal(t, 0, m.NumArrays())
}

func TestArrayDatasetBatchesStops(t *testing.T) {
	ds := newTestArrayDataset(t, 6, 2)
	m := ndarray.NewBaseManager()
	defer m.Close()

	stop := errors.New("stop")
	calls := 0
	err := ds.Batches(context.Background(), m, func(*Batch) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ds.Batches(ctx, m, func(*Batch) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUsageString(t *testing.T) {
	assert.Equal(t, "train", Train.String())
	assert.Equal(t, "test", Test.String())
	assert.Equal(t, "validation", Validation.String())
}
