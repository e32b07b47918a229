package dataset

import (
	"context"
	"errors"
	"fmt"

	"digitforge/internal/ndarray"
	"digitforge/internal/vision"
)

// Usage selects which split of a dataset to load.
type Usage int

const (
	Train Usage = iota
	Test
	Validation
)

func (u Usage) String() string {
	switch u {
	case Train:
		return "train"
	case Test:
		return "test"
	case Validation:
		return "validation"
	default:
		return fmt.Sprintf("usage(%d)", int(u))
	}
}

// ErrNotPrepared is returned when records are read before Prepare.
var ErrNotPrepared = errors.New("dataset: not prepared")

// Progress receives preparation progress. Implementations must be safe for
// concurrent use.
type Progress interface {
	Start(total int64)
	Increment(n int64)
	End()
}

type nopProgress struct{}

func (nopProgress) Start(int64)     {}
func (nopProgress) Increment(int64) {}
func (nopProgress) End()            {}

func orNop(p Progress) Progress {
	if p == nil {
		return nopProgress{}
	}
	return p
}

// Record is a single transformed example.
type Record struct {
	Data  *ndarray.NDArray
	Label *ndarray.NDArray
}

// Batch is a minibatch of transformed examples. Its arrays belong to Manager,
// which is closed by Close.
type Batch struct {
	Manager *ndarray.Manager
	Data    *ndarray.NDArray
	Labels  *ndarray.NDArray
	// Index is the position of the batch within the epoch, Total the number
	// of batches in the epoch.
	Index int
	Total int
}

// Size is the number of examples in the batch.
func (b *Batch) Size() int {
	return b.Labels.Shape().Size()
}

// Close releases the batch arrays.
func (b *Batch) Close() {
	b.Manager.Close()
}

// RandomAccess is a dataset that can be indexed and iterated in batches.
type RandomAccess interface {
	Prepare(ctx context.Context, progress Progress) error
	Len() int
	Get(m *ndarray.Manager, index int) (Record, error)
	// Batches calls fn for every minibatch of one epoch. Each batch is
	// closed after fn returns.
	Batches(ctx context.Context, parent *ndarray.Manager, fn func(*Batch) error) error
}

// ArrayDataset holds uint8 images of a fixed (H, W, C) shape in memory and
// applies a transform when records are materialized.
type ArrayDataset struct {
	pixels      []uint8
	labels      []int
	recordShape ndarray.Shape
	transform   vision.Transform
	sampler     *Sampler
}

// NewArrayDataset wraps pixels holding len(labels) records of recordShape.
func NewArrayDataset(pixels []uint8, labels []int, recordShape ndarray.Shape, sampler *Sampler, transform vision.Transform) (*ArrayDataset, error) {
	if recordShape.Rank() != 3 {
		return nil, fmt.Errorf("array dataset: record shape must be (H, W, C), got %s", recordShape)
	}
	if len(pixels) != len(labels)*recordShape.Size() {
		return nil, fmt.Errorf("array dataset: %d bytes for %d records of %s", len(pixels), len(labels), recordShape)
	}
	if sampler == nil {
		sampler = NewSampler(32, false, 0)
	}
	if transform == nil {
		transform = vision.ToTensor{}
	}
	return &ArrayDataset{
		pixels:      pixels,
		labels:      labels,
		recordShape: recordShape.Clone(),
		transform:   transform,
		sampler:     sampler,
	}, nil
}

// Prepare is a no-op; the data is already in memory.
func (d *ArrayDataset) Prepare(context.Context, Progress) error { return nil }

// Len is the number of records.
func (d *ArrayDataset) Len() int { return len(d.labels) }

// Label returns the raw label of record i.
func (d *ArrayDataset) Label(i int) int { return d.labels[i] }

// Get materializes record index with the transform applied.
func (d *ArrayDataset) Get(m *ndarray.Manager, index int) (Record, error) {
	if index < 0 || index >= d.Len() {
		return Record{}, fmt.Errorf("record %d out of range [0, %d)", index, d.Len())
	}
	size := d.recordShape.Size()
	raw, err := m.Create(append([]uint8(nil), d.pixels[index*size:(index+1)*size]...), d.recordShape)
	if err != nil {
		return Record{}, err
	}
	data, err := d.transform.Transform(raw)
	if data != raw {
		raw.Close()
	}
	if err != nil {
		return Record{}, err
	}
	label, err := m.Create(int32(d.labels[index]), nil)
	if err != nil {
		return Record{}, err
	}
	return Record{Data: data, Label: label}, nil
}

// Batches iterates one epoch in sampler order.
func (d *ArrayDataset) Batches(ctx context.Context, parent *ndarray.Manager, fn func(*Batch) error) error {
	order := d.sampler.Batches(d.Len())
	for i, indices := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := d.batch(parent.NewSubManager(), indices)
		if err != nil {
			return err
		}
		batch.Index, batch.Total = i, len(order)
		err = fn(batch)
		batch.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *ArrayDataset) batch(m *ndarray.Manager, indices []int) (*Batch, error) {
	size := d.recordShape.Size()
	pixels := make([]uint8, 0, len(indices)*size)
	labels := make([]int32, len(indices))
	for i, idx := range indices {
		pixels = append(pixels, d.pixels[idx*size:(idx+1)*size]...)
		labels[i] = int32(d.labels[idx])
	}
	shape := append(ndarray.Shape{len(indices)}, d.recordShape...)
	raw, err := m.Create(pixels, shape)
	if err != nil {
		m.Close()
		return nil, err
	}
	data, err := d.transform.Transform(raw)
	if err != nil {
		m.Close()
		return nil, err
	}
	if data != raw {
		raw.Close()
	}
	lbl, err := m.Create(labels, nil)
	if err != nil {
		m.Close()
		return nil, err
	}
	return &Batch{Manager: m, Data: data, Labels: lbl}, nil
}
