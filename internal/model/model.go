// Package model holds neural network blocks and the Model container that
// names them, carries properties such as the trained epoch, and saves and
// loads their parameters.
package model

import (
	"maps"
	"strconv"

	"github.com/pkg/errors"

	"digitforge/internal/ndarray"
)

// Well-known model properties.
const (
	PropertyEpoch    = "Epoch"
	PropertyAccuracy = "Accuracy"
	PropertyLoss     = "Loss"
)

var (
	// ErrNoBlock is returned when a model is used before SetBlock.
	ErrNoBlock = errors.New("model: no block set")
	// ErrClosed is returned when a model is used after Close.
	ErrClosed = errors.New("model: closed")
)

// Model is a named block with string properties.
type Model struct {
	name       string
	block      Block
	properties map[string]string
	closed     bool
}

// New returns an empty model.
func New(name string) *Model {
	return &Model{name: name, properties: make(map[string]string)}
}

// Name returns the model name used for parameter files.
func (m *Model) Name() string { return m.name }

// SetBlock sets the network.
func (m *Model) SetBlock(b Block) { m.block = b }

// Block returns the network, nil if unset.
func (m *Model) Block() Block { return m.block }

// SetProperty records a property saved alongside the parameters.
func (m *Model) SetProperty(key, value string) { m.properties[key] = value }

// Property returns a property or the empty string.
func (m *Model) Property(key string) string { return m.properties[key] }

// Properties returns a copy of all properties.
func (m *Model) Properties() map[string]string { return maps.Clone(m.properties) }

// Epoch returns the Epoch property, zero if unset or malformed.
func (m *Model) Epoch() int {
	n, err := strconv.Atoi(m.properties[PropertyEpoch])
	if err != nil {
		return 0
	}
	return n
}

// Forward runs inference on x, whose first dimension is the batch. The
// output is owned by x's manager.
func (m *Model) Forward(x *ndarray.NDArray) (*ndarray.NDArray, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	flat, err := x.BatchFlatten()
	if err != nil {
		return nil, err
	}
	defer flat.Close()
	if want := m.block.InputShape().Size(); flat.Shape()[1] != want {
		return nil, errors.Wrapf(ndarray.ErrShapeMismatch, "model %s: input %s has %d features, want %d", m.name, x.Shape(), flat.Shape()[1], want)
	}
	in, err := flat.ToDense()
	if err != nil {
		return nil, err
	}
	out, err := m.block.Forward(in, false)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s forward", m.name)
	}
	return x.Manager().FromDense(out)
}

// Close releases the model. Later calls fail with ErrClosed.
func (m *Model) Close() {
	m.closed = true
	m.block = nil
}

func (m *Model) check() error {
	if m.closed {
		return ErrClosed
	}
	if m.block == nil {
		return ErrNoBlock
	}
	return nil
}
