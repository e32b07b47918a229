package ndarray

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"digitforge/internal/device"
)

// Manager owns NDArrays and releases them together. Closing a manager closes
// every array and sub-manager attached to it.
type Manager struct {
	mu       sync.Mutex
	parent   *Manager
	device   device.Device
	arrays   map[*NDArray]struct{}
	children map[*Manager]struct{}
	closed   bool
}

// NewBaseManager returns a root manager on the default device.
func NewBaseManager() *Manager {
	return newManager(nil, device.CPU())
}

func newManager(parent *Manager, dev device.Device) *Manager {
	return &Manager{
		parent:   parent,
		device:   dev,
		arrays:   make(map[*NDArray]struct{}),
		children: make(map[*Manager]struct{}),
	}
}

// NewSubManager returns a manager whose lifetime is bounded by m.
func (m *Manager) NewSubManager() *Manager {
	child := newManager(m, m.device)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		child.closed = true
		return child
	}
	m.children[child] = struct{}{}
	return child
}

// Device is where arrays of this manager live.
func (m *Manager) Device() device.Device {
	return m.device
}

// IsClosed reports whether Close has been called.
func (m *Manager) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// NumArrays is the number of live arrays directly owned by m.
func (m *Manager) NumArrays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.arrays)
}

// Close releases every array and sub-manager. It is safe to call twice.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	arrays := m.arrays
	children := m.children
	m.arrays = nil
	m.children = nil
	m.mu.Unlock()

	for child := range children {
		child.Close()
	}
	for a := range arrays {
		a.release()
	}
	if m.parent != nil {
		m.parent.removeChild(m)
	}
}

func (m *Manager) removeChild(child *Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.children, child)
}

func (m *Manager) detach(a *NDArray) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.arrays, a)
}

// Attach moves ownership of a to m.
func (m *Manager) Attach(a *NDArray) error {
	if a.closed {
		return ErrClosed
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.arrays[a] = struct{}{}
	m.mu.Unlock()
	if a.manager != nil && a.manager != m {
		a.manager.detach(a)
	}
	a.manager = m
	return nil
}

func (m *Manager) newArray(shape Shape, dtype DType, data []float64) (*NDArray, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, newShapeError("%d values do not fill shape %s", len(data), shape)
	}
	for i, v := range data {
		data[i] = dtype.cast(v)
	}
	a := &NDArray{manager: m, shape: shape.Clone(), dtype: dtype, data: data}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.arrays[a] = struct{}{}
	return a, nil
}

// Create builds an array from a Go slice or scalar. Supported element types
// are int, int32, uint8, float32 and float64. A nil shape means a 1-D array
// for slices and a scalar for single values.
func (m *Manager) Create(data any, shape Shape) (*NDArray, error) {
	var (
		values []float64
		dtype  DType
		scalar bool
	)
	switch v := data.(type) {
	case []int:
		values, dtype = convert(v), Int32
	case []int32:
		values, dtype = convert(v), Int32
	case []uint8:
		values, dtype = convert(v), Uint8
	case []float32:
		values, dtype = convert(v), Float32
	case []float64:
		values, dtype = append([]float64(nil), v...), Float64
	case int:
		values, dtype, scalar = []float64{float64(v)}, Int32, true
	case int32:
		values, dtype, scalar = []float64{float64(v)}, Int32, true
	case float32:
		values, dtype, scalar = []float64{float64(v)}, Float32, true
	case float64:
		values, dtype, scalar = []float64{v}, Float64, true
	default:
		return nil, errors.Errorf("ndarray: unsupported data type %T", data)
	}
	if shape == nil && !scalar {
		shape = Shape{len(values)}
	}
	return m.newArray(shape, dtype, values)
}

// Zeros returns an array of the given shape filled with 0.
func (m *Manager) Zeros(shape Shape, dtype DType) (*NDArray, error) {
	return m.newArray(shape, dtype, make([]float64, shape.Size()))
}

// Ones returns an array of the given shape filled with 1.
func (m *Manager) Ones(shape Shape, dtype DType) (*NDArray, error) {
	data := make([]float64, shape.Size())
	for i := range data {
		data[i] = 1
	}
	return m.newArray(shape, dtype, data)
}

// FromDense copies a gonum matrix into a 2-D float32 array.
func (m *Manager) FromDense(d mat.Matrix) (*NDArray, error) {
	r, c := d.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, d.At(i, j))
		}
	}
	return m.newArray(Shape{r, c}, Float32, data)
}

func convert[T int | int32 | uint8 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
