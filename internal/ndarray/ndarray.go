// Package ndarray implements n-dimensional arrays owned by scoped managers.
//
// Every array belongs to a Manager. Arrays are released when the array or its
// manager is closed, after which every operation returns ErrClosed:
//
//	m := ndarray.NewBaseManager()
//	defer m.Close()
//	a, _ := m.Create([]int{1, 2, 3, 4}, ndarray.Shape{2, 2})
//	a.MulInPlace(2)
//	fmt.Println(a)
//
// Values are stored as float64 and rounded to the array's DType after every
// operation, so integer arrays truncate toward zero. Matrix products use gonum.
package ndarray

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NDArray is a dense row-major n-dimensional array.
type NDArray struct {
	manager *Manager
	shape   Shape
	dtype   DType
	data    []float64
	closed  bool
}

// Shape returns a copy of the array's shape.
func (a *NDArray) Shape() Shape { return a.shape.Clone() }

// DType returns the element type.
func (a *NDArray) DType() DType { return a.dtype }

// Manager returns the owning manager.
func (a *NDArray) Manager() *Manager { return a.manager }

// Size is the number of elements.
func (a *NDArray) Size() int { return a.shape.Size() }

// IsClosed reports whether the array has been released.
func (a *NDArray) IsClosed() bool { return a.closed }

// Close releases the array and detaches it from its manager.
func (a *NDArray) Close() {
	if a.closed {
		return
	}
	a.release()
	a.manager.detach(a)
}

func (a *NDArray) release() {
	a.closed = true
	a.data = nil
}

func (a *NDArray) check() error {
	if a == nil || a.closed {
		return ErrClosed
	}
	return nil
}

// Float64s returns a copy of the values.
func (a *NDArray) Float64s() ([]float64, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return append([]float64(nil), a.data...), nil
}

// Float32s returns the values converted to float32.
func (a *NDArray) Float32s() ([]float32, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := make([]float32, len(a.data))
	for i, v := range a.data {
		out[i] = float32(v)
	}
	return out, nil
}

// Int32s returns the values truncated to int32.
func (a *NDArray) Int32s() ([]int32, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := make([]int32, len(a.data))
	for i, v := range a.data {
		out[i] = int32(Int32.cast(v))
	}
	return out, nil
}

// Uint8s returns the values clamped to bytes.
func (a *NDArray) Uint8s() ([]uint8, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := make([]uint8, len(a.data))
	for i, v := range a.data {
		out[i] = uint8(Uint8.cast(v))
	}
	return out, nil
}

// Get returns the element at the given index, one index per dimension.
func (a *NDArray) Get(indices ...int) (float64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	if len(indices) != len(a.shape) {
		return 0, newShapeError("%d indices for shape %s", len(indices), a.shape)
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= a.shape[i] {
			return 0, errors.Errorf("ndarray: index %d out of range for dimension %d of %s", idx, i, a.shape)
		}
		offset = offset*a.shape[i] + idx
	}
	return a.data[offset], nil
}

// Reshape returns a copy with a new shape. One dimension may be -1.
func (a *NDArray) Reshape(shape Shape) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	resolved, err := shape.resolve(a.Size())
	if err != nil {
		return nil, err
	}
	return a.manager.newArray(resolved, a.dtype, append([]float64(nil), a.data...))
}

// BatchFlatten keeps the first dimension and flattens the rest.
func (a *NDArray) BatchFlatten() (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if len(a.shape) == 0 {
		return nil, newShapeError("cannot batch flatten a scalar")
	}
	return a.Reshape(Shape{a.shape[0], -1})
}

// ToType returns a copy converted to dtype.
func (a *NDArray) ToType(dtype DType) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.manager.newArray(a.shape, dtype, append([]float64(nil), a.data...))
}

// Dup returns a copy of the array owned by the same manager.
func (a *NDArray) Dup() (*NDArray, error) {
	return a.ToType(a.dtype)
}

// Add returns a + b with broadcasting of b over a's trailing dimensions.
func (a *NDArray) Add(b *NDArray) (*NDArray, error) {
	return a.binary(b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b.
func (a *NDArray) Sub(b *NDArray) (*NDArray, error) {
	return a.binary(b, func(x, y float64) float64 { return x - y })
}

// Mul returns the element-wise product a * b.
func (a *NDArray) Mul(b *NDArray) (*NDArray, error) {
	return a.binary(b, func(x, y float64) float64 { return x * y })
}

// AddScalar returns a + v.
func (a *NDArray) AddScalar(v float64) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := append([]float64(nil), a.data...)
	floats.AddConst(v, out)
	return a.manager.newArray(a.shape, a.dtype, out)
}

// MulScalar returns a * v.
func (a *NDArray) MulScalar(v float64) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	out := append([]float64(nil), a.data...)
	floats.Scale(v, out)
	return a.manager.newArray(a.shape, a.dtype, out)
}

// MulInPlace multiplies every element by v and returns a.
func (a *NDArray) MulInPlace(v float64) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	for i, x := range a.data {
		a.data[i] = a.dtype.cast(x * v)
	}
	return a, nil
}

// AddInPlace adds b to a and returns a. a keeps its dtype.
func (a *NDArray) AddInPlace(b *NDArray) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	at, err := broadcastIndex(a.shape, b)
	if err != nil {
		return nil, err
	}
	for i := range a.data {
		a.data[i] = a.dtype.cast(a.data[i] + b.data[at(i)])
	}
	return a, nil
}

func (a *NDArray) binary(b *NDArray, op func(x, y float64) float64) (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	at, err := broadcastIndex(a.shape, b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(a.data))
	for i, x := range a.data {
		out[i] = op(x, b.data[at(i)])
	}
	return a.manager.newArray(a.shape, promote(a.dtype, b.dtype), out)
}

// broadcastIndex maps an element of shape to the element of b it pairs with.
func broadcastIndex(shape Shape, b *NDArray) (func(int) int, error) {
	switch {
	case b.Size() == 1:
		return func(int) int { return 0 }, nil
	case shape.HasSuffix(b.shape):
		n := b.Size()
		return func(i int) int { return i % n }, nil
	default:
		return nil, newShapeError("cannot broadcast %s to %s", b.shape, shape)
	}
}

// MatMul returns the matrix product of two 2-D arrays.
func (a *NDArray) MatMul(b *NDArray) (*NDArray, error) {
	ad, err := a.ToDense()
	if err != nil {
		return nil, err
	}
	bd, err := b.ToDense()
	if err != nil {
		return nil, err
	}
	if len(a.shape) != 2 || len(b.shape) != 2 || a.shape[1] != b.shape[0] {
		return nil, newShapeError("matmul of %s and %s", a.shape, b.shape)
	}
	var out mat.Dense
	out.Mul(ad, bd)
	return a.manager.newArray(Shape{a.shape[0], b.shape[1]}, promote(a.dtype, b.dtype), out.RawMatrix().Data)
}

// Transpose swaps the axes of a 2-D array.
func (a *NDArray) Transpose() (*NDArray, error) {
	d, err := a.ToDense()
	if err != nil {
		return nil, err
	}
	if len(a.shape) != 2 {
		return nil, newShapeError("transpose needs a 2-D array, got %s", a.shape)
	}
	var out mat.Dense
	out.CloneFrom(d.T())
	return a.manager.newArray(Shape{a.shape[1], a.shape[0]}, a.dtype, out.RawMatrix().Data)
}

// Sum adds all elements.
func (a *NDArray) Sum() (float64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	return floats.Sum(a.data), nil
}

// Mean averages all elements.
func (a *NDArray) Mean() (float64, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	if len(a.data) == 0 {
		return math.NaN(), nil
	}
	return floats.Sum(a.data) / float64(len(a.data)), nil
}

// Argmax returns the index of the largest element along the last axis.
func (a *NDArray) Argmax() (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if len(a.shape) == 0 {
		return a.manager.newArray(Shape{}, Int32, []float64{0})
	}
	n := a.shape.Last()
	if n == 0 {
		return nil, newShapeError("argmax over empty axis of %s", a.shape)
	}
	rows := len(a.data) / n
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = float64(floats.MaxIdx(a.data[r*n : (r+1)*n]))
	}
	return a.manager.newArray(a.shape[:len(a.shape)-1], Int32, out)
}

// Softmax normalizes the last axis into probabilities.
func (a *NDArray) Softmax() (*NDArray, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	n := a.shape.Last()
	out := append([]float64(nil), a.data...)
	if n > 0 {
		for r := 0; r < len(out)/n; r++ {
			SoftmaxInPlace(out[r*n : (r+1)*n])
		}
	}
	dtype := a.dtype
	if dtype.IsInteger() {
		dtype = Float32
	}
	return a.manager.newArray(a.shape, dtype, out)
}

// SoftmaxInPlace turns logits into probabilities using the max-shift trick.
func SoftmaxInPlace(logits []float64) {
	if len(logits) == 0 {
		return
	}
	maxLogit := floats.Max(logits)
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		logits[i] = e
		sum += e
	}
	floats.Scale(1/sum, logits)
}

// ToDense copies a 1-D or 2-D array into a gonum matrix. 1-D arrays become a
// single row.
func (a *NDArray) ToDense() (*mat.Dense, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	switch len(a.shape) {
	case 1:
		if a.shape[0] == 0 {
			return nil, newShapeError("cannot build a matrix from %s", a.shape)
		}
		return mat.NewDense(1, a.shape[0], append([]float64(nil), a.data...)), nil
	case 2:
		if a.shape[0] == 0 || a.shape[1] == 0 {
			return nil, newShapeError("cannot build a matrix from %s", a.shape)
		}
		return mat.NewDense(a.shape[0], a.shape[1], append([]float64(nil), a.data...)), nil
	default:
		return nil, newShapeError("dense matrix needs 1 or 2 dimensions, got %s", a.shape)
	}
}
