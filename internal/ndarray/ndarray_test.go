package ndarray

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndMulInPlace(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Create([]int{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, "ND: (2, 2) cpu() int32\n[[ 1,  2],\n [ 3,  4],\n]\n", a.String())

	same, err := a.MulInPlace(2)
	require.NoError(t, err)
	assert.Same(t, a, same)
	assert.Equal(t, "ND: (2, 2) cpu() int32\n[[ 2,  4],\n [ 6,  8],\n]\n", a.String())

	got, err := a.Int32s()
	require.NoError(t, err)
	if diff := cmp.Diff([]int32{2, 4, 6, 8}, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegerArithmeticTruncates(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Create([]int{3, -3, 5}, nil)
	require.NoError(t, err)
	_, err = a.MulInPlace(0.5)
	require.NoError(t, err)
	got, err := a.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -1, 2}, got)
}

func TestManagerCloseReleasesArrays(t *testing.T) {
	m := NewBaseManager()
	sub := m.NewSubManager()

	a, err := m.Create([]float32{1, 2}, nil)
	require.NoError(t, err)
	b, err := sub.Create([]float32{3, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumArrays())

	m.Close()
	m.Close()

	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.True(t, sub.IsClosed())
	_, err = a.MulInPlace(2)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Zeros(Shape{1}, Float32)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "This array is already closed", a.String())
}

func TestArrayCloseDetaches(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Ones(Shape{3}, Float32)
	require.NoError(t, err)
	a.Close()
	a.Close()
	assert.Equal(t, 0, m.NumArrays())
}

func TestAttachMovesOwnership(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()
	sub := m.NewSubManager()

	a, err := sub.Ones(Shape{2}, Float32)
	require.NoError(t, err)
	require.NoError(t, m.Attach(a))
	sub.Close()

	assert.False(t, a.IsClosed())
	assert.Same(t, m, a.Manager())
}

func TestBroadcastAdd(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Create([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	row, err := m.Create([]float32{10, 20, 30}, nil)
	require.NoError(t, err)

	sum, err := a.Add(row)
	require.NoError(t, err)
	got, err := sum.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33, 14, 25, 36}, got)

	bad, err := m.Create([]float32{1, 2}, nil)
	require.NoError(t, err)
	_, err = a.Add(bad)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPromotion(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	i, err := m.Create([]int{1, 2}, nil)
	require.NoError(t, err)
	f, err := m.Create([]float32{0.5, 0.5}, nil)
	require.NoError(t, err)
	out, err := i.Mul(f)
	require.NoError(t, err)
	assert.Equal(t, Float32, out.DType())
}

func TestMatMulAndTranspose(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Create([]float64{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	at, err := a.Transpose()
	require.NoError(t, err)
	assert.True(t, at.Shape().Equal(Shape{3, 2}))

	p, err := a.MatMul(at)
	require.NoError(t, err)
	got, err := p.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{14, 32, 32, 77}, got)

	_, err = a.MatMul(a)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestReshapeInfersDimension(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Zeros(Shape{4, 1, 28, 28}, Uint8)
	require.NoError(t, err)
	flat, err := a.BatchFlatten()
	require.NoError(t, err)
	assert.Equal(t, Shape{4, 784}, flat.Shape())

	_, err = a.Reshape(Shape{-1, -1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = a.Reshape(Shape{5, -1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestArgmaxAndSoftmax(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Create([]float32{1, 3, 2, 0, -1, 5}, Shape{2, 3})
	require.NoError(t, err)
	idx, err := a.Argmax()
	require.NoError(t, err)
	got, err := idx.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, got)

	p, err := a.Softmax()
	require.NoError(t, err)
	probs, err := p.Float64s()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, probs[0]+probs[1]+probs[2], 1e-6)
	assert.InDelta(t, 1.0, probs[3]+probs[4]+probs[5], 1e-6)
	assert.Greater(t, probs[1], probs[2])
}

func TestGet(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Create([]int{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	v, err := a.Get(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)
	_, err = a.Get(2, 0)
	assert.Error(t, err)
	_, err = a.Get(0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
