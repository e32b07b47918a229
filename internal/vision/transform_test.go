package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitforge/internal/ndarray"
)

func TestResizeAndToTensor(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 56, 56))
	for y := 0; y < 56; y++ {
		for x := 0; x < 56; x++ {
			src.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	m := ndarray.NewBaseManager()
	defer m.Close()

	arr, err := FromImage(src).ToNDArray(m, Grayscale)
	require.NoError(t, err)

	out, err := Pipeline{Resize{Width: 28, Height: 28}, ToTensor{}}.Transform(arr)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{1, 28, 28}, out.Shape())
	assert.Equal(t, ndarray.Float32, out.DType())

	vals, err := out.Float64s()
	require.NoError(t, err)
	for _, v := range vals {
		assert.InDelta(t, 200.0/255, v, 0.01)
	}
	// input plus the final result; the resized intermediate is closed
	assert.Equal(t, 2, m.NumArrays())
}

func TestResizeColor(t *testing.T) {
	m := ndarray.NewBaseManager()
	defer m.Close()

	arr, err := m.Zeros(ndarray.Shape{10, 20, 3}, ndarray.Uint8)
	require.NoError(t, err)
	out, err := Resize{Width: 5, Height: 4}.Transform(arr)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{4, 5, 3}, out.Shape())

	flat, err := m.Zeros(ndarray.Shape{10, 20}, ndarray.Uint8)
	require.NoError(t, err)
	_, err = Resize{Width: 5, Height: 4}.Transform(flat)
	assert.Error(t, err)
}

func TestToTensorBatchLayout(t *testing.T) {
	m := ndarray.NewBaseManager()
	defer m.Close()

	// two 1x2 RGB images
	arr, err := m.Create([]uint8{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 255, 255, 255,
	}, ndarray.Shape{2, 1, 2, 3})
	require.NoError(t, err)

	out, err := ToTensor{}.Transform(arr)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{2, 3, 1, 2}, out.Shape())
	vals, err := out.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 1, 0, 0, 0, 1, 0, 1, 1, 1}, vals)
}

func TestInvert(t *testing.T) {
	m := ndarray.NewBaseManager()
	defer m.Close()

	px, err := m.Create([]uint8{0, 55, 255}, nil)
	require.NoError(t, err)
	inv, err := Invert{}.Transform(px)
	require.NoError(t, err)
	got, err := inv.Uint8s()
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 200, 0}, got)

	f, err := m.Create([]float32{0, 0.25, 1}, nil)
	require.NoError(t, err)
	finv, err := Invert{}.Transform(f)
	require.NoError(t, err)
	fgot, err := finv.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.75, 0}, fgot)
}

func TestNormalize(t *testing.T) {
	m := ndarray.NewBaseManager()
	defer m.Close()

	arr, err := m.Create([]float32{0.5, 0.5, 1, 1}, ndarray.Shape{2, 1, 2})
	require.NoError(t, err)
	out, err := Normalize{Mean: []float64{0.5, 0}, Std: []float64{0.5, 2}}.Transform(arr)
	require.NoError(t, err)
	vals, err := out.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0.5, 0.5}, vals)

	_, err = Normalize{Mean: []float64{0}, Std: []float64{1}}.Transform(arr)
	assert.Error(t, err)
}
