package ndarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	tests := []struct {
		name  string
		data  any
		shape Shape
		want  string
	}{
		{
			name:  "vector",
			data:  []float32{0.5, 1.25},
			shape: nil,
			want:  "ND: (2) cpu() float32\n[ 0.5000,  1.2500]\n",
		},
		{
			name:  "integral floats",
			data:  []float64{1, 10},
			shape: nil,
			want:  "ND: (2) cpu() float64\n[  1.,  10.]\n",
		},
		{
			name:  "cube",
			data:  []int{1, 2, 3, 4, 5, 6, 7, 8},
			shape: Shape{2, 2, 2},
			want:  "ND: (2, 2, 2) cpu() int32\n[[[ 1,  2],\n  [ 3,  4],\n ],\n [[ 5,  6],\n  [ 7,  8],\n ],\n]\n",
		},
		{
			name:  "scalar",
			data:  7,
			shape: nil,
			want:  "ND: () cpu() int32\n 7\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := m.Create(tt.data, tt.shape)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.String())
		})
	}
}

func TestFormatExceedsMaxSize(t *testing.T) {
	m := NewBaseManager()
	defer m.Close()

	a, err := m.Zeros(Shape{2, 1000}, Float32)
	require.NoError(t, err)
	assert.Equal(t, "ND: (2, 1000) cpu() float32\n[ Exceed max print size ]\n", a.String())
}
