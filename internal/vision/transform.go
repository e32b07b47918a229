package vision

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"digitforge/internal/ndarray"
)

// Transform maps one array to another. Implementations return a new array
// owned by the input's manager.
type Transform interface {
	Transform(a *ndarray.NDArray) (*ndarray.NDArray, error)
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(a *ndarray.NDArray) (*ndarray.NDArray, error)

// Transform calls f.
func (f TransformFunc) Transform(a *ndarray.NDArray) (*ndarray.NDArray, error) {
	return f(a)
}

// Pipeline applies transforms in order. Intermediate arrays are closed.
type Pipeline []Transform

// Transform runs every stage of the pipeline.
func (p Pipeline) Transform(a *ndarray.NDArray) (*ndarray.NDArray, error) {
	cur := a
	for _, t := range p {
		next, err := t.Transform(cur)
		if cur != a && cur != next {
			cur.Close()
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Resize scales an (H, W, C) image array with bilinear interpolation.
type Resize struct {
	Width  int
	Height int
}

// Transform implements Transform.
func (r Resize) Transform(a *ndarray.NDArray) (*ndarray.NDArray, error) {
	shape := a.Shape()
	if shape.Rank() != 3 {
		return nil, fmt.Errorf("resize: want (H, W, C), got %s", shape)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("resize: invalid size %dx%d", r.Width, r.Height)
	}
	h, w, c := shape[0], shape[1], shape[2]
	if h == r.Height && w == r.Width {
		return a.Dup()
	}
	pix, err := a.Uint8s()
	if err != nil {
		return nil, err
	}
	dstRect := image.Rect(0, 0, r.Width, r.Height)
	switch c {
	case 1:
		src := &image.Gray{Pix: pix, Stride: w, Rect: image.Rect(0, 0, w, h)}
		dst := image.NewGray(dstRect)
		draw.BiLinear.Scale(dst, dstRect, src, src.Bounds(), draw.Src, nil)
		return a.Manager().Create(dst.Pix, ndarray.Shape{r.Height, r.Width, 1})
	case 3:
		src := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			copy(src.Pix[i*4:i*4+3], pix[i*3:i*3+3])
			src.Pix[i*4+3] = 0xff
		}
		dst := image.NewRGBA(dstRect)
		draw.BiLinear.Scale(dst, dstRect, src, src.Bounds(), draw.Src, nil)
		out := make([]uint8, 0, r.Width*r.Height*3)
		for i := 0; i < r.Width*r.Height; i++ {
			out = append(out, dst.Pix[i*4:i*4+3]...)
		}
		return a.Manager().Create(out, ndarray.Shape{r.Height, r.Width, 3})
	default:
		return nil, fmt.Errorf("resize: unsupported channel count %d", c)
	}
}

// ToTensor converts (H, W, C) or (N, H, W, C) pixel arrays in [0, 255] to
// channel-first float32 arrays in [0, 1].
type ToTensor struct{}

// Transform implements Transform.
func (ToTensor) Transform(a *ndarray.NDArray) (*ndarray.NDArray, error) {
	shape := a.Shape()
	var n, h, w, c int
	switch shape.Rank() {
	case 3:
		n, h, w, c = 1, shape[0], shape[1], shape[2]
	case 4:
		n, h, w, c = shape[0], shape[1], shape[2], shape[3]
	default:
		return nil, fmt.Errorf("to tensor: want (H, W, C) or (N, H, W, C), got %s", shape)
	}
	in, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(in))
	plane := h * w
	for b := 0; b < n; b++ {
		base := b * plane * c
		for p := 0; p < plane; p++ {
			for ch := 0; ch < c; ch++ {
				out[base+ch*plane+p] = float32(in[base+p*c+ch] / 255)
			}
		}
	}
	if shape.Rank() == 3 {
		return a.Manager().Create(out, ndarray.Shape{c, h, w})
	}
	return a.Manager().Create(out, ndarray.Shape{n, c, h, w})
}

// Invert flips intensities so dark-on-light digits look like MNIST's
// light-on-dark ones. Integer arrays use 255 as white, float arrays 1.
type Invert struct{}

// Transform implements Transform.
func (Invert) Transform(a *ndarray.NDArray) (*ndarray.NDArray, error) {
	if a.DType() == ndarray.Uint8 {
		vals, err := a.Uint8s()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = 255 - v
		}
		return a.Manager().Create(vals, a.Shape())
	}
	white := 1.0
	if a.DType().IsInteger() {
		white = 255
	}
	neg, err := a.MulScalar(-1)
	if err != nil {
		return nil, err
	}
	defer neg.Close()
	return neg.AddScalar(white)
}

// Normalize standardizes channel-first arrays per channel.
type Normalize struct {
	Mean []float64
	Std  []float64
}

// Transform implements Transform.
func (nz Normalize) Transform(a *ndarray.NDArray) (*ndarray.NDArray, error) {
	shape := a.Shape()
	if shape.Rank() < 3 {
		return nil, fmt.Errorf("normalize: want (C, H, W) or (N, C, H, W), got %s", shape)
	}
	c := shape[shape.Rank()-3]
	if len(nz.Mean) != c || len(nz.Std) != c {
		return nil, fmt.Errorf("normalize: %d channels but %d means and %d stds", c, len(nz.Mean), len(nz.Std))
	}
	vals, err := a.Float32s()
	if err != nil {
		return nil, err
	}
	plane := shape[shape.Rank()-2] * shape[shape.Rank()-1]
	for i := range vals {
		ch := (i / plane) % c
		vals[i] = float32((float64(vals[i]) - nz.Mean[ch]) / nz.Std[ch])
	}
	return a.Manager().Create(vals, shape)
}
