// Package vision decodes images and converts them to NDArrays for the
// digit classifier.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"digitforge/internal/ndarray"
)

// Flag selects the channel layout produced by ToNDArray.
type Flag int

const (
	// Color keeps three RGB channels.
	Color Flag = iota
	// Grayscale collapses to one luminance channel.
	Grayscale
)

// Image is a decoded picture.
type Image struct {
	img    image.Image
	format string
}

// FromFile reads and decodes the image at path.
func FromFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return FromBytes(data)
}

// FromBytes decodes an encoded image.
func FromBytes(data []byte) (*Image, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads an encoded image from r.
func Decode(r io.Reader) (*Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Image{img: img, format: format}, nil
}

// FromImage wraps an already decoded image.
func FromImage(img image.Image) *Image {
	return &Image{img: img}
}

// Width in pixels.
func (i *Image) Width() int { return i.img.Bounds().Dx() }

// Height in pixels.
func (i *Image) Height() int { return i.img.Bounds().Dy() }

// Format is the name of the decoder used, empty for wrapped images.
func (i *Image) Format() string { return i.format }

// Image returns the underlying image.
func (i *Image) Image() image.Image { return i.img }

// ToNDArray converts the image to an (H, W, C) uint8 array.
func (i *Image) ToNDArray(m *ndarray.Manager, flag Flag) (*ndarray.NDArray, error) {
	bounds := i.img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if flag == Grayscale {
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(gray, gray.Bounds(), i.img, bounds.Min, draw.Src)
		return m.Create(packed(gray.Pix, gray.Stride, w, h, 1), ndarray.Shape{h, w, 1})
	}
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), i.img, bounds.Min, draw.Over)
	pix := make([]uint8, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w; x++ {
			pix = append(pix, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return m.Create(pix, ndarray.Shape{h, w, 3})
}

// packed copies pixel rows into a tightly packed buffer.
func packed(pix []uint8, stride, w, h, channels int) []uint8 {
	out := make([]uint8, 0, w*h*channels)
	for y := 0; y < h; y++ {
		out = append(out, pix[y*stride:y*stride+w*channels]...)
	}
	return out
}
