package ndarray

import (
	"strconv"
	"strings"
)

// Shape lists the size of every dimension of an NDArray.
type Shape []int

// NewShape builds a Shape from dims.
func NewShape(dims ...int) Shape {
	return append(Shape(nil), dims...)
}

// Size is the number of elements described by the shape. Scalars have size 1.
func (s Shape) Size() int {
	size := 1
	for _, d := range s {
		size *= d
	}
	return size
}

// Rank is the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// HasSuffix reports whether the trailing dimensions of s equal o.
func (s Shape) HasSuffix(o Shape) bool {
	if len(o) > len(s) {
		return false
	}
	return s[len(s)-len(o):].Equal(o)
}

// Clone returns an independent copy.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

// Last returns the innermost dimension, or 1 for scalars.
func (s Shape) Last() int {
	if len(s) == 0 {
		return 1
	}
	return s[len(s)-1]
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (s Shape) validate() error {
	for _, d := range s {
		if d < 0 {
			return newShapeError("negative dimension in %s", s)
		}
	}
	return nil
}

// resolve replaces a single -1 dimension so that the shape holds size
// elements.
func (s Shape) resolve(size int) (Shape, error) {
	out := s.Clone()
	unknown := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1 && unknown >= 0:
			return nil, newShapeError("more than one inferred dimension in %s", s)
		case d == -1:
			unknown = i
		case d < 0:
			return nil, newShapeError("negative dimension in %s", s)
		default:
			known *= d
		}
	}
	if unknown >= 0 {
		if known == 0 || size%known != 0 {
			return nil, newShapeError("cannot infer dimension of %s for %d elements", s, size)
		}
		out[unknown] = size / known
	}
	if out.Size() != size {
		return nil, newShapeError("cannot reshape %d elements into %s", size, s)
	}
	return out, nil
}
