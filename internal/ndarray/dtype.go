package ndarray

import "math"

// DType is the element type of an NDArray.
type DType int

const (
	Float32 DType = iota
	Float64
	Int32
	Uint8
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// IsInteger reports whether values of d are whole numbers.
func (d DType) IsInteger() bool {
	return d == Int32 || d == Uint8
}

// cast rounds v to what d can represent.
func (d DType) cast(v float64) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Int32:
		if math.IsNaN(v) {
			return 0
		}
		return float64(int32(math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Trunc(v)))))
	case Uint8:
		if math.IsNaN(v) {
			return 0
		}
		return math.Max(0, math.Min(255, math.Trunc(v)))
	default:
		return v
	}
}

// promote picks the result type of a binary operation.
func promote(a, b DType) DType {
	rank := func(d DType) int {
		switch d {
		case Uint8:
			return 0
		case Int32:
			return 1
		case Float32:
			return 2
		default:
			return 3
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}
