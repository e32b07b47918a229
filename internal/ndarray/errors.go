package ndarray

import "github.com/pkg/errors"

var (
	// ErrClosed is returned when an array or manager is used after Close.
	ErrClosed = errors.New("ndarray: already closed")
	// ErrShapeMismatch is returned when operand shapes are incompatible.
	ErrShapeMismatch = errors.New("ndarray: shape mismatch")
)

func newShapeError(format string, args ...any) error {
	return errors.Wrapf(ErrShapeMismatch, format, args...)
}
