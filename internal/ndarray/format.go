package ndarray

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const maxPrintSize = 1000

// String renders a header line followed by the nested values:
//
//	ND: (2, 2) cpu() int32
//	[[ 1,  2],
//	 [ 3,  4],
//	]
func (a *NDArray) String() string {
	if a == nil || a.closed {
		return "This array is already closed"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "ND: %s %s %s\n", a.shape, a.manager.Device(), a.dtype)
	if a.Size() > maxPrintSize {
		sb.WriteString("[ Exceed max print size ]\n")
		return sb.String()
	}
	cells, width := a.formatCells()
	if len(a.shape) == 0 {
		sb.WriteString(pad(cells[0], width))
		sb.WriteByte('\n')
		return sb.String()
	}
	writeNested(&sb, a.shape, cells, width, 0, 0)
	sb.WriteByte('\n')
	return sb.String()
}

func (a *NDArray) formatCells() ([]string, int) {
	cells := make([]string, len(a.data))
	integral := true
	for _, v := range a.data {
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			integral = false
			break
		}
	}
	width := 0
	for i, v := range a.data {
		switch {
		case a.dtype.IsInteger():
			cells[i] = strconv.FormatInt(int64(v), 10)
		case math.IsNaN(v), math.IsInf(v, 0):
			cells[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case integral:
			cells[i] = strconv.FormatFloat(v, 'f', 0, 64) + "."
		case v != 0 && (math.Abs(v) >= 1e8 || math.Abs(v) < 1e-4):
			cells[i] = strconv.FormatFloat(v, 'e', 4, 64)
		default:
			cells[i] = strconv.FormatFloat(v, 'f', 4, 64)
		}
		width = max(width, len(cells[i]))
	}
	return cells, width + 1
}

func writeNested(sb *strings.Builder, shape Shape, cells []string, width, offset, depth int) {
	sb.WriteByte('[')
	if depth == len(shape)-1 {
		for i := 0; i < shape[depth]; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(pad(cells[offset+i], width))
		}
		sb.WriteByte(']')
		return
	}
	stride := shape[depth+1:].Size()
	for i := 0; i < shape[depth]; i++ {
		if i > 0 {
			sb.WriteString(strings.Repeat(" ", depth+1))
		}
		writeNested(sb, shape, cells, width, offset+i*stride, depth+1)
		sb.WriteString(",\n")
	}
	sb.WriteString(strings.Repeat(" ", depth))
	sb.WriteByte(']')
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
