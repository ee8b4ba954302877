// Package grid provides the 2D grayscale sample grid read and rewritten by the
// quadtree segmentation.
package grid

import (
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// ErrTypeInvalidGrid is the error type returned when a grid does not have
	// square power-of-two dimensions.
	ErrTypeInvalidGrid = "invalid-grid"
)

// Window is a half-open rectangle of grid cells: rows [Row0, Row1) and
// columns [Col0, Col1).
type Window struct {
	Row0 int
	Col0 int
	Row1 int
	Col1 int
}

func (w Window) Width() int {
	return w.Col1 - w.Col0
}

func (w Window) Height() int {
	return w.Row1 - w.Row0
}

func (w Window) Area() int {
	return w.Width() * w.Height()
}

func (w Window) Empty() bool {
	return w.Row1 <= w.Row0 || w.Col1 <= w.Col0
}

func (w Window) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", w.Row0, w.Row1, w.Col0, w.Col1)
}

// Reader is the read side of a sample grid.
type Reader interface {
	Width() int
	Height() int

	// Returns the sample at the given cell.
	At(row, col int) uint8

	// Returns the minimum and maximum sample over a window. An empty window
	// returns (0, 0).
	WindowMinMax(w Window) (min, max uint8)

	// Returns the sum of all samples in a window.
	WindowSum(w Window) uint64
}

// Writer is the write side of a sample grid.
type Writer interface {
	Set(row, col int, v uint8)

	// Overwrites every cell in the window.
	WindowFill(w Window, v uint8)

	// Overwrites the given row of the window. The row index is relative to
	// the window.
	RowFill(w Window, row int, v uint8)

	// Overwrites the given column of the window. The column index is relative
	// to the window.
	ColFill(w Window, col int, v uint8)
}

// Gray is a row-major single channel 8-bit grid.
type Gray struct {
	width  int
	height int
	pix    []uint8
}

// NewGray returns a zeroed grid. Negative dimensions are treated as zero.
func NewGray(width, height int) *Gray {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}

	return &Gray{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height),
	}
}

// NewGrayFromRows builds a grid from rows of samples. All rows must have the
// same length.
func NewGrayFromRows(rows [][]uint8) (*Gray, error) {
	if len(rows) == 0 {
		return NewGray(0, 0), nil
	}

	g := NewGray(len(rows[0]), len(rows))
	for i, r := range rows {
		if len(r) != g.width {
			return nil, errors.New("ragged grid rows").
				WithType(ErrTypeInvalidGrid).
				WithTag("row", i).
				WithTag("expected_width", g.width).
				WithTag("width", len(r))
		}
		copy(g.Row(i), r)
	}
	return g, nil
}

// CopyFrom returns a new grid holding the samples of r.
func CopyFrom(r Reader) *Gray {
	if g, ok := r.(*Gray); ok {
		return g.Clone()
	}

	g := NewGray(r.Width(), r.Height())
	for row := 0; row < g.height; row++ {
		dst := g.Row(row)
		for col := range dst {
			dst[col] = r.At(row, col)
		}
	}
	return g
}

func (g *Gray) Width() int {
	return g.width
}

func (g *Gray) Height() int {
	return g.height
}

// Bounds returns the window covering the whole grid.
func (g *Gray) Bounds() Window {
	return Window{Row1: g.height, Col1: g.width}
}

// Pix returns the underlying row-major samples.
func (g *Gray) Pix() []uint8 {
	return g.pix
}

// Row returns a mutable slice over the given row.
func (g *Gray) Row(row int) []uint8 {
	start := row * g.width
	return g.pix[start : start+g.width]
}

func (g *Gray) At(row, col int) uint8 {
	return g.pix[row*g.width+col]
}

func (g *Gray) Set(row, col int, v uint8) {
	g.pix[row*g.width+col] = v
}

func (g *Gray) Clone() *Gray {
	c := &Gray{
		width:  g.width,
		height: g.height,
		pix:    make([]uint8, len(g.pix)),
	}
	copy(c.pix, g.pix)
	return c
}

func (g *Gray) WindowMinMax(w Window) (min, max uint8) {
	w = g.clip(w)
	if w.Empty() {
		return 0, 0
	}

	min, max = 255, 0
	for row := w.Row0; row < w.Row1; row++ {
		for _, v := range g.Row(row)[w.Col0:w.Col1] {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}

func (g *Gray) WindowSum(w Window) uint64 {
	w = g.clip(w)

	var sum uint64
	for row := w.Row0; row < w.Row1; row++ {
		for _, v := range g.Row(row)[w.Col0:w.Col1] {
			sum += uint64(v)
		}
	}
	return sum
}

func (g *Gray) WindowFill(w Window, v uint8) {
	w = g.clip(w)

	for row := w.Row0; row < w.Row1; row++ {
		cells := g.Row(row)[w.Col0:w.Col1]
		for i := range cells {
			cells[i] = v
		}
	}
}

func (g *Gray) RowFill(w Window, row int, v uint8) {
	g.WindowFill(Window{
		Row0: w.Row0 + row,
		Col0: w.Col0,
		Row1: w.Row0 + row + 1,
		Col1: w.Col1,
	}, v)
}

func (g *Gray) ColFill(w Window, col int, v uint8) {
	g.WindowFill(Window{
		Row0: w.Row0,
		Col0: w.Col0 + col,
		Row1: w.Row1,
		Col1: w.Col0 + col + 1,
	}, v)
}

// clip restricts a window to the grid bounds.
func (g *Gray) clip(w Window) Window {
	w.Row0 = clamp(w.Row0, 0, g.height)
	w.Row1 = clamp(w.Row1, w.Row0, g.height)
	w.Col0 = clamp(w.Col0, 0, g.width)
	w.Col1 = clamp(w.Col1, w.Col0, g.width)
	return w
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidateSquarePow2 checks that a grid is non-empty, square and has a power
// of two side.
func ValidateSquarePow2(r Reader) error {
	width, height := r.Width(), r.Height()

	switch {
	case width <= 0 || height <= 0:
		return errors.New("grid is empty").
			WithType(ErrTypeInvalidGrid).
			WithTag("width", width).
			WithTag("height", height)

	case width != height:
		return errors.New("grid is not square").
			WithType(ErrTypeInvalidGrid).
			WithTag("width", width).
			WithTag("height", height)

	case !IsPow2(width):
		return errors.New("grid side is not a power of two").
			WithType(ErrTypeInvalidGrid).
			WithTag("side", width)
	}
	return nil
}

func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FloorPow2 returns the largest power of two lower or equal to n, or 0 when n
// is not positive.
func FloorPow2(n int) int {
	if n <= 0 {
		return 0
	}

	p := 1
	for p<<1 <= n {
		p <<= 1
	}
	return p
}
