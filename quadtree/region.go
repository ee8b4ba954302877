package quadtree

import (
	"fmt"
	"math"

	"github.com/aukilabs/quadseg/grid"
)

// Vector2 is a point in grid coordinates. X indexes rows and Y indexes
// columns.
type Vector2 struct {
	X float64
	Y float64
}

func NewVector2(x, y float64) Vector2 {
	return Vector2{X: x, Y: y}
}

func (v Vector2) Equal(o Vector2) bool {
	return v.X == o.X && v.Y == o.Y
}

func (v Vector2) DistanceSquared(o Vector2) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return dx*dx + dy*dy
}

func (v Vector2) String() string {
	return fmt.Sprintf("(%g, %g)", v.X, v.Y)
}

func Add(a, b Vector2) Vector2 {
	return Vector2{a.X + b.X, a.Y + b.Y}
}

func Sub(a, b Vector2) Vector2 {
	return Vector2{a.X - b.X, a.Y - b.Y}
}

func Mul(a Vector2, s float64) Vector2 {
	return Vector2{a.X * s, a.Y * s}
}

// Region is an axis-aligned rectangle in grid coordinates.
//
//	UL(0) | UR(3)
//	------+------
//	LL(1) | LR(2)
type Region struct {
	Lower Vector2 // top-left corner
	Upper Vector2 // bottom-right corner, exclusive
}

func NewRegion(lower, upper Vector2) Region {
	return Region{Lower: lower, Upper: upper}
}

// RegionOf returns the region covering a whole grid.
func RegionOf(r grid.Reader) Region {
	return Region{
		Upper: Vector2{float64(r.Height()), float64(r.Width())},
	}
}

func (r Region) Height() float64 {
	return r.Upper.X - r.Lower.X
}

func (r Region) Width() float64 {
	return r.Upper.Y - r.Lower.Y
}

func (r Region) Area() float64 {
	return r.Height() * r.Width()
}

// SizeMetric returns the squared length of the region diagonal.
func (r Region) SizeMetric() float64 {
	return r.Upper.DistanceSquared(r.Lower)
}

func (r Region) Center() Vector2 {
	return Mul(Add(r.Lower, r.Upper), 0.5)
}

// IsMinimumGranularity reports whether the region covers exactly one grid
// cell.
func (r Region) IsMinimumGranularity() bool {
	return r.Height() == 1 && r.Width() == 1
}

func (r Region) UL() Region {
	c := r.Center()
	return Region{
		Lower: r.Lower,
		Upper: c,
	}
}

func (r Region) LL() Region {
	c := r.Center()
	return Region{
		Lower: Vector2{c.X, r.Lower.Y},
		Upper: Vector2{r.Upper.X, c.Y},
	}
}

func (r Region) LR() Region {
	c := r.Center()
	return Region{
		Lower: c,
		Upper: r.Upper,
	}
}

func (r Region) UR() Region {
	c := r.Center()
	return Region{
		Lower: Vector2{r.Lower.X, c.Y},
		Upper: Vector2{c.X, r.Upper.Y},
	}
}

// Quadrant returns the sub-region of the given quadrant.
func (r Region) Quadrant(q Quadrant) Region {
	switch q {
	case UL:
		return r.UL()
	case LL:
		return r.LL()
	case LR:
		return r.LR()
	default:
		return r.UR()
	}
}

// Contains reports whether a point lies inside the region. Lower bounds are
// inclusive and upper bounds exclusive.
func (r Region) Contains(p Vector2) bool {
	return p.X >= r.Lower.X && p.X < r.Upper.X &&
		p.Y >= r.Lower.Y && p.Y < r.Upper.Y
}

// Overlaps reports whether the interiors of two regions intersect.
func (r Region) Overlaps(o Region) bool {
	return r.Lower.X < o.Upper.X && o.Lower.X < r.Upper.X &&
		r.Lower.Y < o.Upper.Y && o.Lower.Y < r.Upper.Y
}

func (r Region) Equal(o Region) bool {
	return r.Lower.Equal(o.Lower) && r.Upper.Equal(o.Upper)
}

// Window returns the grid cells covered by the region.
func (r Region) Window() grid.Window {
	return grid.Window{
		Row0: int(math.Floor(r.Lower.X)),
		Col0: int(math.Floor(r.Lower.Y)),
		Row1: int(math.Floor(r.Upper.X)),
		Col1: int(math.Floor(r.Upper.Y)),
	}
}

func (r Region) String() string {
	return fmt.Sprintf("%v%v", r.Lower, r.Upper)
}
