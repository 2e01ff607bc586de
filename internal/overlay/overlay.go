// Package overlay maps decode geometry onto a drawable shape.
//
// Linear symbologies report two points along the scan line; those become an
// axis-aligned rectangle padded on every side. Matrix symbologies report
// three or more corner/finder points; those are drawn as a closed path in the
// order they were reported.
package overlay

import (
	"math"

	"github.com/e7canasta/orion-scan/internal/types"
)

// Padding is added on every side of a linear-symbol bounding rectangle.
const Padding = 10.0

// Shape identifies how a Polygon was derived.
type Shape string

const (
	ShapeNone      Shape = ""
	ShapeRectangle Shape = "rectangle"
	ShapePath      Shape = "path"
)

// Polygon is the overlay render contract: a closed point list.
type Polygon struct {
	Shape  Shape         `json:"shape,omitempty"`
	Points []types.Point `json:"points"`
}

// Empty reports whether there is nothing to draw.
func (p Polygon) Empty() bool {
	return len(p.Points) == 0
}

// Bounds returns the axis-aligned bounding box of the polygon.
func (p Polygon) Bounds() (lo, hi types.Point) {
	if p.Empty() {
		return
	}
	lo = types.Point{X: math.Inf(1), Y: math.Inf(1)}
	hi = types.Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, pt := range p.Points {
		lo.X = math.Min(lo.X, pt.X)
		lo.Y = math.Min(lo.Y, pt.Y)
		hi.X = math.Max(hi.X, pt.X)
		hi.Y = math.Max(hi.Y, pt.Y)
	}
	return lo, hi
}

// Map converts decode points into an overlay polygon.
//
// Fewer than two points yields an empty polygon; callers only map matches,
// which always carry at least two.
func Map(points []types.Point) Polygon {
	switch {
	case len(points) < 2:
		return Polygon{}
	case len(points) == 2:
		return rectangle(points[0], points[1])
	default:
		path := make([]types.Point, len(points))
		copy(path, points)
		return Polygon{Shape: ShapePath, Points: path}
	}
}

// rectangle returns the padded bounding box of a and b, clockwise from the
// top-left corner.
func rectangle(a, b types.Point) Polygon {
	x0 := math.Min(a.X, b.X) - Padding
	y0 := math.Min(a.Y, b.Y) - Padding
	x1 := math.Max(a.X, b.X) + Padding
	y1 := math.Max(a.Y, b.Y) + Padding

	return Polygon{
		Shape: ShapeRectangle,
		Points: []types.Point{
			{X: x0, Y: y0},
			{X: x1, Y: y0},
			{X: x1, Y: y1},
			{X: x0, Y: y1},
		},
	}
}
