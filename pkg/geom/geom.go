package geom

// Package geom holds the planar primitives that annotations are built from,
// and the overlap measures that the metrics package needs.
// All coordinates are in the input coordinate space (usually pixels).

import (
	"math"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Distance(b Point) float64 {
	return math.Hypot(p.X-b.X, p.Y-b.Y)
}

func (p Point) Bounds() Box {
	return Box{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
}

// Line is an open polyline of at least 2 points
type Line []Point

func (l Line) Validate() error {
	if len(l) < 2 {
		return labelerr.InvalidInput("", "line needs at least 2 points, but has %v", len(l))
	}
	return nil
}

func (l Line) Bounds() Box {
	return boundsOf(l)
}

// Length returns the sum of the segment lengths
func (l Line) Length() float64 {
	total := 0.0
	for i := 1; i < len(l); i++ {
		total += l[i-1].Distance(l[i])
	}
	return total
}

// Rect is an axis-aligned rectangle given by two opposite corners.
// The corners may be given in any order.
type Rect struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// RectFromXYWH creates a Rect from a top-left corner and a size
func RectFromXYWH(x, y, width, height float64) Rect {
	return Rect{
		Start: Point{x, y},
		End:   Point{x + width, y + height},
	}
}

func (r Rect) Bounds() Box {
	return Box{
		MinX: math.Min(r.Start.X, r.End.X),
		MinY: math.Min(r.Start.Y, r.End.Y),
		MaxX: math.Max(r.Start.X, r.End.X),
		MaxY: math.Max(r.Start.Y, r.End.Y),
	}
}

func (r Rect) Area() float64 {
	return r.Bounds().Area()
}

// Polygon returns the 4 corners of the rectangle, counter-clockwise
func (r Rect) Polygon() Polygon {
	b := r.Bounds()
	return Polygon{
		{b.MinX, b.MinY},
		{b.MaxX, b.MinY},
		{b.MaxX, b.MaxY},
		{b.MinX, b.MaxY},
	}
}

// Box is a normalized axis-aligned bounding box
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

func (b Box) Width() float64 {
	return b.MaxX - b.MinX
}

func (b Box) Height() float64 {
	return b.MaxY - b.MinY
}

func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

func (b Box) Intersection(o Box) Box {
	x1 := max(b.MinX, o.MinX)
	y1 := max(b.MinY, o.MinY)
	x2 := min(b.MaxX, o.MaxX)
	y2 := min(b.MaxY, o.MaxY)
	return Box{
		MinX: x1,
		MinY: y1,
		MaxX: max(x1, x2),
		MaxY: max(y1, y2),
	}
}

func (b Box) Union(o Box) Box {
	return Box{
		MinX: min(b.MinX, o.MinX),
		MinY: min(b.MinY, o.MinY),
		MaxX: max(b.MaxX, o.MaxX),
		MaxY: max(b.MaxY, o.MaxY),
	}
}

// Intersects returns true if the boxes overlap or touch
func (b Box) Intersects(o Box) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Expand grows the box by d on every side
func (b Box) Expand(d float64) Box {
	return Box{b.MinX - d, b.MinY - d, b.MaxX + d, b.MaxY + d}
}

// Intersection over Union.
// Returns 0 when the union is empty.
func (b Box) IOU(o Box) float64 {
	intersection := b.Intersection(o).Area()
	union := b.Area() + o.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func boundsOf(points []Point) Box {
	if len(points) == 0 {
		return Box{}
	}
	b := points[0].Bounds()
	for _, p := range points[1:] {
		b.MinX = min(b.MinX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxX = max(b.MaxX, p.X)
		b.MaxY = max(b.MaxY, p.Y)
	}
	return b
}
