package geom

import (
	"math"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/twpayne/go-geos"
)

// Areas smaller than this are treated as zero
const areaEpsilon = 1e-12

// All GEOS work goes through one context. go-geos serializes calls on a context.
var geosContext = geos.NewContext()

// Polygon is a ring of at least 3 points. The ring is closed implicitly,
// so the last point must not repeat the first (if it does, Clean removes it).
// Self-intersecting rings are allowed. They are repaired before any area
// computation.
type Polygon []Point

// MultiPolygon is a valid polygonal area: the result of repairing a Polygon.
// The zero value is empty.
type MultiPolygon struct {
	g *geos.Geom
}

func (p Polygon) Validate() error {
	if len(p.Clean()) < 3 {
		return labelerr.InvalidInput("", "polygon needs at least 3 distinct points, but has %v", len(p))
	}
	return nil
}

func (p Polygon) Bounds() Box {
	return boundsOf(p)
}

// SignedArea is positive for counter-clockwise rings (in a y-up frame)
func (p Polygon) SignedArea() float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return sum / 2
}

// Area of the polygon after repair. Always non-negative.
func (p Polygon) Area() float64 {
	return Repair(p).Area()
}

// Clean removes consecutive duplicate points and a closing point that repeats the first
func (p Polygon) Clean() Polygon {
	out := make(Polygon, 0, len(p))
	for _, pt := range p {
		if len(out) != 0 && out[len(out)-1] == pt {
			continue
		}
		out = append(out, pt)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// ring returns the GEOS coordinates of the closed ring, or nil if the
// polygon has fewer than 3 distinct points
func (p Polygon) ring() [][]float64 {
	c := p.Clean()
	if len(c) < 3 {
		return nil
	}
	coords := make([][]float64, 0, len(c)+1)
	for _, pt := range c {
		coords = append(coords, []float64{pt.X, pt.Y})
	}
	return append(coords, []float64{c[0].X, c[0].Y})
}

// IsSimple returns true if no two non-adjacent edges cross
func (p Polygon) IsSimple() bool {
	coords := p.ring()
	if coords == nil {
		return true
	}
	return geosContext.NewLinearRing(coords).IsSimple()
}

// Repair turns an arbitrary ring into a valid polygonal area.
// Wherever the ring crosses itself, it is split into separate loops.
// Collapsed parts (zero-area spikes and loops) are dropped.
func Repair(p Polygon) MultiPolygon {
	coords := p.ring()
	if coords == nil {
		return MultiPolygon{}
	}
	valid := geosContext.NewPolygon([][][]float64{coords}).MakeValid()
	parts := polygonalParts(valid, nil)
	if len(parts) == 0 {
		return MultiPolygon{}
	}
	return MultiPolygon{g: geosContext.NewCollection(geos.TypeIDMultiPolygon, parts)}
}

// polygonalParts collects copies of every non-empty polygon inside g.
// MakeValid can return lines and points alongside polygons when parts of a ring collapse.
func polygonalParts(g *geos.Geom, parts []*geos.Geom) []*geos.Geom {
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		if !g.IsEmpty() && g.Area() > areaEpsilon {
			parts = append(parts, g.Clone())
		}
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		for i := 0; i < g.NumGeometries(); i++ {
			parts = polygonalParts(g.Geometry(i), parts)
		}
	}
	return parts
}

func (m MultiPolygon) IsEmpty() bool {
	return m.g == nil || m.g.IsEmpty()
}

func (m MultiPolygon) Area() float64 {
	if m.IsEmpty() {
		return 0
	}
	return m.g.Area()
}

func (m MultiPolygon) Bounds() Box {
	if m.IsEmpty() {
		return Box{}
	}
	minX, minY, maxX, maxY := math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
	for _, part := range m.Parts() {
		b := part.Bounds()
		minX, minY = min(minX, b.MinX), min(minY, b.MinY)
		maxX, maxY = max(maxX, b.MaxX), max(maxY, b.MaxY)
	}
	return Box{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Parts returns the outer ring of every polygon, counter-clockwise, without a closing point.
// Holes are not returned.
func (m MultiPolygon) Parts() []Polygon {
	if m.IsEmpty() {
		return nil
	}
	parts := make([]Polygon, 0, m.g.NumGeometries())
	for i := 0; i < m.g.NumGeometries(); i++ {
		coords := m.g.Geometry(i).ExteriorRing().CoordSeq().ToCoords()
		ring := make(Polygon, 0, len(coords))
		for _, c := range coords {
			ring = append(ring, Point{c[0], c[1]})
		}
		ring = ring.Clean()
		if ring.SignedArea() < 0 {
			ring = reversed(ring)
		}
		parts = append(parts, ring)
	}
	return parts
}

func reversed(p Polygon) Polygon {
	out := make(Polygon, len(p))
	for i := range p {
		out[len(p)-1-i] = p[i]
	}
	return out
}

// IntersectionArea is the area shared by two multipolygons
func IntersectionArea(a, b MultiPolygon) float64 {
	if a.IsEmpty() || b.IsEmpty() {
		return 0
	}
	if !a.g.Intersects(b.g) {
		return 0
	}
	return a.g.Intersection(b.g).Area()
}

// PolygonIoU is area(a ∩ b) / area(a ∪ b).
// Both rings are repaired first. Degenerate inputs give 0.
func PolygonIoU(a, b Polygon) float64 {
	return MultiPolygonIoU(Repair(a), Repair(b))
}

func MultiPolygonIoU(a, b MultiPolygon) float64 {
	intersection := IntersectionArea(a, b)
	union := a.Area() + b.Area() - intersection
	if union <= areaEpsilon || intersection <= areaEpsilon {
		return 0
	}
	return min(1, intersection/union)
}
