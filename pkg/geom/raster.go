package geom

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

// DefaultBufferRadius is the radius (in pixels) by which points and lines
// are grown before their IoU is measured.
const DefaultBufferRadius = 70.0

// BufferedIoU rasterizes onto a canvas whose longest side is this many pixels
const bufferedResolution = 512

// Pixels with a red value at or above this are considered "on"
const rasterThreshold = 128

// Transform maps input coordinates onto a raster: (p - Offset) * Scale
type Transform struct {
	OffsetX float64
	OffsetY float64
	Scale   float64
}

var Identity = Transform{Scale: 1}

func (t Transform) Apply(p Point) (float64, float64) {
	return (p.X - t.OffsetX) * t.Scale, (p.Y - t.OffsetY) * t.Scale
}

// Shape is anything that can be drawn onto a raster.
// radius grows the shape by that many input units on every side.
type Shape interface {
	Bounds() Box
	Draw(dc *gg.Context, t Transform, radius float64)
}

func (p Point) Draw(dc *gg.Context, t Transform, radius float64) {
	x, y := t.Apply(p)
	if radius <= 0 {
		dc.DrawRectangle(math.Floor(x), math.Floor(y), 1, 1)
	} else {
		dc.DrawCircle(x, y, radius*t.Scale)
	}
	dc.Fill()
}

func (l Line) Draw(dc *gg.Context, t Transform, radius float64) {
	if len(l) == 0 {
		return
	}
	dc.NewSubPath()
	for _, p := range l {
		x, y := t.Apply(p)
		dc.LineTo(x, y)
	}
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	if radius <= 0 {
		dc.SetLineWidth(1)
	} else {
		dc.SetLineWidth(2 * radius * t.Scale)
	}
	dc.Stroke()
}

func (p Polygon) Draw(dc *gg.Context, t Transform, radius float64) {
	if len(p) == 0 {
		return
	}
	dc.NewSubPath()
	for _, pt := range p {
		x, y := t.Apply(pt)
		dc.LineTo(x, y)
	}
	dc.ClosePath()
	if radius <= 0 {
		dc.Fill()
		return
	}
	dc.FillPreserve()
	dc.SetLineJoinRound()
	dc.SetLineWidth(2 * radius * t.Scale)
	dc.Stroke()
}

func (r Rect) Draw(dc *gg.Context, t Transform, radius float64) {
	r.Polygon().Draw(dc, t, radius)
}

// Rasterize draws shapes onto a new width x height canvas, in input coordinates
func Rasterize(width, height int, shapes []Shape, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	dc := gg.NewContextForRGBA(img)
	dc.SetColor(c)
	for _, s := range shapes {
		s.Draw(dc, Identity, 0)
	}
	return img
}

// RasterizeBitmap draws shapes in white and thresholds the result
func RasterizeBitmap(width, height int, shapes []Shape) *Bitmap {
	return BitmapFromImage(Rasterize(width, height, shapes, color.White), rasterThreshold)
}

// BufferedIoU grows both shapes by radius and measures the IoU of the
// grown regions. The regions are rasterized, so the result is approximate
// except for identical inputs, which always give exactly 1.
func BufferedIoU(a, b Shape, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	region := a.Bounds().Expand(radius).Union(b.Bounds().Expand(radius))
	side := max(region.Width(), region.Height())
	if side <= 0 {
		return 0
	}
	t := Transform{
		OffsetX: region.MinX,
		OffsetY: region.MinY,
		Scale:   bufferedResolution / side,
	}
	width := int(math.Ceil(region.Width()*t.Scale)) + 1
	height := int(math.Ceil(region.Height()*t.Scale)) + 1
	ra := drawBuffered(width, height, a, t, radius)
	rb := drawBuffered(width, height, b, t, radius)
	iou, _ := BitmapIoU(ra, rb)
	return iou
}

func drawBuffered(width, height int, s Shape, t Transform, radius float64) *Bitmap {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	dc := gg.NewContextForRGBA(img)
	dc.SetColor(color.White)
	s.Draw(dc, t, radius)
	return BitmapFromImage(img, rasterThreshold)
}
