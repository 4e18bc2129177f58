package geom

import (
	"image"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

// Bitmap is a binary raster. Bits is row-major, Width*Height long.
type Bitmap struct {
	Width  int
	Height int
	Bits   []bool
}

func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		Width:  width,
		Height: height,
		Bits:   make([]bool, width*height),
	}
}

// BitmapFromImage sets every pixel whose red channel (after alpha
// premultiplication) is at least threshold.
func BitmapFromImage(img image.Image, threshold uint8) *Bitmap {
	bounds := img.Bounds()
	bm := NewBitmap(bounds.Dx(), bounds.Dy())
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < bm.Height; y++ {
			row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+bm.Width*4]
			for x := 0; x < bm.Width; x++ {
				bm.Bits[y*bm.Width+x] = row[x*4] >= threshold
			}
		}
		return bm
	}
	for y := 0; y < bm.Height; y++ {
		for x := 0; x < bm.Width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			bm.Bits[y*bm.Width+x] = uint8(r>>8) >= threshold
		}
	}
	return bm
}

func (b *Bitmap) Get(x, y int) bool {
	return b.Bits[y*b.Width+x]
}

func (b *Bitmap) Set(x, y int, v bool) {
	b.Bits[y*b.Width+x] = v
}

func (b *Bitmap) SameShape(o *Bitmap) bool {
	return b.Width == o.Width && b.Height == o.Height
}

func (b *Bitmap) Count() int {
	n := 0
	for _, v := range b.Bits {
		if v {
			n++
		}
	}
	return n
}

// Or merges o into b
func (b *Bitmap) Or(o *Bitmap) error {
	if !b.SameShape(o) {
		return shapeMismatch(b, o)
	}
	for i, v := range o.Bits {
		b.Bits[i] = b.Bits[i] || v
	}
	return nil
}

// And returns a new bitmap that is set where both inputs are set
func (b *Bitmap) And(o *Bitmap) (*Bitmap, error) {
	if !b.SameShape(o) {
		return nil, shapeMismatch(b, o)
	}
	out := NewBitmap(b.Width, b.Height)
	for i := range b.Bits {
		out.Bits[i] = b.Bits[i] && o.Bits[i]
	}
	return out, nil
}

// UnionAll ORs all of the bitmaps together.
// Returns nil if the list is empty.
func UnionAll(bitmaps []*Bitmap) (*Bitmap, error) {
	if len(bitmaps) == 0 {
		return nil, nil
	}
	out := NewBitmap(bitmaps[0].Width, bitmaps[0].Height)
	for _, bm := range bitmaps {
		if err := out.Or(bm); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PixelCounts returns the per-pixel confusion counts of prediction against ground truth
func PixelCounts(groundTruth, prediction *Bitmap) (tp, fp, tn, fn int, err error) {
	if !groundTruth.SameShape(prediction) {
		return 0, 0, 0, 0, shapeMismatch(groundTruth, prediction)
	}
	for i := range groundTruth.Bits {
		g := groundTruth.Bits[i]
		p := prediction.Bits[i]
		switch {
		case g && p:
			tp++
		case !g && p:
			fp++
		case g && !p:
			fn++
		default:
			tn++
		}
	}
	return
}

// BitmapIoU is Σ(a ∧ b) / Σ(a ∨ b). An empty union gives 0.
func BitmapIoU(a, b *Bitmap) (float64, error) {
	if !a.SameShape(b) {
		return 0, shapeMismatch(a, b)
	}
	intersection := 0
	union := 0
	for i := range a.Bits {
		if a.Bits[i] && b.Bits[i] {
			intersection++
		}
		if a.Bits[i] || b.Bits[i] {
			union++
		}
	}
	if union == 0 {
		return 0, nil
	}
	return float64(intersection) / float64(union), nil
}

func shapeMismatch(a, b *Bitmap) error {
	return labelerr.ShapeMismatch("mask canvases differ: %vx%v vs %vx%v", a.Width, a.Height, b.Width, b.Height)
}
