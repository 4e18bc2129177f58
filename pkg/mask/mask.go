// Package mask holds raster segmentation masks.
// A mask is either a reference to a (possibly shared) composite image plus the
// RGB color of one instance, or an inline canvas. Before any pixel operation
// the mask is materialized into a geom.Bitmap.
package mask

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

type RGB [3]uint8

var White = RGB{255, 255, 255}

type Mask struct {
	URL   string      // Reference to an image holding one or more instances
	Color RGB         // Pixels of exactly this color belong to the instance
	Image *cimg.Image // Inline canvas. If not nil, URL is ignored.
}

// FromURL references an instance inside an image that must be fetched
func FromURL(url string, color RGB) *Mask {
	return &Mask{
		URL:   url,
		Color: color,
	}
}

// FromImage wraps an inline RGB canvas. Only pixels matching color are part of the mask.
func FromImage(img *cimg.Image, color RGB) *Mask {
	return &Mask{
		Image: img,
		Color: color,
	}
}

// FromBitmap creates an inline white-on-black mask
func FromBitmap(bm *geom.Bitmap) *Mask {
	img := cimg.NewImage(bm.Width, bm.Height, cimg.PixelFormatRGB)
	for y := 0; y < bm.Height; y++ {
		row := img.Pixels[y*img.Stride:]
		for x := 0; x < bm.Width; x++ {
			if bm.Get(x, y) {
				row[x*3] = 255
				row[x*3+1] = 255
				row[x*3+2] = 255
			}
		}
	}
	return FromImage(img, White)
}

// FromRGBA converts a drawn image (eg from geom.Rasterize) into an inline mask.
// Pixels are premultiplied, so only fully opaque pixels keep their exact color.
func FromRGBA(src *image.RGBA, color RGB) *Mask {
	return FromImage(fromStdImage(src), color)
}

func (m *Mask) IsInline() bool {
	return m.Image != nil
}

func (m *Mask) Validate() error {
	if m.Image == nil && m.URL == "" {
		return labelerr.InvalidInput("", "mask has neither an instance URI nor an inline image")
	}
	if m.Image != nil && (m.Image.Width <= 0 || m.Image.Height <= 0) {
		return labelerr.InvalidInput("", "inline mask is empty")
	}
	return nil
}

// Canvas returns the full RGB canvas of the mask, fetching it if necessary
func (m *Mask) Canvas(ctx context.Context, fetcher Fetcher) (*cimg.Image, error) {
	if m.Image != nil {
		return m.Image, nil
	}
	if fetcher == nil {
		return nil, fmt.Errorf("No fetcher to retrieve mask %v", m.URL)
	}
	raw, err := fetcher.Fetch(ctx, m.URL)
	if err != nil {
		return nil, err
	}
	img, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode mask %v: %w", m.URL, err)
	}
	return img, nil
}

// Materialize selects the pixels that belong to this instance
func (m *Mask) Materialize(ctx context.Context, fetcher Fetcher) (*geom.Bitmap, error) {
	img, err := m.Canvas(ctx, fetcher)
	if err != nil {
		return nil, err
	}
	return SelectColor(img, m.Color), nil
}

// SelectColor returns a bitmap of every pixel in img equal to color
func SelectColor(img *cimg.Image, color RGB) *geom.Bitmap {
	bm := geom.NewBitmap(img.Width, img.Height)
	nchan := img.NChan()
	for y := 0; y < img.Height; y++ {
		row := img.Pixels[y*img.Stride:]
		for x := 0; x < img.Width; x++ {
			p := row[x*nchan:]
			var match bool
			if nchan < 3 {
				match = p[0] == color[0] && p[0] == color[1] && p[0] == color[2]
			} else {
				match = p[0] == color[0] && p[1] == color[1] && p[2] == color[2]
			}
			if match {
				bm.Bits[y*bm.Width+x] = true
			}
		}
	}
	return bm
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// Decode turns PNG or JPEG bytes into an RGB image
func Decode(raw []byte) (*cimg.Image, error) {
	switch {
	case bytes.HasPrefix(raw, pngSignature):
		src, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return fromStdImage(src), nil
	case len(raw) > 2 && raw[0] == 0xff && raw[1] == 0xd8:
		img, err := cimg.Decompress(raw)
		if err != nil {
			return nil, err
		}
		if img.NChan() != 3 {
			img = img.ToRGB()
		}
		return img, nil
	}
	return nil, labelerr.InvalidInput("", "mask image is neither PNG nor JPEG")
}

// EncodePNG encodes an RGB canvas losslessly, for inline transport
func EncodePNG(img *cimg.Image) ([]byte, error) {
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	dst := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < img.Width; x++ {
			out[x*4] = src[x*3]
			out[x*4+1] = src[x*3+1]
			out[x*4+2] = src[x*3+2]
			out[x*4+3] = 255
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromStdImage(src image.Image) *cimg.Image {
	b := src.Bounds()
	img := cimg.NewImage(b.Dx(), b.Dy(), cimg.PixelFormatRGB)
	for y := 0; y < img.Height; y++ {
		row := img.Pixels[y*img.Stride:]
		for x := 0; x < img.Width; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x*3] = uint8(r >> 8)
			row[x*3+1] = uint8(g >> 8)
			row[x*3+2] = uint8(bl >> 8)
		}
	}
	return img
}
