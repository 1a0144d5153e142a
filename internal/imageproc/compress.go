package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	maxQuality  = 80
	minQuality  = 30
	qualityStep = 10
	minScale    = 0.3
)

// ErrTooLarge means no encoding within the target size exists.
var ErrTooLarge = errors.New("image too large")

type Compressed struct {
	Data    []byte
	Quality int
	Width   int
	Height  int
}

// Compress re-encodes a raster image as JPEG within target bytes. The image
// is downscaled by sqrt(target/size), never below minScale of its original
// dimensions, and flattened onto white. Qualities are tried from maxQuality
// down to minQuality. Images above maxPixels are rejected before decoding.
func Compress(d *Decoded, target, maxPixels int) (*Compressed, error) {
	if d.IsVector() {
		return nil, fmt.Errorf("%w: %d bytes of %s exceeds %d and vector images cannot be compressed", ErrTooLarge, len(d.Data), d.ContentType, target)
	}
	hdr, _, err := image.DecodeConfig(bytes.NewReader(d.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", d.ContentType, err)
	}
	if px := int64(hdr.Width) * int64(hdr.Height); maxPixels > 0 && px > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, hdr.Width, hdr.Height, maxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(d.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.ContentType, err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if len(d.Data) > target {
		scale := math.Sqrt(float64(target) / float64(len(d.Data)))
		if scale < minScale {
			scale = minScale
		}
		w = max(1, int(math.Round(float64(w)*scale)))
		h = max(1, int(math.Round(float64(h)*scale)))
	}
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Over, nil)

	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.DrawImage(scaled, 0, 0)
	flat := dc.Image()

	var buf bytes.Buffer
	for q := maxQuality; q >= minQuality; q -= qualityStep {
		buf.Reset()
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encode jpeg q=%d: %w", q, err)
		}
		if buf.Len() <= target {
			return &Compressed{Data: bytes.Clone(buf.Bytes()), Quality: q, Width: w, Height: h}, nil
		}
	}
	return nil, fmt.Errorf("%w: smallest encoding is %d bytes, limit %d", ErrTooLarge, buf.Len(), target)
}
