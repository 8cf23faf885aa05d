// Package imaging normalizes uploaded machine schematics before they are
// stored.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrTooLarge      = errors.New("image exceeds the upload size limit")
	ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")
	ErrUnsupported   = errors.New("unsupported image format")
)

// sourceSideFactor is how many times MaxSide a source side may be before
// the upload is refused instead of scaled.
const sourceSideFactor = 4

// Transformer bounds and re-encodes images.
type Transformer struct {
	MaxBytes  int64
	MaxSide   int
	MaxPixels int64
}

// New returns a Transformer with the given limits; non-positive values fall
// back to 5 MiB and 1600 px. The source pixel budget follows from maxSide.
func New(maxBytes int64, maxSide int) *Transformer {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	if maxSide <= 0 {
		maxSide = 1600
	}
	side := int64(maxSide) * sourceSideFactor
	return &Transformer{MaxBytes: maxBytes, MaxSide: maxSide, MaxPixels: side * side}
}

// Transform decodes data, scales it down so neither side exceeds MaxSide and
// re-encodes it as PNG. Metadata of the source is dropped. The returned
// content type is always image/png.
func (t *Transformer) Transform(data []byte) ([]byte, string, error) {
	if int64(len(data)) > t.MaxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), t.MaxBytes)
	}

	// The header is checked first; Decode allocates the declared canvas.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := t.checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, "", err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	dst := t.fit(src)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, "", fmt.Errorf("failed to encode %s image as png: %w", format, err)
	}
	return buf.Bytes(), "image/png", nil
}

func (t *Transformer) checkPixels(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty %dx%d image", ErrUnsupported, w, h)
	}
	if t.MaxPixels > 0 && int64(w)*int64(h) > t.MaxPixels {
		return fmt.Errorf("%w: %dx%d, limit %d pixels", ErrTooManyPixels, w, h, t.MaxPixels)
	}
	return nil
}

func (t *Transformer) fit(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= t.MaxSide && h <= t.MaxSide {
		return src
	}

	if w >= h {
		h = max(1, h*t.MaxSide/w)
		w = t.MaxSide
	} else {
		w = max(1, w*t.MaxSide/h)
		h = t.MaxSide
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
