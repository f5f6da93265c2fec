// Package vision prepares camera frames for classification and implements the
// classifier strategies.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Feed snapshots arrive as JPEG or PNG depending on the camera vendor.
	_ "image/png"

	"golang.org/x/image/draw"
)

// Crop fractions. Traffic cameras burn a timestamp into the top band and a
// portal logo into the bottom band; the model only wants sky and road.
const (
	cropTopFraction  = 0.15
	cropKeepFraction = 0.75

	// Model input dimensions.
	defaultTargetWidth  = 224
	defaultTargetHeight = 224
)

// Preprocessor crops overlays off a snapshot and resizes it to the model's
// input dimensions. The zero value is not usable; use NewPreprocessor.
type Preprocessor struct {
	width  int
	height int
}

// NewPreprocessor returns a preprocessor producing width x height JPEG frames.
// Non-positive dimensions fall back to the model default of 224.
func NewPreprocessor(width, height int) *Preprocessor {
	if width <= 0 {
		width = defaultTargetWidth
	}
	if height <= 0 {
		height = defaultTargetHeight
	}
	return &Preprocessor{width: width, height: height}
}

// Prepare decodes a raw snapshot, cuts the timestamp and logo bands, scales
// the remainder to the target size, and re-encodes as JPEG.
func (p *Preprocessor) Prepare(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	b := src.Bounds()
	cropY := b.Min.Y + int(float64(b.Dy())*cropTopFraction)
	cropH := int(float64(b.Dy()) * cropKeepFraction)
	if cropY+cropH > b.Max.Y {
		cropH = b.Max.Y - cropY
	}
	if cropH <= 0 {
		return nil, fmt.Errorf("snapshot too small to crop: %dx%d", b.Dx(), b.Dy())
	}
	roi := image.Rect(b.Min.X, cropY, b.Max.X, cropY+cropH)

	dst := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, roi, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
