// Package geometry maps normalized annotation coordinates to pixel space.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/menta2k/scan-annotator/pkg/types"
)

const (
	// MinStrokeWidth is the thinnest outline drawn, in pixels
	MinStrokeWidth = 2.0
	// StrokeRatio scales the outline with the image width
	StrokeRatio = 0.005
)

// Rect is a pixel-space rectangle with float precision
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// MaxX returns the right edge
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MaxY returns the bottom edge
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Image rounds the rectangle to integer pixel bounds
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.MaxX())),
		int(math.Round(r.MaxY())),
	)
}

// ToPixels scales a normalized bounding box to a w x h raster.
// Each axis is scaled independently; nothing is clamped.
func ToPixels(box types.BoundingBox, w, h int) (Rect, error) {
	if w <= 0 || h <= 0 {
		return Rect{}, fmt.Errorf("invalid raster size %dx%d", w, h)
	}
	if err := Validate(box); err != nil {
		return Rect{}, err
	}

	fw, fh := float64(w), float64(h)
	return Rect{
		X:      box.XMin() * fw,
		Y:      box.YMin() * fh,
		Width:  (box.XMax() - box.XMin()) * fw,
		Height: (box.YMax() - box.YMin()) * fh,
	}, nil
}

// Validate checks the box has four values and 0 <= min <= max <= 1 on both axes
func Validate(box types.BoundingBox) error {
	if !box.Valid() {
		return fmt.Errorf("%w: bounding box needs 4 values, got %d", types.ErrMalformedAnnotation, len(box))
	}
	for i, v := range box {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: bounding box value %d out of range: %v", types.ErrMalformedAnnotation, i, v)
		}
	}
	if box.XMin() > box.XMax() {
		return fmt.Errorf("%w: xMin %.4f > xMax %.4f", types.ErrMalformedAnnotation, box.XMin(), box.XMax())
	}
	if box.YMin() > box.YMax() {
		return fmt.Errorf("%w: yMin %.4f > yMax %.4f", types.ErrMalformedAnnotation, box.YMin(), box.YMax())
	}
	return nil
}

// StrokeWidth returns the outline width for an image of the given pixel width
func StrokeWidth(width int) float64 {
	return math.Max(MinStrokeWidth, StrokeRatio*float64(width))
}

// FitRect scales a srcW x srcH area to fit inside maxW x maxH preserving aspect ratio
func FitRect(srcW, srcH, maxW, maxH float64) (float64, float64) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	scale := math.Min(maxW/srcW, maxH/srcH)
	return srcW * scale, srcH * scale
}
