// Package overlay composites localization annotations over source images.
//
// A composite is always sized to the source image's native pixel dimensions so
// overlays stay independent of any display size. Three view modes are supported:
// the raw image, a highlighted bounding box and a segmentation mask stencil.
package overlay

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/menta2k/scan-annotator/pkg/geometry"
	"github.com/menta2k/scan-annotator/pkg/processing"
	"github.com/menta2k/scan-annotator/pkg/types"
)

// Options controls overlay colours and stroke sizing
type Options struct {
	Highlight      color.NRGBA
	MinStroke      float64
	StrokeRatio    float64
	BoxFillOpacity float64
	MaskOpacity    float64
}

// DefaultOptions returns the standard red highlight styling
func DefaultOptions() Options {
	return Options{
		Highlight:      color.NRGBA{R: 239, G: 68, B: 68, A: 255},
		MinStroke:      geometry.MinStrokeWidth,
		StrokeRatio:    geometry.StrokeRatio,
		BoxFillOpacity: 0.2,
		MaskOpacity:    0.6,
	}
}

// Renderer draws view modes onto a raster canvas
type Renderer struct {
	opts Options
	log  logrus.FieldLogger
}

// New creates a renderer with default options
func New() *Renderer {
	return NewWithOptions(DefaultOptions(), nil)
}

// NewWithOptions creates a renderer with custom options and logger
func NewWithOptions(opts Options, log logrus.FieldLogger) *Renderer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Renderer{opts: opts, log: log}
}

// Options returns the renderer options
func (r *Renderer) Options() Options {
	return r.opts
}

// Render decodes src and composites the requested view mode over it.
//
// A source decode failure returns a nil canvas and an error wrapping types.ErrImageDecode.
// Overlay failures (bad mask payload, malformed box) return the base composite together
// with an error wrapping types.ErrMaskDecode or types.ErrMalformedAnnotation.
func (r *Renderer) Render(ctx context.Context, src []byte, result *types.AnalysisResult, mode types.ViewMode) (*image.NRGBA, error) {
	base, err := processing.DecodeImage(src)
	if err != nil {
		return nil, err
	}
	return r.RenderImage(ctx, base, result, mode)
}

// RenderImage composites the requested view mode over an already decoded image
func (r *Renderer) RenderImage(ctx context.Context, base image.Image, result *types.AnalysisResult, mode types.ViewMode) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas := baseLayer(base)
	if !mode.RequiresLocalization() || !result.HasVisualization() {
		return canvas, nil
	}

	loc := result.Localization
	switch mode {
	case types.ViewBoundingBox:
		if err := r.DrawBoundingBox(canvas, loc.BoundingBox); err != nil {
			r.log.WithError(err).Warn("bounding box not drawn")
			return canvas, err
		}
	case types.ViewMask:
		mask, err := DecodeMask(loc.Mask)
		if err != nil {
			r.log.WithError(err).Warn("mask not drawn, showing base image")
			return canvas, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.DrawMask(canvas, mask)
	default:
		return canvas, fmt.Errorf("unsupported view mode: %v", mode)
	}

	return canvas, nil
}

// baseLayer allocates a canvas at the source's native size and draws the source onto it
func baseLayer(src image.Image) *image.NRGBA {
	b := src.Bounds()
	canvas := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)
	return canvas
}

// StrokeWidth returns the outline width used for a canvas of the given width
func (r *Renderer) StrokeWidth(width int) float64 {
	return math.Max(r.opts.MinStroke, r.opts.StrokeRatio*float64(width))
}

// DrawBoundingBox strokes and tints a normalized box on the canvas
func (r *Renderer) DrawBoundingBox(canvas *image.NRGBA, box types.BoundingBox) error {
	bounds := canvas.Bounds()
	rect, err := geometry.ToPixels(box, bounds.Dx(), bounds.Dy())
	if err != nil {
		return err
	}

	stroke := image.NewUniform(r.opts.Highlight)
	fill := image.NewUniform(withOpacity(r.opts.Highlight, r.opts.BoxFillOpacity))

	// The outline is centred on the rectangle edge
	half := r.StrokeWidth(bounds.Dx()) / 2
	outer := geometry.Rect{X: rect.X - half, Y: rect.Y - half, Width: rect.Width + 2*half, Height: rect.Height + 2*half}.Image()
	inner := geometry.Rect{X: rect.X + half, Y: rect.Y + half, Width: rect.Width - 2*half, Height: rect.Height - 2*half}.Image()

	if inner.Dx() <= 0 || inner.Dy() <= 0 {
		draw.Draw(canvas, outer.Intersect(bounds), stroke, image.Point{}, draw.Over)
	} else {
		bands := []image.Rectangle{
			image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y), // top
			image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y), // bottom
			image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y), // left
			image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y), // right
		}
		for _, band := range bands {
			draw.Draw(canvas, band.Intersect(bounds), stroke, image.Point{}, draw.Over)
		}
	}

	draw.Draw(canvas, rect.Image().Intersect(bounds), fill, image.Point{}, draw.Over)
	return nil
}

// DrawMask paints the highlight colour wherever the mask has non-zero opacity.
// The mask's own colour data is discarded; it is stretched to the canvas size first.
func (r *Renderer) DrawMask(canvas *image.NRGBA, mask image.Image) {
	st := Stencil(mask, canvas.Bounds().Dx(), canvas.Bounds().Dy())
	paint := image.NewUniform(withOpacity(r.opts.Highlight, r.opts.MaskOpacity))
	draw.DrawMask(canvas, canvas.Bounds(), paint, image.Point{}, st, image.Point{}, draw.Over)

	r.log.WithFields(logrus.Fields{
		"width":  canvas.Bounds().Dx(),
		"height": canvas.Bounds().Dy(),
	}).Debug("mask stencil composited")
}

// DecodeMask decodes a base64 mask payload. Failures wrap types.ErrMaskDecode.
func DecodeMask(payload string) (image.Image, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty mask payload", types.ErrMaskDecode)
	}
	img, err := processing.DecodeBase64Image(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMaskDecode, err)
	}
	return img, nil
}

// Stencil builds a binary w x h alpha stencil from a mask image.
// Pixels with any opacity become fully opaque. Gray masks and paletted masks
// without transparency use luminance as opacity.
func Stencil(mask image.Image, w, h int) *image.Alpha {
	b := mask.Bounds()
	src := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	gray := usesLuminance(mask)

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := mask.At(b.Min.X+x, b.Min.Y+y)
			var v uint32
			if gray {
				v, _, _, _ = color.Gray16Model.Convert(c).RGBA()
			} else {
				_, _, _, v = c.RGBA()
			}
			if v > 0 {
				src.Pix[y*src.Stride+x] = 0xff
			}
		}
	}

	if b.Dx() == w && b.Dy() == h {
		return src
	}

	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func usesLuminance(img image.Image) bool {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return false
			}
		}
		return len(m.Palette) > 0
	}
	return false
}

func withOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	c.A = uint8(math.Round(opacity * 255))
	return c
}
