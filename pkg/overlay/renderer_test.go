package overlay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/menta2k/scan-annotator/pkg/types"
)

var baseGray = color.NRGBA{100, 100, 100, 255}

// createTestImage creates a uniform opaque test image
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, baseGray)
		}
	}
	return img
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

// createMask returns a transparent mask with an opaque square in rect
func createMask(t testing.TB, width, height int, rect image.Rectangle) string {
	t.Helper()
	mask := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			mask.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	return base64.StdEncoding.EncodeToString(encodePNG(t, mask))
}

func positiveResult(box types.BoundingBox, mask string) *types.AnalysisResult {
	return &types.AnalysisResult{
		TumorDetected:   true,
		ConfidenceScore: 0.91,
		Analysis:        "well defined mass",
		Location:        "frontal lobe, left hemisphere",
		Localization:    &types.Localization{BoundingBox: box, Mask: mask},
	}
}

func near(a, b uint8, tol int) bool {
	d := int(a) - int(b)
	return d >= -tol && d <= tol
}

func blend(base, top uint8, opacity float64) uint8 {
	return uint8(math.Round(float64(base)*(1-opacity) + float64(top)*opacity))
}

func TestRenderOriginal(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(300, 200))
	result := positiveResult(types.BoundingBox{0.1, 0.1, 0.5, 0.5}, createMask(t, 300, 200, image.Rect(0, 0, 100, 100)))

	canvas, err := r.Render(context.Background(), src, result, types.ViewOriginal)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if canvas.Bounds() != image.Rect(0, 0, 300, 200) {
		t.Errorf("Expected native size 300x200, got %v", canvas.Bounds())
	}
	if !bytes.Equal(canvas.Pix, createTestImage(300, 200).Pix) {
		t.Error("Original view should equal the source image")
	}
}

func TestRenderBoundingBox(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(512, 512))
	result := positiveResult(types.BoundingBox{0.25, 0.25, 0.75, 0.75}, "")

	canvas, err := r.Render(context.Background(), src, result, types.ViewBoundingBox)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Interior is tinted at 20%
	inside := canvas.NRGBAAt(256, 256)
	if !near(inside.R, blend(100, 239, 0.2), 2) || !near(inside.G, blend(100, 68, 0.2), 2) {
		t.Errorf("Unexpected interior colour %v", inside)
	}

	// Edge carries the opaque outline
	edge := canvas.NRGBAAt(128, 256)
	if edge.R != 239 || edge.G != 68 || edge.B != 68 {
		t.Errorf("Expected outline colour on edge, got %v", edge)
	}

	// Outside is untouched
	if outside := canvas.NRGBAAt(20, 20); outside != baseGray {
		t.Errorf("Expected base colour outside box, got %v", outside)
	}
}

func TestRenderBoundingBoxStrokeScalesWithWidth(t *testing.T) {
	r := New()
	if got := r.StrokeWidth(200); got != 2 {
		t.Errorf("Expected minimum stroke 2, got %v", got)
	}
	if got := r.StrokeWidth(2000); math.Abs(got-10) > 1e-9 {
		t.Errorf("Expected stroke 10, got %v", got)
	}
}

func TestRenderMaskStencil(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(200, 200))
	result := positiveResult(types.BoundingBox{0, 0, 1, 1}, createMask(t, 200, 200, image.Rect(50, 50, 100, 100)))

	canvas, err := r.Render(context.Background(), src, result, types.ViewMask)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	in := canvas.NRGBAAt(75, 75)
	if !near(in.R, blend(100, 239, 0.6), 2) || !near(in.G, blend(100, 68, 0.6), 2) || in.A != 255 {
		t.Errorf("Unexpected stencil colour %v", in)
	}

	base := createTestImage(200, 200)
	for _, p := range []image.Point{{0, 0}, {49, 75}, {100, 100}, {199, 199}} {
		if got := canvas.NRGBAAt(p.X, p.Y); got != base.NRGBAAt(p.X, p.Y) {
			t.Errorf("Pixel %v outside mask changed: %v", p, got)
		}
	}
}

func TestRenderMaskScaledToCanvas(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(128, 128))
	// left half of a 64x64 mask
	result := positiveResult(types.BoundingBox{0, 0, 1, 1}, createMask(t, 64, 64, image.Rect(0, 0, 32, 64)))

	canvas, err := r.Render(context.Background(), src, result, types.ViewMask)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if canvas.NRGBAAt(10, 10) == baseGray {
		t.Error("Expected left half to be highlighted")
	}
	if canvas.NRGBAAt(100, 10) != baseGray {
		t.Error("Expected right half to be untouched")
	}
}

func TestRenderGrayMaskUsesLuminance(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(40, 40))

	mask := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 20; x < 40; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	payload := base64.StdEncoding.EncodeToString(encodePNG(t, mask))

	canvas, err := r.Render(context.Background(), src, positiveResult(types.BoundingBox{0, 0, 1, 1}, payload), types.ViewMask)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if canvas.NRGBAAt(5, 5) != baseGray {
		t.Error("Black mask pixels must not be highlighted")
	}
	if canvas.NRGBAAt(30, 5) == baseGray {
		t.Error("White mask pixels must be highlighted")
	}
}

func TestRenderOpaquePalettedMaskUsesLuminance(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(8, 8))

	palette := color.Palette{color.Gray{Y: 0}, color.Gray{Y: 255}}
	mask := image.NewPaletted(image.Rect(0, 0, 8, 8), palette)
	mask.SetColorIndex(4, 4, 1)
	payload := base64.StdEncoding.EncodeToString(encodePNG(t, mask))

	canvas, err := r.Render(context.Background(), src, positiveResult(types.BoundingBox{0, 0, 1, 1}, payload), types.ViewMask)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if canvas.NRGBAAt(0, 0) != baseGray {
		t.Error("Black palette entries must not be highlighted")
	}
	if canvas.NRGBAAt(4, 4) == baseGray {
		t.Error("White palette entries must be highlighted")
	}
}

func TestStencilPalettedWithTransparencyUsesAlpha(t *testing.T) {
	palette := color.Palette{color.NRGBA{0, 0, 0, 0}, color.NRGBA{0, 0, 0, 255}}
	mask := image.NewPaletted(image.Rect(0, 0, 4, 4), palette)
	mask.SetColorIndex(1, 1, 1)

	st := Stencil(mask, 4, 4)
	if st.AlphaAt(1, 1).A != 0xff {
		t.Error("Opaque palette entry must be set")
	}
	if st.AlphaAt(0, 0).A != 0 {
		t.Error("Transparent palette entry must stay clear")
	}
}

func TestRenderMaskDecodeFailureShowsBase(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(50, 50))
	result := positiveResult(types.BoundingBox{0, 0, 1, 1}, "bm90IGEgcG5n")

	canvas, err := r.Render(context.Background(), src, result, types.ViewMask)
	if !errors.Is(err, types.ErrMaskDecode) {
		t.Fatalf("Expected ErrMaskDecode, got %v", err)
	}
	if canvas == nil {
		t.Fatal("Expected base composite on mask failure")
	}
	if !bytes.Equal(canvas.Pix, createTestImage(50, 50).Pix) {
		t.Error("Base composite should equal the source")
	}
}

func TestRenderMalformedBox(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(50, 50))
	result := positiveResult(types.BoundingBox{0.5, 0.5, 1.5, 0.9}, "")

	canvas, err := r.Render(context.Background(), src, result, types.ViewBoundingBox)
	if !errors.Is(err, types.ErrMalformedAnnotation) {
		t.Fatalf("Expected ErrMalformedAnnotation, got %v", err)
	}
	if canvas == nil || !bytes.Equal(canvas.Pix, createTestImage(50, 50).Pix) {
		t.Error("Malformed box must not be drawn")
	}
}

func TestRenderMissingOrMissizedBox(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(50, 50))

	boxes := map[string]types.BoundingBox{
		"missing":      nil,
		"three values": {0.1, 0.2, 0.6},
		"five values":  {0.1, 0.2, 0.6, 0.7, 0.9},
	}
	for name, box := range boxes {
		canvas, err := r.Render(context.Background(), src, positiveResult(box, ""), types.ViewBoundingBox)
		if !errors.Is(err, types.ErrMalformedAnnotation) {
			t.Errorf("%s: expected ErrMalformedAnnotation, got %v", name, err)
		}
		if canvas == nil || !bytes.Equal(canvas.Pix, createTestImage(50, 50).Pix) {
			t.Errorf("%s: box must not be drawn", name)
		}
	}
}

func TestRenderSourceDecodeFailure(t *testing.T) {
	r := New()
	canvas, err := r.Render(context.Background(), []byte("garbage"), nil, types.ViewOriginal)
	if !errors.Is(err, types.ErrImageDecode) {
		t.Fatalf("Expected ErrImageDecode, got %v", err)
	}
	if canvas != nil {
		t.Error("Expected nil canvas on source decode failure")
	}
}

func TestRenderIgnoresLocalizationWithoutDetection(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(64, 64))
	result := positiveResult(types.BoundingBox{0.1, 0.1, 0.9, 0.9}, createMask(t, 64, 64, image.Rect(0, 0, 64, 64)))
	result.TumorDetected = false

	for _, mode := range types.ViewModes() {
		canvas, err := r.Render(context.Background(), src, result, mode)
		if err != nil {
			t.Fatalf("Render(%v) failed: %v", mode, err)
		}
		if !bytes.Equal(canvas.Pix, createTestImage(64, 64).Pix) {
			t.Errorf("Mode %v drew localization for a negative verdict", mode)
		}
	}
}

func TestRenderIdempotent(t *testing.T) {
	r := New()
	src := encodePNG(t, createTestImage(120, 90))
	result := positiveResult(types.BoundingBox{0.2, 0.2, 0.6, 0.7}, createMask(t, 120, 90, image.Rect(30, 20, 70, 60)))

	for _, mode := range types.ViewModes() {
		first, err := r.Render(context.Background(), src, result, mode)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		second, err := r.Render(context.Background(), src, result, mode)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if !bytes.Equal(first.Pix, second.Pix) {
			t.Errorf("Mode %v is not pixel identical across renders", mode)
		}
	}
}

func TestRenderCancelled(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.RenderImage(ctx, createTestImage(10, 10), nil, types.ViewOriginal); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMaskStats(t *testing.T) {
	mask := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 50; y++ {
		for x := 50; x < 100; x++ {
			mask.SetNRGBA(x, y, color.NRGBA{255, 0, 0, 255})
		}
	}

	s := MaskStats(mask)
	if s.Pixels != 2500 {
		t.Errorf("Expected 2500 pixels, got %d", s.Pixels)
	}
	if math.Abs(s.Coverage-0.25) > 1e-9 {
		t.Errorf("Expected coverage 0.25, got %v", s.Coverage)
	}
	if math.Abs(s.CentroidX-0.75) > 1e-9 || math.Abs(s.CentroidY-0.25) > 1e-9 {
		t.Errorf("Expected centroid (0.75, 0.25), got (%v, %v)", s.CentroidX, s.CentroidY)
	}
	// 50 evenly spaced columns: population std dev sqrt((50*50-1)/12) px
	wantSpread := math.Sqrt(2499.0/12) / 100
	if math.Abs(s.SpreadX-wantSpread) > 1e-9 || math.Abs(s.SpreadY-wantSpread) > 1e-9 {
		t.Errorf("Expected spread %v on both axes, got (%v, %v)", wantSpread, s.SpreadX, s.SpreadY)
	}

	single := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	single.SetNRGBA(3, 7, color.NRGBA{255, 255, 255, 255})
	if one := MaskStats(single); one.SpreadX != 0 || one.SpreadY != 0 {
		t.Errorf("Expected zero spread for a single pixel, got (%v, %v)", one.SpreadX, one.SpreadY)
	}

	if empty := MaskStats(image.NewNRGBA(image.Rect(0, 0, 10, 10))); empty.Pixels != 0 || empty.Coverage != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}

func BenchmarkRenderMask(b *testing.B) {
	r := New()
	src := encodePNG(b, createTestImage(1024, 1024))
	result := positiveResult(types.BoundingBox{0.2, 0.2, 0.6, 0.6}, createMask(b, 1024, 1024, image.Rect(200, 200, 600, 600)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Render(context.Background(), src, result, types.ViewMask)
	}
}
