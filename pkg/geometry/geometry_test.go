package geometry

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/menta2k/scan-annotator/pkg/types"
)

const eps = 1e-9

func TestToPixelsExact(t *testing.T) {
	rect, err := ToPixels(types.BoundingBox{0.25, 0.25, 0.75, 0.75}, 512, 512)
	if err != nil {
		t.Fatalf("ToPixels failed: %v", err)
	}

	want := Rect{X: 128, Y: 128, Width: 256, Height: 256}
	if rect != want {
		t.Errorf("Expected %+v, got %+v", want, rect)
	}

	if got := rect.Image(); got != image.Rect(128, 128, 384, 384) {
		t.Errorf("Expected image rect (128,128)-(384,384), got %v", got)
	}
}

func TestToPixelsIndependentAxes(t *testing.T) {
	rect, err := ToPixels(types.BoundingBox{0.1, 0.5, 0.6, 1.0}, 1000, 200)
	if err != nil {
		t.Fatalf("ToPixels failed: %v", err)
	}

	if math.Abs(rect.X-100) > eps || math.Abs(rect.Width-500) > eps {
		t.Errorf("Unexpected horizontal mapping: %+v", rect)
	}
	if math.Abs(rect.Y-100) > eps || math.Abs(rect.Height-100) > eps {
		t.Errorf("Unexpected vertical mapping: %+v", rect)
	}
}

func TestToPixelsStaysInsideRaster(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		a, b := rng.Float64(), rng.Float64()
		c, d := rng.Float64(), rng.Float64()
		box := types.BoundingBox{math.Min(a, b), math.Min(c, d), math.Max(a, b), math.Max(c, d)}
		w, h := 1+rng.Intn(4096), 1+rng.Intn(4096)

		rect, err := ToPixels(box, w, h)
		if err != nil {
			t.Fatalf("ToPixels(%v, %d, %d) failed: %v", box, w, h, err)
		}

		if rect.X < -eps || rect.MaxX() > float64(w)+eps || rect.Width < -eps {
			t.Fatalf("Horizontal extent outside raster: box=%v w=%d rect=%+v", box, w, rect)
		}
		if rect.Y < -eps || rect.MaxY() > float64(h)+eps || rect.Height < -eps {
			t.Fatalf("Vertical extent outside raster: box=%v h=%d rect=%+v", box, h, rect)
		}
	}
}

func TestToPixelsMalformed(t *testing.T) {
	cases := map[string]types.BoundingBox{
		"negative":     {-0.1, 0, 0.5, 0.5},
		"above one":    {0, 0, 1.2, 0.5},
		"nan":          {0, math.NaN(), 0.5, 0.5},
		"x inverted":   {0.8, 0.1, 0.2, 0.5},
		"y inverted":   {0.1, 0.9, 0.2, 0.5},
		"pixel values": {12, 30, 200, 180},
		"nil":          nil,
		"empty":        {},
		"three values": {0.1, 0.2, 0.6},
		"five values":  {0.1, 0.2, 0.6, 0.7, 0.9},
	}

	for name, box := range cases {
		_, err := ToPixels(box, 100, 100)
		if !errors.Is(err, types.ErrMalformedAnnotation) {
			t.Errorf("%s: expected ErrMalformedAnnotation, got %v", name, err)
		}
	}
}

func TestToPixelsInvalidRaster(t *testing.T) {
	if _, err := ToPixels(types.BoundingBox{0, 0, 1, 1}, 0, 10); err == nil {
		t.Error("Expected error for zero width raster")
	}
}

func TestStrokeWidth(t *testing.T) {
	if got := StrokeWidth(100); got != MinStrokeWidth {
		t.Errorf("Expected minimum stroke %v, got %v", MinStrokeWidth, got)
	}
	if got := StrokeWidth(4000); math.Abs(got-20) > eps {
		t.Errorf("Expected stroke 20 for 4000px, got %v", got)
	}
}

func TestFitRect(t *testing.T) {
	w, h := FitRect(400, 200, 100, 100)
	if math.Abs(w-100) > eps || math.Abs(h-50) > eps {
		t.Errorf("Expected 100x50, got %vx%v", w, h)
	}

	w, h = FitRect(0, 10, 100, 100)
	if w != 0 || h != 0 {
		t.Errorf("Expected 0x0 for empty source, got %vx%v", w, h)
	}
}

func BenchmarkToPixels(b *testing.B) {
	box := types.BoundingBox{0.2, 0.3, 0.6, 0.7}
	for i := 0; i < b.N; i++ {
		_, _ = ToPixels(box, 1920, 1080)
	}
}
