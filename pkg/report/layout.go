package report

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/scan-annotator/pkg/geometry"
)

// Disclaimer is printed at the bottom of every report
const Disclaimer = "This AI-generated analysis is for informational purposes only and is not a substitute for professional medical advice, diagnosis, or treatment."

var (
	white     = color.NRGBA{255, 255, 255, 255}
	slate100  = color.NRGBA{241, 245, 249, 255}
	slate200  = color.NRGBA{226, 232, 240, 255}
	slate500  = color.NRGBA{100, 116, 139, 255}
	slate600  = color.NRGBA{71, 85, 105, 255}
	slate800  = color.NRGBA{30, 41, 59, 255}
	red600    = color.NRGBA{220, 38, 38, 255}
	red500    = color.NRGBA{239, 68, 68, 255}
	green600  = color.NRGBA{22, 163, 74, 255}
	green500  = color.NRGBA{34, 197, 94, 255}
	fontsOnce sync.Once
	fontsErr  error
	regular   *opentype.Font
	bold      *opentype.Font
)

func loadFonts() error {
	fontsOnce.Do(func() {
		if regular, fontsErr = opentype.Parse(goregular.TTF); fontsErr != nil {
			return
		}
		bold, fontsErr = opentype.Parse(gobold.TTF)
	})
	return fontsErr
}

// faces holds the font faces for one rendering scale
type faces struct {
	title, heading, body, emphasis, small font.Face
}

func newFaces(scale float64) (*faces, error) {
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("failed to parse fonts: %w", err)
	}

	mk := func(f *opentype.Font, size float64) (font.Face, error) {
		// No hinting, the raster is supersampled instead
		return opentype.NewFace(f, &opentype.FaceOptions{Size: size * scale, DPI: 72, Hinting: font.HintingNone})
	}

	var (
		fs  faces
		err error
	)
	if fs.title, err = mk(bold, 20); err != nil {
		return nil, err
	}
	if fs.heading, err = mk(bold, 11); err != nil {
		return nil, err
	}
	if fs.body, err = mk(regular, 13); err != nil {
		return nil, err
	}
	if fs.emphasis, err = mk(bold, 16); err != nil {
		return nil, err
	}
	if fs.small, err = mk(regular, 10); err != nil {
		return nil, err
	}
	return &fs, nil
}

func (f *faces) Close() {
	for _, face := range []font.Face{f.title, f.heading, f.body, f.emphasis, f.small} {
		if face != nil {
			face.Close()
		}
	}
}

// page draws the report region top to bottom. With a nil dst it only measures.
type page struct {
	dst   *image.NRGBA
	faces *faces
	scale float64
	width int
	y     int
}

func (p *page) px(v float64) int {
	return int(math.Round(v * p.scale))
}

func (p *page) line(face font.Face, text string, x int, col color.Color) {
	m := face.Metrics()
	if p.dst != nil {
		d := &font.Drawer{
			Dst:  p.dst,
			Src:  image.NewUniform(col),
			Face: face,
			Dot:  fixed.P(x, p.y+m.Ascent.Ceil()),
		}
		d.DrawString(text)
	}
	p.y += m.Height.Ceil()
}

func (p *page) paragraph(face font.Face, text string, x, maxWidth int, col color.Color) {
	for _, l := range wrap(face, text, maxWidth) {
		p.line(face, l, x, col)
	}
}

func (p *page) fill(r image.Rectangle, col color.Color) {
	if p.dst != nil {
		draw.Draw(p.dst, r, image.NewUniform(col), image.Point{}, draw.Src)
	}
}

// panel draws the composite centered in a square frame
func (p *page) panel(r image.Rectangle, img image.Image) {
	p.fill(r, slate200)
	border := p.px(1)
	inner := r.Inset(border)
	p.fill(inner, slate100)

	if p.dst == nil || img == nil {
		return
	}
	b := img.Bounds()
	w, h := geometry.FitRect(float64(b.Dx()), float64(b.Dy()), float64(inner.Dx()), float64(inner.Dy()))
	tw, th := max(1, int(math.Round(w))), max(1, int(math.Round(h)))
	scaled := imaging.Resize(img, tw, th, imaging.Lanczos)

	off := image.Pt(inner.Min.X+(inner.Dx()-tw)/2, inner.Min.Y+(inner.Dy()-th)/2)
	draw.Draw(p.dst, image.Rectangle{Min: off, Max: off.Add(image.Pt(tw, th))}, scaled, image.Point{}, draw.Over)
}

// wrap splits text into lines no wider than maxWidth; explicit newlines are kept
func wrap(face font.Face, text string, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			candidate := current + " " + word
			if font.MeasureString(face, candidate).Ceil() <= maxWidth {
				current = candidate
				continue
			}
			lines = append(lines, current)
			current = word
		}
		lines = append(lines, current)
	}
	return lines
}
