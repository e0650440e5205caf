// Package report renders an analysis into a one-page A4 PDF.
//
// The report region (composite image, verdict, confidence, location, analysis
// text) is laid out at a fixed base width and rasterized at a supersampling
// factor of at least 2 before being embedded into the page.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/scan-annotator/internal/utils"
	"github.com/menta2k/scan-annotator/pkg/overlay"
	"github.com/menta2k/scan-annotator/pkg/types"
)

const (
	// BaseWidth is the report region width in layout pixels
	BaseWidth = 480
	// MinScale is the lowest supersampling factor
	MinScale = 2
	// PageMarginMM is the margin around the embedded raster
	PageMarginMM = 10.0
	// FilePrefix starts every exported file name
	FilePrefix = "anomaly-report-"
)

// Report is everything shown in the exported region
type Report struct {
	Composite   image.Image
	Result      types.AnalysisResult
	Stats       *overlay.Stats
	GeneratedAt time.Time
}

// Options configures an Exporter
type Options struct {
	Scale int
	// Now stamps file names; defaults to time.Now
	Now func() time.Time
}

// Exporter turns reports into PDF documents
type Exporter struct {
	scale int
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewExporter creates an exporter; scales below MinScale are raised to it
func NewExporter(opts Options, log logrus.FieldLogger) *Exporter {
	if opts.Scale < MinScale {
		opts.Scale = MinScale
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Exporter{scale: opts.Scale, now: opts.Now, log: log}
}

// Scale returns the supersampling factor
func (e *Exporter) Scale() int {
	return e.scale
}

// Rasterize renders the report region at BaseWidth * Scale pixels wide
func (e *Exporter) Rasterize(ctx context.Context, r Report) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExport, err)
	}
	if r.Composite == nil || r.Composite.Bounds().Empty() {
		return nil, fmt.Errorf("%w: nothing to export", types.ErrExport)
	}

	fs, err := newFaces(float64(e.scale))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExport, err)
	}
	defer fs.Close()

	width := BaseWidth * e.scale
	measure := &page{faces: fs, scale: float64(e.scale), width: width}
	e.layout(measure, r)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExport, err)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, measure.y))
	p := &page{dst: canvas, faces: fs, scale: float64(e.scale), width: width}
	p.fill(canvas.Bounds(), white)
	e.layout(p, r)

	return canvas, nil
}

func (e *Exporter) layout(p *page, r Report) {
	pad := p.px(16)
	inner := p.width - 2*pad
	gap := p.px(12)
	p.y = pad

	p.line(p.faces.title, "Anomaly Analysis Report", pad, slate800)
	p.y += p.px(8)

	panel := image.Rect(pad, p.y, pad+inner, p.y+inner)
	p.panel(panel, r.Composite)
	p.y = panel.Max.Y + gap

	verdictColor, barColor := green600, green500
	if r.Result.TumorDetected {
		verdictColor, barColor = red600, red500
	}

	p.line(p.faces.heading, "VERDICT", pad, slate500)
	p.line(p.faces.emphasis, r.Result.Verdict(), pad, verdictColor)
	p.y += gap

	p.line(p.faces.heading, "CONFIDENCE SCORE", pad, slate500)
	percent := r.Result.ConfidencePercent()
	labelWidth := p.px(64)
	barHeight := p.px(8)
	barTop := p.y + (p.faces.emphasis.Metrics().Height.Ceil()-barHeight)/2
	track := image.Rect(pad, barTop, pad+inner-labelWidth, barTop+barHeight)
	p.fill(track, slate200)
	filled := int(float64(track.Dx()) * clamp01(r.Result.ConfidenceScore))
	p.fill(image.Rect(track.Min.X, track.Min.Y, track.Min.X+filled, track.Max.Y), barColor)
	p.line(p.faces.emphasis, percent, track.Max.X+p.px(8), verdictColor)
	p.y += gap

	if r.Result.TumorDetected {
		p.line(p.faces.heading, "PROBABLE LOCATION", pad, slate500)
		p.paragraph(p.faces.body, r.Result.Location, pad, inner, slate800)
		p.y += gap
	}

	p.line(p.faces.heading, "DETAILED ANALYSIS", pad, slate500)
	p.paragraph(p.faces.body, r.Result.Analysis, pad, inner, slate600)
	p.y += gap

	if r.Stats != nil && r.Stats.Pixels > 0 {
		p.line(p.faces.heading, "MASK COVERAGE", pad, slate500)
		p.line(p.faces.body, fmt.Sprintf("%.2f%% of the image, centred at (%.2f, %.2f)",
			r.Stats.Coverage*100, r.Stats.CentroidX, r.Stats.CentroidY), pad, slate800)
		p.line(p.faces.body, fmt.Sprintf("spread %.2f x %.2f", r.Stats.SpreadX, r.Stats.SpreadY), pad, slate800)
		p.y += gap
	}

	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = e.now()
	}
	p.line(p.faces.small, "Generated "+generated.Format("2006-01-02 15:04:05 MST"), pad, slate500)
	p.paragraph(p.faces.small, Disclaimer, pad, inner, slate500)
	p.y += pad
}

// Write renders the report and writes a single-page A4 PDF to w
func (e *Exporter) Write(ctx context.Context, r Report, w io.Writer) error {
	raster, err := e.Rasterize(ctx, r)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return fmt.Errorf("%w: encode raster: %v", types.ErrExport, err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(PageMarginMM, PageMarginMM, PageMarginMM)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Anomaly Analysis Report", true)
	pdf.SetCreator("scan-annotator", true)
	if !r.GeneratedAt.IsZero() {
		pdf.SetCreationDate(r.GeneratedAt)
		pdf.SetModificationDate(r.GeneratedAt)
	}
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	width, height := PlaceOnPage(raster.Bounds().Dx(), raster.Bounds().Dy(), pageW, pageH, PageMarginMM)

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("report", opts, &buf)
	pdf.ImageOptions("report", PageMarginMM, PageMarginMM, width, height, false, opts, 0, "")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrExport, err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("%w: encode pdf: %v", types.ErrExport, err)
	}
	return nil
}

// PlaceOnPage sizes a raster to the page width minus margins, keeping its aspect
// ratio; a height that still overflows is clamped and the content truncated.
func PlaceOnPage(pxW, pxH int, pageW, pageH, margin float64) (float64, float64) {
	width := pageW - 2*margin
	if pxW <= 0 || pxH <= 0 {
		return width, 0
	}
	height := width * float64(pxH) / float64(pxW)
	if limit := pageH - 2*margin; height > limit {
		height = limit
	}
	return width, height
}

// FileName returns the export file name for t
func FileName(t time.Time) string {
	return fmt.Sprintf("%s%d.pdf", FilePrefix, t.UnixMilli())
}

// Export writes the report into dir and returns the file path. The file
// appears only once complete; on failure nothing is left behind.
func (e *Exporter) Export(ctx context.Context, r Report, dir string) (string, error) {
	path := filepath.Join(dir, FileName(e.now()))

	err := utils.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		return e.Write(ctx, r, w)
	})
	if err != nil {
		e.log.WithError(err).WithField("path", path).Error("report export failed")
		if errors.Is(err, types.ErrExport) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", types.ErrExport, err)
	}

	e.log.WithField("path", path).Info("report exported")
	return path, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
