// Package scanannotator visualizes anomaly-detection results on medical images.
//
// An external vision model returns a verdict, a confidence score, free-text
// analysis and optionally a normalized bounding box and a base64 PNG
// segmentation mask. This package renders those annotations as overlays on the
// original image, keeps a persistent history of past results and exports a
// one-page PDF report.
//
// Basic usage:
//
//	cfg := scanannotator.DefaultConfig()
//	a, err := scanannotator.New(ctx, cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Close()
//
//	result, err := a.AnalyzeFile(ctx, "scan.png")
//	if err != nil {
//		log.Fatal(scanannotator.UserMessage(err))
//	}
//	fmt.Println(result.Verdict(), result.ConfidencePercent())
//
//	path, err := a.Session().Export(ctx, "reports")
//
// The package consists of these components:
//
//  1. Overlay (pkg/overlay): composites bounding boxes and masks over the source
//  2. View (pkg/view): the view-mode state machine with render supersession
//  3. History (pkg/history, pkg/storage): write-through result log on file, redis or memory
//  4. Report (pkg/report): A4 PDF export of the rendered report region
//  5. Detection (pkg/detection, pkg/ollama, pkg/llamacpp, pkg/gemini): the analyzer boundary
package scanannotator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/scan-annotator/internal/config"
	"github.com/menta2k/scan-annotator/internal/session"
	"github.com/menta2k/scan-annotator/internal/utils"
	"github.com/menta2k/scan-annotator/pkg/client"
	"github.com/menta2k/scan-annotator/pkg/detection"
	"github.com/menta2k/scan-annotator/pkg/gemini"
	"github.com/menta2k/scan-annotator/pkg/history"
	"github.com/menta2k/scan-annotator/pkg/llamacpp"
	"github.com/menta2k/scan-annotator/pkg/ollama"
	"github.com/menta2k/scan-annotator/pkg/overlay"
	"github.com/menta2k/scan-annotator/pkg/processing"
	"github.com/menta2k/scan-annotator/pkg/report"
	"github.com/menta2k/scan-annotator/pkg/storage"
	"github.com/menta2k/scan-annotator/pkg/types"
)

// Version of the scan annotator library
const Version = "1.0.0"

// Annotator wires the configured analyzer, renderer, history and exporter into a session
type Annotator struct {
	cfg       *config.Config
	log       logrus.FieldLogger
	processor *processing.Processor
	renderer  *overlay.Renderer
	exporter  *report.Exporter
	store     *history.Store
	session   *session.Session
	closers   []io.Closer
}

// DefaultConfig returns the default configuration
func DefaultConfig() *config.Config {
	return config.Default()
}

// New builds an Annotator from cfg and loads the persisted history.
// A history read failure is logged and the session continues with an empty history.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Annotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	vision, err := NewVisionClient(ctx, cfg.Analyzer)
	if err != nil {
		return nil, err
	}
	return NewWithClient(ctx, cfg, vision, log)
}

// NewWithClient builds an Annotator around an existing vision client
func NewWithClient(ctx context.Context, cfg *config.Config, vision client.VisionClient, log logrus.FieldLogger) (*Annotator, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	opts, err := cfg.Renderer.OverlayOptions()
	if err != nil {
		return nil, err
	}

	a := &Annotator{
		cfg:       cfg,
		log:       log,
		processor: processing.NewProcessor(),
		renderer:  overlay.NewWithOptions(opts, log),
		exporter:  report.NewExporter(report.Options{Scale: cfg.Report.Scale}, log),
	}
	if c, ok := vision.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	kv, err := NewHistoryKV(cfg.History, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := kv.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.store = history.NewStore(kv, history.WithKey(cfg.History.Key), history.WithLogger(log))

	detector := detection.NewDetector(vision, detection.Options{
		Model:             cfg.Analyzer.Model,
		Prompt:            cfg.Analyzer.Prompt,
		MaxDim:            cfg.Analyzer.MaxDimension,
		Quality:           cfg.Analyzer.Quality,
		RequestsPerSecond: cfg.Analyzer.RequestsPerSecond,
		Burst:             cfg.Analyzer.Burst,
	}, log)

	a.session = session.New(session.Deps{
		Analyzer:   detector,
		History:    a.store,
		Compositor: a.renderer,
		Exporter:   a.exporter,
		Loader:     a.processor,
		Log:        log,
	})

	if _, err := a.session.Start(ctx); err != nil {
		log.WithError(err).Warn("history unavailable, continuing with session-only history")
	}
	return a, nil
}

// NewVisionClient creates the vision client for the configured provider
func NewVisionClient(ctx context.Context, cfg config.AnalyzerConfig) (client.VisionClient, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewClient(cfg.URL, cfg.Timeout())
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, cfg.APIKey, cfg.Timeout())
	case "gemini":
		return gemini.NewClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown analyzer provider: %s", cfg.Provider)
	}
}

// NewHistoryKV creates the key-value store backing the history
func NewHistoryKV(cfg config.HistoryConfig, log logrus.FieldLogger) (storage.KV, error) {
	switch cfg.Backend {
	case "file":
		return storage.NewFileKV(cfg.Path), nil
	case "redis":
		return storage.NewRedisKV(storage.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, log), nil
	case "memory":
		return storage.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown history backend: %s", cfg.Backend)
	}
}

// Session returns the underlying session
func (a *Annotator) Session() *session.Session {
	return a.session
}

// Config returns the configuration in use
func (a *Annotator) Config() *config.Config {
	return a.cfg
}

// LoadImage reads an image reference (path, URL or data URI) and makes it current.
// File paths are made absolute so history entries resolve from any directory.
func (a *Annotator) LoadImage(ctx context.Context, ref string) error {
	ref = processing.ResolveRef(ref)
	data, err := a.processor.LoadSource(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrImageDecode, err)
	}
	return a.session.SetImage(ctx, ref, data, utils.DetectMIMEType(ref, data))
}

// EmbedImage reads ref and returns it as a data URI, so that history entries
// keep the image itself rather than a path that may move
func (a *Annotator) EmbedImage(ref string) (string, error) {
	data, err := a.processor.LoadSource(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrImageDecode, err)
	}
	return processing.DataURI(data, utils.DetectMIMEType(ref, data)), nil
}

// AnalyzeFile loads ref and analyzes it. The returned result is non-nil whenever
// it was applied; the error may then still report a degraded render or history write.
func (a *Annotator) AnalyzeFile(ctx context.Context, ref string) (*types.AnalysisResult, error) {
	if err := a.LoadImage(ctx, ref); err != nil {
		return nil, err
	}
	return a.session.Analyze(ctx)
}

// Render composites result over the image at ref without touching the session.
// It returns the PNG-encoded composite and, for results with a mask, its statistics.
func (a *Annotator) Render(ctx context.Context, ref string, result *types.AnalysisResult, mode types.ViewMode) ([]byte, *overlay.Stats, error) {
	data, err := a.processor.LoadSource(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrImageDecode, err)
	}
	canvas, renderErr := a.renderer.Render(ctx, data, result, mode)
	if canvas == nil {
		return nil, nil, renderErr
	}
	encoded, err := processing.EncodePNG(canvas)
	if err != nil {
		return nil, nil, err
	}

	var stats *overlay.Stats
	if result.HasVisualization() {
		if mask, err := overlay.DecodeMask(result.Localization.Mask); err == nil {
			s := overlay.MaskStats(mask)
			stats = &s
		}
	}
	return encoded, stats, renderErr
}

// SaveComposite writes the displayed composite in format png, jpg or webp
func (a *Annotator) SaveComposite(path, format string, quality int, lossless bool) error {
	composite := a.session.Composite()
	if composite == nil {
		return session.ErrNoImage
	}
	return a.processor.SaveImage(composite, path, format, quality, lossless)
}

// Close releases analyzer and storage connections
func (a *Annotator) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// UserMessage maps an error to a message safe to show the user
func UserMessage(err error) string {
	return session.UserMessage(err)
}
