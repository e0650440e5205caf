package detection

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/menta2k/scan-annotator/pkg/client"
	"github.com/menta2k/scan-annotator/pkg/processing"
	"github.com/menta2k/scan-annotator/pkg/types"
)

// Options configures a Detector
type Options struct {
	Model string
	// Prompt overrides DefaultPrompt when set
	Prompt string
	// MaxDim downsizes the long side before upload; 0 sends the image as is
	MaxDim  int
	Quality int
	// RequestsPerSecond throttles model calls; 0 disables throttling
	RequestsPerSecond float64
	Burst             int
}

// Detector turns an image into a validated AnalysisResult using a vision model
type Detector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      Options
	limiter   *rate.Limiter
	log       logrus.FieldLogger
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, opts Options, log logrus.FieldLogger) *Detector {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	d := &Detector{client: c, processor: processing.NewProcessor(), opts: opts, log: log}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return d
}

// Analyze sends the image to the model and returns the validated result.
// Every failure wraps types.ErrAnalyzer.
func (d *Detector) Analyze(ctx context.Context, data []byte, mimeType string) (*types.AnalysisResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", types.ErrAnalyzer)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAnalyzer, err)
		}
	}

	payload, mime := data, mimeType
	if d.opts.MaxDim > 0 {
		prepared, preparedMime, err := d.processor.PrepareImageForModel(data, "jpeg", d.opts.MaxDim, d.opts.Quality)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAnalyzer, err)
		}
		payload, mime = prepared, preparedMime
	}

	log := d.log.WithFields(logrus.Fields{"model": d.opts.Model, "bytes": len(payload)})
	log.Debug("sending image to analyzer")

	raw, err := d.client.AnalyzeImage(ctx, d.opts.Model, d.opts.Prompt, payload, mime)
	if err != nil {
		log.WithError(err).Error("analyzer request failed")
		return nil, fmt.Errorf("%w: %v", types.ErrAnalyzer, err)
	}

	result, err := ParseResult(raw)
	if err != nil {
		log.WithError(err).Error("unusable analyzer response")
		return nil, err
	}

	warnings, err := Validate(result)
	if err != nil {
		log.WithError(err).Error("invalid analyzer response")
		return nil, err
	}
	for _, w := range warnings {
		log.WithField("warning", w).Warn("inconsistent analyzer response")
	}

	log.WithFields(logrus.Fields{
		"tumor_detected": result.TumorDetected,
		"confidence":     result.ConfidenceScore,
	}).Info("analysis complete")
	return result, nil
}
