// Package session owns the state of one working session: the current image,
// its analysis result, the view mode and the history log.
//
// Rendering and history mutations happen in order under the session lock. The
// analyzer call and the report export run outside it; their results are
// discarded with ErrStale if the image changed or the session was reset while
// they were in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/scan-annotator/internal/utils"
	"github.com/menta2k/scan-annotator/pkg/history"
	"github.com/menta2k/scan-annotator/pkg/overlay"
	"github.com/menta2k/scan-annotator/pkg/report"
	"github.com/menta2k/scan-annotator/pkg/types"
	"github.com/menta2k/scan-annotator/pkg/view"
)

var (
	// ErrStale is returned when the session changed before an operation completed
	ErrStale = errors.New("session changed before the operation completed")
	// ErrNoImage is returned by operations that need an image
	ErrNoImage = errors.New("no image loaded")
	// ErrNoResult is returned when exporting before any analysis
	ErrNoResult = errors.New("no analysis result")
	// ErrUnknownHistoryItem is returned when selecting an id not in history
	ErrUnknownHistoryItem = errors.New("history item not found")
)

// Analyzer produces an AnalysisResult for image bytes
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, mimeType string) (*types.AnalysisResult, error)
}

// Exporter writes a report document into a directory
type Exporter interface {
	Export(ctx context.Context, r report.Report, dir string) (string, error)
}

// Loader resolves an image reference to its bytes
type Loader interface {
	LoadSource(ref string) ([]byte, error)
}

// Deps are the collaborators of a Session
type Deps struct {
	Analyzer   Analyzer
	History    *history.Store
	Compositor view.Compositor
	Exporter   Exporter
	Loader     Loader
	Log        logrus.FieldLogger
}

// Session is the single owner of the mutable state of one user session
type Session struct {
	analyzer Analyzer
	history  *history.Store
	view     *view.Controller
	exporter Exporter
	loader   Loader
	log      logrus.FieldLogger

	mu       sync.Mutex
	gen      uint64
	image    []byte
	imageRef string
	mimeType string
	result   *types.AnalysisResult
}

// New creates a session
func New(deps Deps) *Session {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		analyzer: deps.Analyzer,
		history:  deps.History,
		view:     view.NewController(deps.Compositor, log),
		exporter: deps.Exporter,
		loader:   deps.Loader,
		log:      log,
	}
}

// Start loads persisted history. A read failure leaves an empty, session-only
// history and is returned wrapping types.ErrPersistence.
func (s *Session) Start(ctx context.Context) ([]types.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Load(ctx)
}

// SetImage replaces the current image, clears the result and shows the original.
// An undecodable image is kept but nothing is shown; the error wraps types.ErrImageDecode.
func (s *Session) SetImage(ctx context.Context, ref string, data []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = utils.DetectMIMEType(ref, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.image = data
	s.imageRef = ref
	s.mimeType = mimeType
	s.result = nil

	s.log.WithFields(logrus.Fields{"ref": shortRef(ref), "bytes": len(data), "mime": mimeType}).Info("image loaded")
	return s.show(ctx)
}

// Analyze sends the current image to the analyzer. The result is applied and
// recorded in history only if the image is unchanged when the call returns.
// When applied the result is returned even if history persistence or
// rendering degraded; those conditions are reported in the error.
func (s *Session) Analyze(ctx context.Context) (*types.AnalysisResult, error) {
	s.mu.Lock()
	if s.image == nil {
		s.mu.Unlock()
		return nil, ErrNoImage
	}
	gen := s.gen
	data, mimeType, ref := s.image, s.mimeType, s.imageRef
	s.mu.Unlock()

	result, err := s.analyzer.Analyze(ctx, data, mimeType)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.log.Info("discarding analysis for a replaced image")
		return nil, ErrStale
	}
	if err != nil {
		s.log.WithError(err).Error("analysis failed")
		if !errors.Is(err, types.ErrAnalyzer) {
			err = fmt.Errorf("%w: %v", types.ErrAnalyzer, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", types.ErrAnalyzer)
	}

	s.result = result
	_, recordErr := s.history.Record(ctx, *result, ref)
	renderErr := s.show(ctx)

	return result, errors.Join(recordErr, renderErr)
}

// SelectMode switches the view mode. Modes the current result cannot show are
// rejected and reported as false.
func (s *Session) SelectMode(ctx context.Context, mode types.ViewMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.view.Select(ctx, mode)
	if errors.Is(err, view.ErrSuperseded) {
		err = nil
	}
	return ok, err
}

// SelectHistory restores a past result and its image without calling the analyzer
func (s *Session) SelectHistory(ctx context.Context, id string) (types.HistoryItem, error) {
	item, ok := s.history.Find(id)
	if !ok {
		return types.HistoryItem{}, fmt.Errorf("%w: %s", ErrUnknownHistoryItem, id)
	}

	var (
		data    []byte
		loadErr error
	)
	if s.loader != nil {
		data, loadErr = s.loader.LoadSource(item.ImageRef)
		if loadErr != nil && !errors.Is(loadErr, types.ErrImageDecode) {
			loadErr = fmt.Errorf("%w: %v", types.ErrImageDecode, loadErr)
		}
	}

	result, ref := s.history.Select(item)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.image = data
	s.imageRef = ref
	s.mimeType = utils.DetectMIMEType(ref, data)
	s.result = &result

	s.log.WithField("id", item.ID).Info("history item selected")
	if loadErr != nil {
		s.log.WithError(loadErr).Warn("history image unavailable")
		s.view.Reset()
		return item, loadErr
	}
	return item, s.show(ctx)
}

// History returns the history, most recent first
func (s *Session) History() []types.HistoryItem {
	return s.history.Items()
}

// ClearHistory removes every history item. The current result stays on screen.
func (s *Session) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.ClearAll(ctx)
}

// Reset drops the image and result; pending analyses and exports become stale
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.image = nil
	s.imageRef = ""
	s.mimeType = ""
	s.result = nil
	s.view.Reset()
	s.log.Info("session reset")
}

// Export writes the displayed composite and result as a report into dir.
// If the session changes while exporting the file is removed and ErrStale returned.
func (s *Session) Export(ctx context.Context, dir string) (string, error) {
	s.mu.Lock()
	if s.image == nil {
		s.mu.Unlock()
		return "", ErrNoImage
	}
	if s.result == nil {
		s.mu.Unlock()
		return "", ErrNoResult
	}
	composite := s.view.Composite()
	if composite == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: nothing rendered", types.ErrExport)
	}
	gen := s.gen
	r := report.Report{
		Composite:   composite,
		Result:      *s.result,
		Stats:       maskStats(s.result),
		GeneratedAt: time.Now(),
	}
	s.mu.Unlock()

	path, err := s.exporter.Export(ctx, r, dir)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		s.log.WithField("path", path).Info("discarding report for a replaced image")
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.WithError(rmErr).Warn("failed to remove stale report")
		}
		return "", ErrStale
	}
	return path, nil
}

// Result returns the current result, nil before analysis
func (s *Session) Result() *types.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// ImageRef returns the reference of the current image
func (s *Session) ImageRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageRef
}

// Mode returns the active view mode
func (s *Session) Mode() types.ViewMode {
	return s.view.Mode()
}

// AvailableModes returns the view modes the current result supports
func (s *Session) AvailableModes() []types.ViewMode {
	return s.view.AvailableModes()
}

// Composite returns the displayed composite, nil if nothing is shown
func (s *Session) Composite() *image.NRGBA {
	return s.view.Composite()
}

// RenderError returns the degradation of the displayed composite, if any
func (s *Session) RenderError() error {
	return s.view.LastError()
}

// show renders the current image and result; callers hold s.mu
func (s *Session) show(ctx context.Context) error {
	if s.image == nil {
		s.view.Reset()
		return nil
	}
	err := s.view.Load(ctx, s.image, s.result)
	if errors.Is(err, view.ErrSuperseded) {
		return nil
	}
	if err != nil {
		s.log.WithError(err).Warn("render degraded")
	}
	return err
}

func maskStats(result *types.AnalysisResult) *overlay.Stats {
	if !result.HasVisualization() {
		return nil
	}
	mask, err := overlay.DecodeMask(result.Localization.Mask)
	if err != nil {
		return nil
	}
	stats := overlay.MaskStats(mask)
	return &stats
}

func shortRef(ref string) string {
	if len(ref) > 64 {
		return ref[:64] + "..."
	}
	return ref
}
