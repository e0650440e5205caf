// Package view selects the active overlay and keeps the composite in sync with it.
package view

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/scan-annotator/pkg/types"
)

// ErrSuperseded is returned by a render that finished after a newer render started
var ErrSuperseded = errors.New("render superseded by a newer request")

// Compositor renders a composite for a source image, result and view mode
type Compositor interface {
	Render(ctx context.Context, src []byte, result *types.AnalysisResult, mode types.ViewMode) (*image.NRGBA, error)
}

// Controller is the view-mode state machine for one displayed result.
// Every accepted transition or content change triggers a fresh render; only the
// most recently requested render may publish its composite.
type Controller struct {
	compositor Compositor
	log        logrus.FieldLogger

	mu        sync.Mutex
	src       []byte
	result    *types.AnalysisResult
	mode      types.ViewMode
	gen       uint64
	composite *image.NRGBA
	lastErr   error
}

// NewController creates a controller rendering through c
func NewController(c Compositor, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{compositor: c, log: log}
}

// InitialMode returns Mask when the result carries a visualization, else Original
func InitialMode(result *types.AnalysisResult) types.ViewMode {
	if result.HasVisualization() {
		return types.ViewMask
	}
	return types.ViewOriginal
}

// Load replaces the image and result, resets the mode and renders
func (c *Controller) Load(ctx context.Context, src []byte, result *types.AnalysisResult) error {
	c.mu.Lock()
	c.src = src
	c.result = result
	c.mode = InitialMode(result)
	c.composite = nil
	c.lastErr = nil
	c.mu.Unlock()

	return c.Refresh(ctx)
}

// Reset drops the image and result and invalidates any pending render
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.src = nil
	c.result = nil
	c.mode = types.ViewOriginal
	c.composite = nil
	c.lastErr = nil
}

// Available reports whether mode can be selected for the current result
func (c *Controller) Available(mode types.ViewMode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available(mode)
}

func (c *Controller) available(mode types.ViewMode) bool {
	switch {
	case mode == types.ViewOriginal:
		return true
	case mode.RequiresLocalization():
		return c.result.HasVisualization()
	default:
		return false
	}
}

// AvailableModes lists the selectable modes in toggle order
func (c *Controller) AvailableModes() []types.ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()

	var modes []types.ViewMode
	for _, m := range types.ViewModes() {
		if c.available(m) {
			modes = append(modes, m)
		}
	}
	return modes
}

// Select transitions to mode and renders. A transition that needs localization
// the current result lacks is rejected and reported as false with no state change.
func (c *Controller) Select(ctx context.Context, mode types.ViewMode) (bool, error) {
	c.mu.Lock()
	if !c.available(mode) {
		current := c.mode
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"mode": mode, "current": current}).Debug("view transition rejected")
		return false, nil
	}
	c.mode = mode
	c.mu.Unlock()

	return true, c.Refresh(ctx)
}

// Refresh re-renders the current state. If another render starts before this
// one completes, this one's composite is discarded and ErrSuperseded returned.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	src, result, mode := c.src, c.result, c.mode
	c.mu.Unlock()

	if src == nil {
		return nil
	}

	canvas, err := c.compositor.Render(ctx, src, result, mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.log.WithField("mode", mode).Debug("discarding stale render")
		return ErrSuperseded
	}
	if canvas == nil && err != nil && ctx.Err() != nil {
		// cancelled renders never replace what is shown
		return err
	}
	c.composite = canvas
	c.lastErr = err
	return err
}

// Mode returns the active view mode
func (c *Controller) Mode() types.ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Result returns the result being displayed
func (c *Controller) Result() *types.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Composite returns the latest committed composite, nil if none
func (c *Controller) Composite() *image.NRGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composite
}

// LastError returns the error of the latest committed render
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
