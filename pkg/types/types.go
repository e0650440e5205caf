package types

import (
	"fmt"
	"strings"
)

// LocationNotApplicable is the location sentinel the analyzer returns when nothing was found
const LocationNotApplicable = "N/A"

// BoundingBox is a normalized box as (xMin, yMin, xMax, yMax), every value in [0,1].
// It is a slice so that a null, missing or wrongly sized box from the analyzer
// survives decoding and persistence as-is; check Valid before using the accessors.
type BoundingBox []float64

// Valid reports whether the box has exactly four coordinates
func (b BoundingBox) Valid() bool { return len(b) == 4 }

// XMin returns the left edge
func (b BoundingBox) XMin() float64 { return b[0] }

// YMin returns the top edge
func (b BoundingBox) YMin() float64 { return b[1] }

// XMax returns the right edge
func (b BoundingBox) XMax() float64 { return b[2] }

// YMax returns the bottom edge
func (b BoundingBox) YMax() float64 { return b[3] }

// Localization describes where an anomaly sits within the analyzed image
type Localization struct {
	BoundingBox BoundingBox `json:"boundingBox"`
	// Mask is a base64 encoded PNG used as an opacity stencil
	Mask string `json:"mask"`
}

// Clone returns a deep copy
func (l *Localization) Clone() *Localization {
	if l == nil {
		return nil
	}
	c := *l
	if l.BoundingBox != nil {
		c.BoundingBox = append(BoundingBox(nil), l.BoundingBox...)
	}
	return &c
}

// AnalysisResult contains the anomaly detection result returned by the analyzer
type AnalysisResult struct {
	TumorDetected   bool          `json:"tumorDetected"`
	ConfidenceScore float64       `json:"confidenceScore"`
	Analysis        string        `json:"analysis"`
	Location        string        `json:"location"`
	Localization    *Localization `json:"localization,omitempty"`
}

// Clone returns a copy sharing no memory with r
func (r AnalysisResult) Clone() AnalysisResult {
	r.Localization = r.Localization.Clone()
	return r
}

// HasVisualization reports whether localization overlays may be drawn.
// TumorDetected governs; a localization sent alongside a negative verdict is ignored.
func (r *AnalysisResult) HasVisualization() bool {
	return r != nil && r.TumorDetected && r.Localization != nil
}

// Verdict returns the human readable verdict
func (r *AnalysisResult) Verdict() string {
	if r != nil && r.TumorDetected {
		return "Tumor Detected"
	}
	return "No Tumor Detected"
}

// ConfidencePercent formats the confidence score as a percentage with one decimal
func (r *AnalysisResult) ConfidencePercent() string {
	if r == nil {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", r.ConfidenceScore*100)
}

// HistoryItem is a persisted analysis record
type HistoryItem struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Result    AnalysisResult `json:"result"`
	ImageRef  string         `json:"imageUrl"`
}

// ViewMode selects which overlay is drawn on top of the source image
type ViewMode int

const (
	ViewOriginal ViewMode = iota
	ViewBoundingBox
	ViewMask
)

func (m ViewMode) String() string {
	switch m {
	case ViewOriginal:
		return "original"
	case ViewBoundingBox:
		return "boundingBox"
	case ViewMask:
		return "mask"
	default:
		return fmt.Sprintf("ViewMode(%d)", int(m))
	}
}

// Label returns the display label used by the view toggle
func (m ViewMode) Label() string {
	switch m {
	case ViewBoundingBox:
		return "Bounding Box"
	case ViewMask:
		return "Segmentation Mask"
	default:
		return "Original"
	}
}

// RequiresLocalization reports whether the mode draws localization data
func (m ViewMode) RequiresLocalization() bool {
	return m == ViewBoundingBox || m == ViewMask
}

// ViewModes lists every mode in toggle order
func ViewModes() []ViewMode {
	return []ViewMode{ViewOriginal, ViewBoundingBox, ViewMask}
}

// ParseViewMode parses a mode name such as "original", "box" or "mask"
func ParseViewMode(s string) (ViewMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "original", "none", "":
		return ViewOriginal, nil
	case "boundingbox", "bounding-box", "bbox", "box":
		return ViewBoundingBox, nil
	case "mask", "segmentation":
		return ViewMask, nil
	default:
		return ViewOriginal, fmt.Errorf("unknown view mode: %s", s)
	}
}
