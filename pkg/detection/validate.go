package detection

import (
	"fmt"
	"math"
	"strings"

	"github.com/menta2k/scan-annotator/pkg/geometry"
	"github.com/menta2k/scan-annotator/pkg/types"
)

// Validate checks an analyzer payload. Out-of-range confidence is rejected;
// inconsistencies are returned as warnings and the payload is left untouched.
func Validate(result *types.AnalysisResult) ([]string, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", types.ErrAnalyzer)
	}
	if math.IsNaN(result.ConfidenceScore) || result.ConfidenceScore < 0 || result.ConfidenceScore > 1 {
		return nil, fmt.Errorf("%w: confidence score %v outside [0,1]", types.ErrAnalyzer, result.ConfidenceScore)
	}

	var warnings []string
	if strings.TrimSpace(result.Analysis) == "" {
		warnings = append(warnings, "analysis text is empty")
	}
	if strings.TrimSpace(result.Location) == "" {
		warnings = append(warnings, "location is empty")
	}

	switch {
	case !result.TumorDetected && result.Localization != nil:
		warnings = append(warnings, "localization present without a detection; it will not be drawn")
	case result.TumorDetected && result.Localization == nil:
		warnings = append(warnings, "tumor detected without localization; only the original view is available")
	}

	if loc := result.Localization; loc != nil {
		if err := geometry.Validate(loc.BoundingBox); err != nil {
			warnings = append(warnings, err.Error())
		}
		if strings.TrimSpace(loc.Mask) == "" {
			warnings = append(warnings, "mask is empty")
		}
	}

	return warnings, nil
}
