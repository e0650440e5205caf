package detection

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/menta2k/scan-annotator/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseResult decodes a model reply into an AnalysisResult
func ParseResult(raw string) (*types.AnalysisResult, error) {
	cleaned := sanitizeModelJSON(raw)
	if cleaned == "" || !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("%w: no JSON object in model response", types.ErrAnalyzer)
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("%w: decode model response: %v", types.ErrAnalyzer, err)
	}
	return &result, nil
}

// sanitizeModelJSON strips the usual decorations models wrap around JSON.
// Inline // comments are left alone: base64 masks may contain "//".
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	return strings.TrimSpace(raw)
}
