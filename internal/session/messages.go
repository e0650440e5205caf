package session

import (
	"errors"

	"github.com/menta2k/scan-annotator/pkg/types"
)

// UserMessage maps an operation error to a message safe to show the user.
// Internals are never included. Returns "" for nil.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStale):
		return "The image changed before the operation finished."
	case errors.Is(err, ErrNoImage):
		return "Please upload an image first."
	case errors.Is(err, ErrNoResult):
		return "Analyze the image before exporting a report."
	case errors.Is(err, ErrUnknownHistoryItem):
		return "That history entry no longer exists."
	case errors.Is(err, types.ErrAnalyzer):
		return "Failed to analyze the image. Please try again."
	case errors.Is(err, types.ErrImageDecode):
		return "The image could not be read. Please choose another file."
	case errors.Is(err, types.ErrExport):
		return "Could not generate PDF report. Please try again."
	case errors.Is(err, types.ErrMaskDecode):
		return "The segmentation mask could not be displayed."
	case errors.Is(err, types.ErrMalformedAnnotation):
		return "The bounding box returned by the analyzer is invalid and was not drawn."
	case errors.Is(err, types.ErrPersistence):
		return "History could not be saved. Results are kept for this session only."
	default:
		return "Something went wrong. Please try again."
	}
}
