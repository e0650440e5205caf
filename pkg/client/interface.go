package client

import "context"

// VisionClient sends an image and prompt to a vision model and returns the raw reply text
type VisionClient interface {
	AnalyzeImage(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error)
}
