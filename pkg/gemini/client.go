package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/menta2k/scan-annotator/pkg/client"
)

// Client sends images to Gemini with a structured JSON response schema
type Client struct {
	client *genai.Client
}

// NewClient creates a Gemini client
func NewClient(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: c}, nil
}

// AnalyzeImage asks the model for a JSON analysis of the image
func (g *Client) AnalyzeImage(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty image data")
	}

	m := g.client.GenerativeModel(model)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = AnalysisSchema()

	res, err := m.GenerateContent(ctx, genai.Text(prompt), genai.Blob{MIMEType: mimeType, Data: image})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", errors.New("no response from Gemini API")
	}

	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("unexpected response format from Gemini API")
	}
	return sb.String(), nil
}

// Close releases the underlying connection
func (g *Client) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// AnalysisSchema describes the analysis JSON the model must return
func AnalysisSchema() *genai.Schema {
	localization := &genai.Schema{
		Type:        genai.TypeObject,
		Description: "The bounding box and segmentation mask for the tumor. Only present if a tumor is detected.",
		Properties: map[string]*genai.Schema{
			"boundingBox": {
				Type:        genai.TypeArray,
				Description: "Normalized coordinates [x_min, y_min, x_max, y_max], each between 0.0 and 1.0.",
				Items:       &genai.Schema{Type: genai.TypeNumber},
			},
			"mask": {
				Type:        genai.TypeString,
				Description: "Base64 encoded PNG mask, same size as the input image, tumor area opaque and the rest transparent.",
			},
		},
		Required: []string{"boundingBox", "mask"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"tumorDetected": {
				Type:        genai.TypeBoolean,
				Description: "Whether a tumor or anomaly was detected in the image.",
			},
			"confidenceScore": {
				Type:        genai.TypeNumber,
				Description: "A confidence score from 0.0 to 1.0 for the detection.",
			},
			"analysis": {
				Type:        genai.TypeString,
				Description: "In-depth analysis of the scan.",
			},
			"location": {
				Type:        genai.TypeString,
				Description: "Location of the tumor (e.g. 'frontal lobe, left hemisphere'), otherwise 'N/A'.",
			},
			"localization": localization,
		},
		Required: []string{"tumorDetected", "confidenceScore", "analysis", "location"},
	}
}

var _ client.VisionClient = (*Client)(nil)
