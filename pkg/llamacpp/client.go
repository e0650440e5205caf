package llamacpp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/menta2k/scan-annotator/pkg/client"
)

// Client talks to an OpenAI-compatible chat completions endpoint such as llama.cpp server
type Client struct {
	api     *openai.Client
	timeout time.Duration
}

// NewClient creates a client for serverURL; apiKey may be empty for local servers
func NewClient(serverURL, apiKey string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	cfg := openai.DefaultConfig(apiKey)
	base := strings.TrimSuffix(serverURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	cfg.BaseURL = base

	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		timeout: timeout,
	}, nil
}

// AnalyzeImage sends the image as a data URL part and returns the reply text
func (c *Client) AnalyzeImage(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		Temperature: 0.2,
		MaxTokens:   8192,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		for _, part := range resp.Choices[0].Message.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
				text = part.Text
				break
			}
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response from server")
	}
	return text, nil
}

var _ client.VisionClient = (*Client)(nil)
