package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/scan-annotator/internal/utils"
	"github.com/menta2k/scan-annotator/pkg/types"
)

// maxDownloadSize caps image downloads from URLs
const maxDownloadSize = 64 << 20

// Processor handles image I/O for sources, masks and rendered composites
type Processor struct {
	client *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// DecodeImage decodes png, jpeg, gif or webp bytes
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	return DecodeImage(data)
}

// DecodeImage decodes png, jpeg, gif or webp bytes.
// Failures wrap types.ErrImageDecode.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", types.ErrImageDecode)
	}

	// Try standard image.Decode first
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("%w: unknown or unsupported format", types.ErrImageDecode)
}

// DecodeBase64Image decodes a base64 payload, with or without a data URI prefix
func DecodeBase64Image(payload string) (image.Image, error) {
	data, _, err := decodeBase64Payload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrImageDecode, err)
	}
	return DecodeImage(data)
}

// LoadSource reads the raw bytes behind an image reference.
// References may be file paths, http(s) URLs or data URIs.
func (p *Processor) LoadSource(ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		data, _, err := decodeBase64Payload(ref)
		return data, err
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return p.loadFromURL(ref)
	default:
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read image file: %w", err)
		}
		return data, nil
	}
}

// ResolveRef makes file references absolute so they stay loadable from any
// working directory. URLs and data URIs are returned unchanged.
func ResolveRef(ref string) string {
	if isRemoteOrInline(ref) || ref == "" {
		return ref
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return ref
	}
	return abs
}

// IsFileRef reports whether ref names a local file
func IsFileRef(ref string) bool {
	return ref != "" && !isRemoteOrInline(ref)
}

func isRemoteOrInline(ref string) bool {
	return strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://")
}

// loadFromURL downloads image bytes from a URL
func (p *Processor) loadFromURL(imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Scan-Annotator/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

// DataURI encodes image bytes as a data URI usable as an image reference
func DataURI(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeBase64Payload strips an optional data URI header and decodes the payload
func decodeBase64Payload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	mimeType := ""
	if strings.HasPrefix(payload, "data:") {
		comma := strings.Index(payload, ",")
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		header := payload[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("data URI is not base64 encoded")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Models sometimes drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	return data, mimeType, nil
}

// PrepareImageForModel re-encodes an image for a vision model, shrinking its long side to maxDim.
// It returns the encoded bytes and their MIME type.
func (p *Processor) PrepareImageForModel(data []byte, format string, maxDim int, quality int) ([]byte, string, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, "", err
	}

	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// EncodePNG encodes an image as PNG bytes
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveImage saves an image to a file with the specified format and quality.
// The file is written atomically; a failed encode leaves nothing behind.
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	return utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		switch strings.ToLower(format) {
		case "webp":
			opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
			return webp.Encode(w, img, opts)
		case "png":
			return imaging.Encode(w, img, imaging.PNG)
		default: // jpg/jpeg
			return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
		}
	})
}
