package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures a remote inference endpoint.
type HTTPConfig struct {
	URL         string        // Endpoint receiving image/jpeg POSTs
	Model       string        // Sent as X-Model; the server picks its default when empty
	JPEGQuality int           // Encoding quality of the uploaded frame
	Timeout     time.Duration // Zero means wait for the server indefinitely
}

// HTTPDetector posts frames to an inference server and decodes
//
//	{"instances": [{"label": "person", "confidence": 0.91, "polygon": [[x, y], ...]}]}
type HTTPDetector struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPDetector creates a detector for the given endpoint.
func NewHTTPDetector(cfg HTTPConfig) *HTTPDetector {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	return &HTTPDetector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Detect uploads img and returns the decoded instances.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) (Result, error) {
	if img == nil {
		return Result{}, ErrNoImage
	}

	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: d.cfg.JPEGQuality}); err != nil {
		return Result{}, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	if d.cfg.Model != "" {
		req.Header.Set("X-Model", d.cfg.Model)
	}
	if idx, ok := FrameIndex(ctx); ok {
		req.Header.Set("X-Frame-Index", fmt.Sprint(idx))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := payload
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return Result{}, fmt.Errorf("inference server returned %d: %s", resp.StatusCode, snippet)
	}

	var wire wireResult
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Result{}, fmt.Errorf("decode inference response: %w", err)
	}
	return wire.toResult()
}
