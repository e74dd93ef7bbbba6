package imageprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/logging"
)

// HTTPClient talks to an InsightFace-style REST service exposing POST /detect.
type HTTPClient struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

type detectResponse struct {
	Status string `json:"status"`
	Faces  []struct {
		BBox       []float64 `json:"bbox"`
		Confidence float64   `json:"confidence"`
		Embedding  []float32 `json:"embedding"`
	} `json:"faces"`
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, opts Options, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("http_extractor"),
	}
}

func (c *HTTPClient) Detect(ctx context.Context, image []byte) ([]faceid.Face, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if c.opts.Model != "" {
		if err := writer.WriteField("model", c.opts.Model); err != nil {
			return nil, err
		}
	}
	if c.opts.DetSize > 0 {
		if err := writer.WriteField("det_size", strconv.Itoa(c.opts.DetSize)); err != nil {
			return nil, err
		}
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("imageprocessor.http_detect", "", err)
		c.logger.Error("extractor request failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, logging.NewOperationError("imageprocessor.http_detect", "",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, logging.NewOperationError("imageprocessor.http_detect", "", fmt.Errorf("decode response: %w", err))
	}
	if decoded.Status != "" && decoded.Status != "ok" {
		return nil, logging.NewOperationError("imageprocessor.http_detect", "", fmt.Errorf("extractor status %q", decoded.Status))
	}

	faces := make([]faceid.Face, 0, len(decoded.Faces))
	for i, f := range decoded.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values, want 4", i, len(f.BBox))
		}
		faces = append(faces, faceid.Face{
			Embedding: faceid.Embedding(f.Embedding),
			BBox:      faceid.BBox{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
			Score:     f.Confidence,
		})
	}
	return faces, nil
}
