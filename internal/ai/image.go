package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ImageGenerator produces one finished image artifact per call.
type ImageGenerator interface {
	// Generate returns PNG bytes for the prompt, or a typed failure:
	// ErrContentPolicy, ErrConnectivity or ErrInvalidPrompt.
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// ImageConfig holds the diffusion parameters sent with every request.
type ImageConfig struct {
	Model  string
	Width  int
	Height int
	Steps  int
}

// ImageClient calls a hosted diffusion endpoint exposing the
// /images/generations call shape with base64 JSON responses.
type ImageClient struct {
	baseURL    string
	apiKey     string
	cfg        ImageConfig
	httpClient *http.Client
}

// NewImageClient builds an ImageClient. baseURL should include the /v1 prefix.
func NewImageClient(baseURL, apiKey string, cfg ImageConfig) *ImageClient {
	return &ImageClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		cfg:     cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Generate implements ImageGenerator.
func (c *ImageClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidPrompt)
	}

	body, err := json.Marshal(imageRequest{
		Prompt:         prompt,
		Model:          c.cfg.Model,
		Width:          c.cfg.Width,
		Height:         c.cfg.Height,
		Steps:          c.cfg.Steps,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	var ir imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrConnectivity, err)
	}
	if ir.Error != nil && ir.Error.Message != "" {
		return nil, classifyBackendError(fmt.Errorf("api error: %s", ir.Error.Message))
	}
	if resp.StatusCode >= 400 {
		return nil, classifyBackendError(fmt.Errorf("api error: %s", resp.Status))
	}
	if len(ir.Data) == 0 || ir.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: no image data in response", ErrConnectivity)
	}

	img, err := base64.StdEncoding.DecodeString(ir.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %s", ErrConnectivity, err)
	}
	return img, nil
}

type imageRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
