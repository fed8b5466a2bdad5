package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatClient talks to any OpenAI-compatible /v1/chat/completions
// endpoint (vLLM, LiteLLM, OpenRouter, self-hosted models, …). It implements
// both TextStreamer (SSE streaming) and Generator (one-shot).
type OpenAICompatClient struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAICompatClient builds a client. baseURL should include the /v1
// prefix, e.g. "https://api.sambanova.ai/v1". apiKey can be empty for local
// models without authentication. name identifies the provider in fallback
// chains and logs.
func NewOpenAICompatClient(name, baseURL, apiKey, defaultModel string) *OpenAICompatClient {
	return &OpenAICompatClient{
		name:         name,
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:       strings.TrimSpace(apiKey),
		defaultModel: strings.TrimSpace(defaultModel),
		httpClient: &http.Client{
			Timeout: 0, // streamed responses can legitimately outlive any fixed budget
		},
	}
}

// Name returns the provider name used in fallback chains.
func (c *OpenAICompatClient) Name() string { return c.name }

// resolveModel maps a selector onto a model identifier this provider knows.
// A composite selector carries no provider-specific id, so the default wins.
func (c *OpenAICompatClient) resolveModel(sel ModelSelector) string {
	switch m := sel.(type) {
	case NamedModel:
		if m.ID != "" {
			return m.ID
		}
	case CompositeModel:
		// fall through to default
	}
	return c.defaultModel
}

// StreamText implements TextStreamer against the chat-completions SSE API.
func (c *OpenAICompatClient) StreamText(ctx context.Context, sel ModelSelector, turns []Turn, opts GenOpts) (*TextStream, error) {
	model := c.resolveModel(sel)
	if model == "" {
		return nil, fmt.Errorf("%s: generation model required", c.name)
	}

	messages := make([]oaiMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, oaiMessage{Role: t.Role, Content: t.Content})
	}
	body, err := json.Marshal(oaiChatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.apiError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	recv := func() (string, error) {
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				if payload == "[DONE]" {
					return "", io.EOF
				}
				continue
			}
			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				return "", fmt.Errorf("%s: decode stream chunk: %w", c.name, err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				return content, nil
			}
		}
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("%s: read stream: %w", c.name, err)
		}
		return "", io.EOF
	}
	return NewTextStream(recv, resp.Body.Close), nil
}

// GenerateText implements Generator using a non-streamed completion.
func (c *OpenAICompatClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.defaultModel == "" {
		return "", fmt.Errorf("%s: generation model required", c.name)
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(oaiChatRequest{Model: c.defaultModel, Messages: messages})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", c.apiError(resp)
	}
	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%s: decode: %w", c.name, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", c.name)
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from %s", c.name)
	}
	return text, nil
}

func (c *OpenAICompatClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", c.name, err)
	}
	return resp, nil
}

func (c *OpenAICompatClient) apiError(resp *http.Response) error {
	var errResp oaiErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error.Message != "" {
		return fmt.Errorf("%s: api error: %s", c.name, errResp.Error.Message)
	}
	return fmt.Errorf("%s: api error: %s", c.name, resp.Status)
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Stream      bool         `json:"stream,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	TopP        float64      `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
