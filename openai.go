package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ──────────────────────────────────────────────
// OpenAI-compatible generation client
// ──────────────────────────────────────────────

const chatCompletionsPath = "/chat/completions"

// OpenAIClient implements GenerateFn against any OpenAI-compatible
// chat-completions endpoint.
//
// Usage:
//
//	cfg := companion.NewPipelineConfigFromEnv()
//	client := companion.NewOpenAIClient(cfg)
//	result, err := client.Generate(ctx, req)
type OpenAIClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAIClient creates a client from pipeline configuration. The HTTP
// client carries no timeout of its own; the pipeline bounds each call via
// context.
func NewOpenAIClient(cfg PipelineConfig) *OpenAIClient {
	return &OpenAIClient{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{},
	}
}

// OpenAI wire structures.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []PromptMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message PromptMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Generate sends a chat-completions request and maps the choices onto a
// GenerationResult. It returns ErrMissingAPIKey without issuing any request
// when no credential is configured.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("generation service error (status %d): %s", httpResp.StatusCode, parsed.Error.Message)
		}
		return nil, fmt.Errorf("generation service error: status %d", httpResp.StatusCode)
	}

	result := &GenerationResult{Completions: make([]Completion, 0, len(parsed.Choices))}
	for _, choice := range parsed.Choices {
		result.Completions = append(result.Completions, Completion{Message: choice.Message})
	}
	return result, nil
}
