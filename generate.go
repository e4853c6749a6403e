package companion

import "context"

// ──────────────────────────────────────────────
// Generation — pluggable text-generation call
// ──────────────────────────────────────────────

// DefaultFallbackText is the reply substituted when generation fails. The
// pipeline never leaves a user message without some visible response.
const DefaultFallbackText = "Sorry, I could not generate a response right now. Please try again in a moment."

// GenerationRequest is what the pipeline sends to the generation service.
type GenerationRequest struct {
	Model       string          `json:"model"`
	Messages    []PromptMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature"`
}

// Completion is a single candidate reply.
type Completion struct {
	Message PromptMessage `json:"message"`
}

// GenerationResult is the service response. The pipeline uses only the
// first completion.
type GenerationResult struct {
	Completions []Completion `json:"completions"`
}

// FirstText returns the first completion's content, or "" when the result
// carries no usable reply.
func (r *GenerationResult) FirstText() string {
	if r == nil || len(r.Completions) == 0 {
		return ""
	}
	return r.Completions[0].Message.Content
}

// GenerateFn is the function signature for calling the generation service.
// Implementations must honor ctx cancellation; the pipeline bounds each
// call with a timeout.
type GenerateFn func(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
