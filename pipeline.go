package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ──────────────────────────────────────────────
// Reply Pipeline — trigger → aggregate → compose → generate → persist
// ──────────────────────────────────────────────
//
// One pass per inbound user message, no branching back. Each invocation is
// an independent unit of work: concurrent invocations for different messages
// share nothing but the stores, and every store write is an append.
//
// Usage:
//
//	cfg := companion.NewPipelineConfigFromEnv()
//	pipeline := companion.NewReplyPipeline(chatStore, journeyStore, cfg)
//	result, err := pipeline.Reply(ctx, event)

// Persistence retry policy for the final reply write.
const (
	persistAttempts = 3
	persistBackoff  = 200 * time.Millisecond
)

// PipelineHooks provides optional per-invocation callbacks. All hooks are
// observational; returning is the only way to continue.
type PipelineHooks struct {
	OnContextReady func(bundle *ContextBundle, history []Message)
	OnGenerated    func(reply string)
	OnFallback     func(cause error)
	OnError        func(err error)
}

// ReplyResult reports what one pipeline invocation did.
type ReplyResult struct {
	// Message is the appended assistant message. Zero when Duplicate.
	Message Message
	// UsedFallback is true when the fixed fallback text was written.
	UsedFallback bool
	// Duplicate is true when another invocation already answered the
	// triggering message; nothing was written.
	Duplicate bool
	// Degraded lists context categories that fell back to empty.
	Degraded []string
}

// ReplyPipeline wires the aggregator, composer and generation call over
// injected stores. Construct once at process start and share across
// invocations; the pipeline itself holds no per-invocation state.
type ReplyPipeline struct {
	Chat     ChatStore
	Journey  JourneyStore
	Generate GenerateFn
	Config   PipelineConfig
	Hooks    *PipelineHooks
	Logger   *zap.Logger
	Metrics  *PipelineMetrics

	aggregator *ContextAggregator
}

// NewReplyPipeline creates a pipeline over the given stores. The generation
// call defaults to an OpenAI-compatible client built from cfg; swap the
// Generate field for a custom backend.
func NewReplyPipeline(chat ChatStore, journey JourneyStore, cfg PipelineConfig) *ReplyPipeline {
	logger := zap.NewNop()
	p := &ReplyPipeline{
		Chat:     chat,
		Journey:  journey,
		Generate: NewOpenAIClient(cfg).Generate,
		Config:   cfg,
		Logger:   logger,
	}
	p.aggregator = NewContextAggregator(journey, chat, logger)
	return p
}

// SetLogger replaces the pipeline logger. Pass nil to silence.
func (p *ReplyPipeline) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p.Logger = logger
	p.aggregator.Logger = logger.Named("aggregator")
}

// SetMetrics attaches prometheus metrics to the pipeline and aggregator.
func (p *ReplyPipeline) SetMetrics(m *PipelineMetrics) {
	p.Metrics = m
	p.aggregator.Metrics = m
}

// Reply runs one pipeline pass for a message-created event.
//
// Events whose role is not "user" are discarded before any store read
// (prevents the pipeline reacting to its own assistant writes). Blank user
// content still proceeds. On success or generation failure exactly one
// assistant message is appended; only configuration and persistence errors
// leave the conversation without a reply.
func (p *ReplyPipeline) Reply(ctx context.Context, event MessageEvent) (*ReplyResult, error) {
	if event.Role != RoleUser {
		p.Metrics.outcome(OutcomeDiscarded)
		return nil, nil
	}

	if err := p.Config.Validate(); err != nil {
		p.Logger.Error("pipeline aborted on configuration", zap.Error(err))
		p.Metrics.outcome(OutcomeConfigError)
		p.fireError(err)
		return nil, err
	}

	userID := p.resolveUserID(ctx, event.ConversationID)
	bundle, history, degraded := p.aggregator.Collect(ctx, userID, event.ConversationID)
	if p.Hooks != nil && p.Hooks.OnContextReady != nil {
		p.Hooks.OnContextReady(bundle, history)
	}

	prompt := ComposePrompt(bundle, history, p.Config.Directive)

	reply, usedFallback, err := p.generateReply(ctx, prompt)
	if err != nil {
		// Only the missing-credential class aborts without a visible
		// reply; everything else already degraded to the fallback text.
		p.Metrics.outcome(OutcomeConfigError)
		p.fireError(err)
		return nil, err
	}

	// Idempotency marker: create-if-absent before writing, so a redelivered
	// trigger does not produce a second assistant reply.
	if event.MessageID != "" {
		first, markErr := p.Chat.MarkAnswered(ctx, event.MessageID)
		if markErr != nil {
			p.Logger.Warn("answered marker unavailable, writing anyway",
				zap.String("message_id", event.MessageID), zap.Error(markErr))
		} else if !first {
			p.Logger.Info("duplicate trigger skipped",
				zap.String("message_id", event.MessageID))
			p.Metrics.outcome(OutcomeDuplicate)
			return &ReplyResult{Duplicate: true, Degraded: degraded}, nil
		}
	}

	msg, err := p.persistReply(ctx, event.ConversationID, reply)
	if err != nil {
		p.Logger.Error("reply persistence failed, generated text lost",
			zap.String("conversation_id", event.ConversationID), zap.Error(err))
		p.Metrics.outcome(OutcomePersistFail)
		p.fireError(err)
		return nil, err
	}

	if usedFallback {
		p.Metrics.outcome(OutcomeFallback)
	} else {
		p.Metrics.outcome(OutcomeSuccess)
	}
	return &ReplyResult{Message: msg, UsedFallback: usedFallback, Degraded: degraded}, nil
}

// HandleEvent runs Reply with fire-and-forget semantics: failures are
// logged, never raised to the event source, and there is no retry.
func (p *ReplyPipeline) HandleEvent(ctx context.Context, event MessageEvent) {
	if _, err := p.Reply(ctx, event); err != nil {
		p.Logger.Error("pipeline invocation failed",
			zap.String("conversation_id", event.ConversationID),
			zap.String("message_id", event.MessageID),
			zap.Error(err))
	}
}

// resolveUserID reads the conversation's explicit user binding. A
// conversation without one falls back to the conversation ID as the user
// namespace (legacy behavior).
func (p *ReplyPipeline) resolveUserID(ctx context.Context, conversationID string) string {
	conv, err := p.Chat.GetConversation(ctx, conversationID)
	if err != nil || conv.UserID == "" {
		if err != nil && !errors.Is(err, ErrNotFound) {
			p.Logger.Warn("conversation lookup failed, using conversation id as user id",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
		return conversationID
	}
	return conv.UserID
}

// generateReply calls the generation service under the configured timeout.
// Timeout, transport errors and empty completions all substitute the fixed
// fallback text; only ErrMissingAPIKey propagates.
func (p *ReplyPipeline) generateReply(ctx context.Context, prompt []PromptMessage) (string, bool, error) {
	genCtx := ctx
	if p.Config.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.Config.GenerateTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.Generate(genCtx, GenerationRequest{
		Model:       p.Config.Model,
		Messages:    prompt,
		MaxTokens:   p.Config.MaxTokens,
		Temperature: p.Config.Temperature,
	})
	p.Metrics.generationObserved(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			return "", false, err
		}
		p.Logger.Warn("generation failed, substituting fallback", zap.Error(err))
		p.fireFallback(err)
		return p.fallbackText(), true, nil
	}

	reply := strings.TrimSpace(result.FirstText())
	if reply == "" {
		err := errors.New("companion: generation returned no usable reply")
		p.Logger.Warn("empty generation result, substituting fallback")
		p.fireFallback(err)
		return p.fallbackText(), true, nil
	}

	if p.Hooks != nil && p.Hooks.OnGenerated != nil {
		p.Hooks.OnGenerated(reply)
	}
	return reply, false, nil
}

// persistReply appends the assistant message, retrying with doubling
// backoff. The write is the one failure mode with no fallback equivalent.
func (p *ReplyPipeline) persistReply(ctx context.Context, conversationID, reply string) (Message, error) {
	backoff := persistBackoff
	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		msg, err := p.Chat.AppendMessage(ctx, conversationID, RoleAssistant, reply)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if attempt == persistAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Message{}, fmt.Errorf("persist canceled: %w", ctx.Err())
		}
		backoff *= 2
	}
	return Message{}, fmt.Errorf("persist after %d attempts: %w", persistAttempts, lastErr)
}

func (p *ReplyPipeline) fallbackText() string {
	if p.Config.FallbackText != "" {
		return p.Config.FallbackText
	}
	return DefaultFallbackText
}

func (p *ReplyPipeline) fireFallback(cause error) {
	if p.Hooks != nil && p.Hooks.OnFallback != nil {
		p.Hooks.OnFallback(cause)
	}
}

func (p *ReplyPipeline) fireError(err error) {
	if p.Hooks != nil && p.Hooks.OnError != nil {
		p.Hooks.OnError(err)
	}
}
