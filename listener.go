package companion

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ──────────────────────────────────────────────
// Trigger Listener — message-created event intake
// ──────────────────────────────────────────────

// MessageEvent is the payload of a "message created" notification from the
// conversation store.
type MessageEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// TriggerListener consumes message-created events and hands each user
// message to the pipeline exactly once per delivery. Assistant-authored
// events are discarded before any store read, so the pipeline never reacts
// to its own writes.
//
// The listener is fire-and-forget: a failing invocation is logged and
// dropped, never retried and never raised to the event source. Redelivery
// by the platform is tolerated via the pipeline's answered marker.
type TriggerListener struct {
	Pipeline *ReplyPipeline
	Logger   *zap.Logger

	// Dispatched counts events handed to the pipeline; Discarded counts
	// non-user events dropped at the gate.
	Dispatched atomic.Int64
	Discarded  atomic.Int64

	events chan MessageEvent
}

// NewTriggerListener creates a listener with the given event buffer size.
func NewTriggerListener(pipeline *ReplyPipeline, buffer int) *TriggerListener {
	if buffer <= 0 {
		buffer = 64
	}
	return &TriggerListener{
		Pipeline: pipeline,
		Logger:   zap.NewNop(),
		events:   make(chan MessageEvent, buffer),
	}
}

// Dispatch enqueues one event for processing. It never blocks: when the
// buffer is full the event is dropped and logged, matching the at-most-once
// intake of a fire-and-forget trigger.
func (l *TriggerListener) Dispatch(event MessageEvent) {
	if event.Role != RoleUser {
		l.Discarded.Inc()
		return
	}
	select {
	case l.events <- event:
	default:
		l.Logger.Warn("event buffer full, dropping trigger",
			zap.String("conversation_id", event.ConversationID),
			zap.String("message_id", event.MessageID))
	}
}

// Run consumes dispatched events until ctx is canceled. Each event runs as
// its own invocation; failures are logged and swallowed.
func (l *TriggerListener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-l.events:
			l.Handle(ctx, event)
		}
	}
}

// Handle processes one event synchronously with fire-and-forget error
// semantics. Exposed for serverless-style hosts that deliver one event per
// invocation.
func (l *TriggerListener) Handle(ctx context.Context, event MessageEvent) {
	if event.Role != RoleUser {
		l.Discarded.Inc()
		return
	}
	l.Dispatched.Inc()
	l.Pipeline.HandleEvent(ctx, event)
}
