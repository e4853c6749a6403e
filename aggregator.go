package companion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ──────────────────────────────────────────────
// Context Aggregator — bounded per-user context reads
// ──────────────────────────────────────────────
//
// The aggregator issues five independent bounded reads against the journey
// store plus one chat-history read. A failing category degrades to empty and
// is recorded, never surfaced: a context outage downgrades the assistant to
// context-free replies instead of blocking the conversation.

// Category caps. Every list in a ContextBundle is bounded to keep the
// composed prompt inside the generation service's input limits.
const (
	MaxMemoryNotes  = 5
	MaxOpenTasks    = 5
	MaxHealthEvents = 5
	MaxRoutines     = 3
)

// Context category names used in degradation reporting and metrics labels.
const (
	CategoryMemory          = "memory"
	CategoryTasks           = "tasks"
	CategoryHealthEvents    = "health_events"
	CategoryRoutines        = "routines"
	CategoryPersonalization = "personalization"
	CategoryHistory         = "history"
)

// ContextBundle is the ephemeral per-invocation aggregate of a user's
// context. Constructed fresh for each pipeline run, discarded after the
// generation call; never cached across invocations.
type ContextBundle struct {
	Memory          []MemoryNote
	Tasks           []TaskItem
	HealthEvents    []HealthEvent
	Routines        []Routine
	Personalization *Personalization
}

// ContextAggregator produces one ContextBundle per pipeline invocation.
type ContextAggregator struct {
	Journey JourneyStore
	Chat    ChatStore
	Logger  *zap.Logger
	Metrics *PipelineMetrics

	// Now is the clock used for the upcoming-events filter. Test hook;
	// defaults to time.Now.
	Now func() time.Time
}

// NewContextAggregator creates an aggregator over the given stores.
func NewContextAggregator(journey JourneyStore, chat ChatStore, logger *zap.Logger) *ContextAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextAggregator{
		Journey: journey,
		Chat:    chat,
		Logger:  logger.Named("aggregator"),
		Now:     time.Now,
	}
}

// Collect fetches the context bundle for userID and the full chronological
// history of conversationID. It never returns an error: each category
// degrades independently to empty/absent, and degraded category names are
// returned for observability.
func (a *ContextAggregator) Collect(ctx context.Context, userID, conversationID string) (*ContextBundle, []Message, []string) {
	bundle := &ContextBundle{}
	var degraded []string

	notes, err := a.Journey.RecentNotes(ctx, userID, MaxMemoryNotes)
	if err != nil {
		degraded = a.degrade(degraded, CategoryMemory, userID, err)
	} else {
		bundle.Memory = notes
	}

	tasks, err := a.Journey.OpenTasks(ctx, userID, MaxOpenTasks)
	if err != nil {
		degraded = a.degrade(degraded, CategoryTasks, userID, err)
	} else {
		bundle.Tasks = tasks
	}

	events, err := a.Journey.UpcomingEvents(ctx, userID, a.Now(), MaxHealthEvents)
	if err != nil {
		degraded = a.degrade(degraded, CategoryHealthEvents, userID, err)
	} else {
		bundle.HealthEvents = events
	}

	routines, err := a.Journey.Routines(ctx, userID, MaxRoutines)
	if err != nil {
		degraded = a.degrade(degraded, CategoryRoutines, userID, err)
	} else {
		bundle.Routines = routines
	}

	personalization, err := a.Journey.GetPersonalization(ctx, userID)
	switch {
	case err == nil:
		bundle.Personalization = &personalization
	case errors.Is(err, ErrNotFound):
		// Absent record, not a failure.
	default:
		degraded = a.degrade(degraded, CategoryPersonalization, userID, err)
	}

	// History is fetched uncapped: the composer applies the window.
	history, err := a.Chat.History(ctx, conversationID)
	if err != nil {
		degraded = a.degrade(degraded, CategoryHistory, userID, err)
		history = nil
	}

	return bundle, history, degraded
}

func (a *ContextAggregator) degrade(degraded []string, category, userID string, err error) []string {
	a.Logger.Warn("context read degraded to empty",
		zap.String("category", category),
		zap.String("user_id", userID),
		zap.Error(err))
	if a.Metrics != nil {
		a.Metrics.DegradedReads.WithLabelValues(category).Inc()
	}
	return append(degraded, category)
}
