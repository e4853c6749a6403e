package companion

import (
	"fmt"
	"strings"
)

// ──────────────────────────────────────────────
// Prompt Composer — pure context-to-prompt rendering
// ──────────────────────────────────────────────
//
// ComposePrompt is a pure function: identical inputs produce byte-identical
// output, with no clock or randomness involved. The directive template is
// rendered once as a single system entry, followed by a bounded window of
// prior turns.

// PromptMessage is one role-tagged entry of a composed prompt.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Composition windows.
const (
	// RecentChatWindow is how many trailing history texts are inlined into
	// the system entry.
	RecentChatWindow = 5
	// HistoryWindow is how many trailing history messages follow the
	// system entry. Total prompt length is therefore at most
	// 1 + HistoryWindow entries.
	HistoryWindow = 10
)

// EmptyPlaceholder is substituted for any context category with no entries.
const EmptyPlaceholder = "(none)"

// DefaultDirective is the fixed behavioral directive rendered into the
// system entry. Placeholders: {recent_chat}, {memory}, {tasks},
// {health_events}, {routines}, {personalization}.
const DefaultDirective = `You are a supportive personal health companion. Ground every reply in the user's own context below. Be warm, specific and brief; never invent facts about the user.

Recent conversation:
{recent_chat}

Things the user asked you to remember:
{memory}

Open tasks:
{tasks}

Upcoming health events:
{health_events}

Routines to keep up:
{routines}

Current energy and focus:
{personalization}`

// ComposePrompt renders the context bundle, the fixed directive and a
// bounded window of history into the ordered prompt for the generation
// call: one system entry followed by up to HistoryWindow prior turns in
// chronological order.
//
// Over-cap categories are truncated to their cap per the category's
// ordering; excess is dropped silently.
func ComposePrompt(bundle *ContextBundle, history []Message, directive string) []PromptMessage {
	if bundle == nil {
		bundle = &ContextBundle{}
	}
	if directive == "" {
		directive = DefaultDirective
	}

	system := renderDirective(bundle, history, directive)

	window := tailMessages(history, HistoryWindow)
	prompt := make([]PromptMessage, 0, 1+len(window))
	prompt = append(prompt, PromptMessage{Role: RoleSystem, Content: system})
	for _, m := range window {
		prompt = append(prompt, PromptMessage{Role: m.Role, Content: m.Content})
	}
	return prompt
}

func renderDirective(bundle *ContextBundle, history []Message, directive string) string {
	recent := tailMessages(history, RecentChatWindow)
	recentTexts := make([]string, 0, len(recent))
	for _, m := range recent {
		recentTexts = append(recentTexts, m.Content)
	}

	notes := make([]string, 0, MaxMemoryNotes)
	for _, n := range headNotes(bundle.Memory, MaxMemoryNotes) {
		notes = append(notes, n.Content)
	}

	tasks := make([]string, 0, MaxOpenTasks)
	for i, t := range bundle.Tasks {
		if i == MaxOpenTasks {
			break
		}
		tasks = append(tasks, t.Title)
	}

	events := make([]string, 0, MaxHealthEvents)
	for i, e := range bundle.HealthEvents {
		if i == MaxHealthEvents {
			break
		}
		events = append(events, e.Description)
	}

	routines := make([]string, 0, MaxRoutines)
	for i, r := range bundle.Routines {
		if i == MaxRoutines {
			break
		}
		routines = append(routines, r.Name)
	}

	personalization := EmptyPlaceholder
	if bundle.Personalization != nil {
		personalization = fmt.Sprintf("energy: %s, focus: %s",
			bundle.Personalization.Energy, bundle.Personalization.Focus)
	}

	replacer := strings.NewReplacer(
		"{recent_chat}", joinOrPlaceholder(recentTexts),
		"{memory}", joinOrPlaceholder(notes),
		"{tasks}", joinOrPlaceholder(tasks),
		"{health_events}", joinOrPlaceholder(events),
		"{routines}", joinOrPlaceholder(routines),
		"{personalization}", personalization,
	)
	return replacer.Replace(directive)
}

func joinOrPlaceholder(items []string) string {
	if len(items) == 0 {
		return EmptyPlaceholder
	}
	return "- " + strings.Join(items, "\n- ")
}

func headNotes(notes []MemoryNote, limit int) []MemoryNote {
	if len(notes) > limit {
		return notes[:limit]
	}
	return notes
}

func tailMessages(history []Message, n int) []Message {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
