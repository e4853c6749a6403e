package companion

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func historyOf(contents ...string) []Message {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]Message, 0, len(contents))
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{
			ID:        fmt.Sprintf("m%d", i),
			Role:      role,
			Content:   c,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

func TestComposePrompt_SystemEntryFirst(t *testing.T) {
	prompt := ComposePrompt(&ContextBundle{}, historyOf("hi", "hello"), "")
	if len(prompt) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(prompt))
	}
	if prompt[0].Role != RoleSystem {
		t.Errorf("first entry must be system, got %s", prompt[0].Role)
	}
	if prompt[1].Content != "hi" || prompt[2].Content != "hello" {
		t.Error("history must follow in chronological order")
	}
}

func TestComposePrompt_Pure(t *testing.T) {
	bundle := &ContextBundle{
		Memory:          []MemoryNote{{Content: "Felt tired Monday"}},
		Tasks:           []TaskItem{{Title: "Book GP appointment"}},
		Personalization: &Personalization{Energy: "low", Focus: "recovery"},
	}
	history := historyOf("a", "b", "c")

	first := ComposePrompt(bundle, history, "")
	second := ComposePrompt(bundle, history, "")
	if !reflect.DeepEqual(first, second) {
		t.Error("composition must be reproducible for identical inputs")
	}
}

func TestComposePrompt_BoundedOutput(t *testing.T) {
	contents := make([]string, 30)
	for i := range contents {
		contents[i] = fmt.Sprintf("turn %d", i)
	}
	prompt := ComposePrompt(&ContextBundle{}, historyOf(contents...), "")

	if len(prompt) != 1+HistoryWindow {
		t.Fatalf("expected %d entries, got %d", 1+HistoryWindow, len(prompt))
	}
	// Window holds the most recent turns, oldest-of-the-window first.
	if prompt[1].Content != "turn 20" {
		t.Errorf("expected window to start at turn 20, got %q", prompt[1].Content)
	}
	if prompt[len(prompt)-1].Content != "turn 29" {
		t.Errorf("expected window to end at turn 29, got %q", prompt[len(prompt)-1].Content)
	}
}

func TestComposePrompt_MemoryCapDropsExcess(t *testing.T) {
	// Six notes ordered most recent first: only the first five make it in.
	var notes []MemoryNote
	for i := 1; i <= 6; i++ {
		notes = append(notes, MemoryNote{Content: fmt.Sprintf("N%d", i)})
	}
	prompt := ComposePrompt(&ContextBundle{Memory: notes}, nil, "")

	system := prompt[0].Content
	for i := 1; i <= 5; i++ {
		if !strings.Contains(system, fmt.Sprintf("N%d", i)) {
			t.Errorf("system entry missing note N%d", i)
		}
	}
	if strings.Contains(system, "N6") {
		t.Error("system entry must not contain the sixth note")
	}
}

func TestComposePrompt_PlaceholdersForEmptyCategories(t *testing.T) {
	prompt := ComposePrompt(&ContextBundle{}, nil, "")
	system := prompt[0].Content

	if got := strings.Count(system, EmptyPlaceholder); got != 6 {
		t.Errorf("expected 6 placeholders for all-empty context, got %d", got)
	}
	if len(prompt) != 1 {
		t.Errorf("empty history must produce a lone system entry, got %d entries", len(prompt))
	}
}

func TestComposePrompt_ContextFieldsRendered(t *testing.T) {
	bundle := &ContextBundle{
		Memory:          []MemoryNote{{Content: "Prefers morning walks"}},
		Tasks:           []TaskItem{{Title: "Refill prescription"}},
		HealthEvents:    []HealthEvent{{Description: "Cardiology follow-up"}},
		Routines:        []Routine{{Name: "Evening stretching"}},
		Personalization: &Personalization{Energy: "medium", Focus: "sleep"},
	}
	system := ComposePrompt(bundle, historyOf("how am I doing?"), "")[0].Content

	for _, want := range []string{
		"Prefers morning walks",
		"Refill prescription",
		"Cardiology follow-up",
		"Evening stretching",
		"energy: medium, focus: sleep",
		"how am I doing?",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system entry missing %q", want)
		}
	}
}

func TestComposePrompt_CustomDirective(t *testing.T) {
	prompt := ComposePrompt(&ContextBundle{}, nil, "tasks today: {tasks}")
	if prompt[0].Content != "tasks today: "+EmptyPlaceholder {
		t.Errorf("unexpected rendered directive: %q", prompt[0].Content)
	}
}

func TestComposePrompt_NilBundle(t *testing.T) {
	prompt := ComposePrompt(nil, historyOf("hello"), "")
	if len(prompt) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(prompt))
	}
}
