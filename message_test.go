package companion

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryChatStore_TimestampsStrictlyIncrease(t *testing.T) {
	s := NewInMemoryChatStore()
	frozen := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return frozen })
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 5; i++ {
		msg, err := s.AppendMessage(ctx, "conv-1", RoleUser, "tick")
		if err != nil {
			t.Fatal(err)
		}
		if !msg.CreatedAt.After(prev) {
			t.Fatal("store-assigned timestamps must be strictly increasing within a conversation")
		}
		prev = msg.CreatedAt
	}
}

func TestInMemoryChatStore_EmptyConversationID(t *testing.T) {
	s := NewInMemoryChatStore()
	if _, err := s.AppendMessage(context.Background(), "", RoleUser, "x"); err == nil {
		t.Error("expected error for empty conversation id")
	}
}

func TestInMemoryChatStore_UnknownConversationIsEmptyNotError(t *testing.T) {
	s := NewInMemoryChatStore()
	history, err := s.History(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Error("unknown conversation must read as empty")
	}

	_, err = s.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryChatStore_EnsureConversationKeepsFirstBinding(t *testing.T) {
	s := NewInMemoryChatStore()
	ctx := context.Background()

	if err := s.EnsureConversation(ctx, "conv-1", "user-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureConversation(ctx, "conv-1", "user-b"); err != nil {
		t.Fatal(err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UserID != "user-a" {
		t.Errorf("binding must not be overwritten, got %s", conv.UserID)
	}
}

func TestInMemoryChatStore_MarkAnswered(t *testing.T) {
	s := NewInMemoryChatStore()
	ctx := context.Background()

	first, err := s.MarkAnswered(ctx, "msg-1")
	if err != nil || !first {
		t.Fatalf("first marker write must report true, got %v / %v", first, err)
	}
	second, err := s.MarkAnswered(ctx, "msg-1")
	if err != nil || second {
		t.Fatalf("second marker write must report false, got %v / %v", second, err)
	}
}

func TestInMemoryChatStore_ClearConversation(t *testing.T) {
	s := NewInMemoryChatStore()
	ctx := context.Background()
	if _, err := s.AppendMessage(ctx, "conv-1", RoleUser, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearConversation(ctx, "conv-1"); err != nil {
		t.Fatal(err)
	}
	history, _ := s.History(ctx, "conv-1")
	if len(history) != 0 {
		t.Error("clear must remove all messages")
	}
}

func TestIsBlank(t *testing.T) {
	for _, blank := range []string{"", "   ", "\n\t "} {
		if !IsBlank(blank) {
			t.Errorf("%q should be blank", blank)
		}
	}
	if IsBlank(" hi ") {
		t.Error("non-empty content is not blank")
	}
}
