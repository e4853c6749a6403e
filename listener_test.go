package companion

import (
	"context"
	"testing"
	"time"
)

func TestTriggerListener_DiscardsAssistantEvents(t *testing.T) {
	chat := &countingChatStore{InMemoryChatStore: NewInMemoryChatStore()}
	p := newTestPipeline(chat, NewInMemoryJourneyStore(), fixedGenerate("x"))
	l := NewTriggerListener(p, 4)

	l.Handle(context.Background(), MessageEvent{
		ConversationID: "conv-1",
		Role:           RoleAssistant,
		Content:        "my own reply",
	})

	if l.Discarded.Load() != 1 {
		t.Errorf("expected 1 discarded event, got %d", l.Discarded.Load())
	}
	if l.Dispatched.Load() != 0 {
		t.Error("assistant event must not be dispatched")
	}
	if chat.reads.Load() != 0 {
		t.Error("discarded event must not touch the store")
	}
}

func TestTriggerListener_HandleProcessesUserEvent(t *testing.T) {
	chat := NewInMemoryChatStore()
	ctx := context.Background()
	trigger, _ := chat.AppendMessage(ctx, "conv-1", RoleUser, "hello")

	p := newTestPipeline(chat, NewInMemoryJourneyStore(), fixedGenerate("hi"))
	l := NewTriggerListener(p, 4)

	l.Handle(ctx, userEvent("conv-1", trigger.ID, "hello"))

	if l.Dispatched.Load() != 1 {
		t.Errorf("expected 1 dispatched event, got %d", l.Dispatched.Load())
	}
	history, _ := chat.History(ctx, "conv-1")
	if len(history) != 2 {
		t.Errorf("expected a reply to be appended, history len %d", len(history))
	}
}

func TestTriggerListener_HandleSwallowsPipelineFailure(t *testing.T) {
	chat := NewInMemoryChatStore()
	ctx := context.Background()
	trigger, _ := chat.AppendMessage(ctx, "conv-1", RoleUser, "hello")

	cfg := DefaultPipelineConfig() // missing API key → invocation fails
	p := NewReplyPipeline(chat, NewInMemoryJourneyStore(), cfg)
	l := NewTriggerListener(p, 4)

	// Must not panic or propagate anything.
	l.Handle(ctx, userEvent("conv-1", trigger.ID, "hello"))

	history, _ := chat.History(ctx, "conv-1")
	if len(history) != 1 {
		t.Error("failed invocation must terminate without writing")
	}
}

func TestTriggerListener_RunConsumesDispatchedEvents(t *testing.T) {
	chat := NewInMemoryChatStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger, _ := chat.AppendMessage(ctx, "conv-1", RoleUser, "hello")
	p := newTestPipeline(chat, NewInMemoryJourneyStore(), fixedGenerate("hi"))
	l := NewTriggerListener(p, 4)

	go l.Run(ctx)
	l.Dispatch(userEvent("conv-1", trigger.ID, "hello"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		history, _ := chat.History(ctx, "conv-1")
		if len(history) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("dispatched event was not processed")
}

func TestTriggerListener_DispatchDropsNonUserSilently(t *testing.T) {
	p := newTestPipeline(NewInMemoryChatStore(), NewInMemoryJourneyStore(), fixedGenerate("x"))
	l := NewTriggerListener(p, 1)

	l.Dispatch(MessageEvent{ConversationID: "conv-1", Role: RoleAssistant})
	if l.Discarded.Load() != 1 {
		t.Errorf("expected discard count 1, got %d", l.Discarded.Load())
	}

	select {
	case <-l.events:
		t.Error("non-user event must not be enqueued")
	default:
	}
}
