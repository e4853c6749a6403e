package companion

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────
// Conversation Model — append-only message threads
// ──────────────────────────────────────────────

// Message roles. A message's role is fixed at creation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn in a conversation. Messages are never updated after
// creation; the store assigns ID and CreatedAt at write time, and CreatedAt
// is strictly increasing within a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is an ordered thread of messages sharing one ID.
// UserID identifies the account the thread belongs to; context reads are
// keyed by UserID, not by the conversation ID.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// ErrNotFound is returned by store lookups when a record does not exist.
var ErrNotFound = errors.New("companion: not found")

// ChatStore is the pluggable conversation backend.
//
// All writes are appends: no method mutates or deletes an existing message.
// ClearConversation is the one bulk deletion escape hatch and is never
// called by the reply pipeline.
type ChatStore interface {
	// AppendMessage appends a message with a store-assigned ID and
	// timestamp. The timestamp is strictly after every message already in
	// the conversation.
	AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error)

	// History returns all messages of a conversation in ascending
	// timestamp order. An unknown conversation yields an empty slice.
	History(ctx context.Context, conversationID string) ([]Message, error)

	// GetConversation looks up conversation metadata.
	// Returns ErrNotFound when the conversation has never been seen.
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)

	// EnsureConversation records the conversation/user binding. Safe to
	// call repeatedly; an existing UserID is never overwritten.
	EnsureConversation(ctx context.Context, conversationID, userID string) error

	// MarkAnswered sets the answered marker for a triggering message if it
	// is not already set (create-if-absent). It reports true when this
	// call set the marker, false when another invocation got there first.
	MarkAnswered(ctx context.Context, messageID string) (bool, error)

	// ClearConversation deletes a conversation and its messages.
	ClearConversation(ctx context.Context, conversationID string) error
}

// InMemoryChatStore is a thread-safe in-memory ChatStore for development
// and tests. Data is lost on restart.
type InMemoryChatStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	messages      map[string][]Message
	answered      map[string]bool
	now           func() time.Time
}

// NewInMemoryChatStore creates a new in-memory chat store.
func NewInMemoryChatStore() *InMemoryChatStore {
	return &InMemoryChatStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		answered:      make(map[string]bool),
		now:           time.Now,
	}
}

// SetClock overrides the timestamp source. Test hook.
func (s *InMemoryChatStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryChatStore) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	if conversationID == "" {
		return Message{}, errors.New("companion: empty conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	if existing := s.messages[conversationID]; len(existing) > 0 {
		if last := existing[len(existing)-1].CreatedAt; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	if _, ok := s.conversations[conversationID]; !ok {
		s.conversations[conversationID] = Conversation{ID: conversationID}
	}
	return msg, nil
}

func (s *InMemoryChatStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryChatStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *InMemoryChatStore) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.conversations[conversationID] = Conversation{ID: conversationID, UserID: userID}
		return nil
	}
	if conv.UserID == "" && userID != "" {
		conv.UserID = userID
		s.conversations[conversationID] = conv
	}
	return nil
}

func (s *InMemoryChatStore) MarkAnswered(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answered[messageID] {
		return false, nil
	}
	s.answered[messageID] = true
	return true, nil
}

func (s *InMemoryChatStore) ClearConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	delete(s.conversations, conversationID)
	return nil
}

// IsBlank reports whether a message content is empty or whitespace only.
// Blank user messages still trigger the pipeline; this is informational.
func IsBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}
