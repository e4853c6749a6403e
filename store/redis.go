// Package store provides database-backed implementations of the companion
// ChatStore and JourneyStore interfaces.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	companion "github.com/lumajourney/companion-sdk-go"
)

// RedisStore implements companion.ChatStore and companion.JourneyStore on
// Redis. Messages and journey records live in RPUSH lists, the answered
// marker uses SETNX, and every AppendMessage publishes a message-created
// event on a pub/sub channel so a listener can close the loop.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Default is "companion".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL sets a time-to-live applied to conversation keys on write.
// Default is no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithClock overrides the timestamp source. Test hook.
func WithClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore creates a Redis-backed store.
//
// Example:
//
//	rs := store.NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    store.WithPrefix("myapp"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "companion",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) conversationKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s", s.prefix, id)
}

func (s *RedisStore) messagesKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", s.prefix, id)
}

func (s *RedisStore) journeyKey(userID, category string) string {
	return fmt.Sprintf("%s:user:%s:%s", s.prefix, userID, category)
}

func (s *RedisStore) answeredKey(messageID string) string {
	return fmt.Sprintf("%s:answered:%s", s.prefix, messageID)
}

// EventsChannel is the pub/sub channel carrying message-created events.
func (s *RedisStore) EventsChannel() string {
	return s.prefix + ":events"
}

// AppendMessage appends a message with a store-assigned ID and timestamp
// strictly after the conversation's last message, then publishes a
// message-created event.
func (s *RedisStore) AppendMessage(ctx context.Context, conversationID, role, content string) (companion.Message, error) {
	if conversationID == "" {
		return companion.Message{}, errors.New("store: empty conversation id")
	}

	ts := s.now()
	key := s.messagesKey(conversationID)
	last, err := s.client.LIndex(ctx, key, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return companion.Message{}, fmt.Errorf("redis lindex failed: %w", err)
	}
	if last != "" {
		var prev companion.Message
		if err := json.Unmarshal([]byte(last), &prev); err == nil && !ts.After(prev.CreatedAt) {
			ts = prev.CreatedAt.Add(time.Nanosecond)
		}
	}

	msg := companion.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return companion.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return companion.Message{}, fmt.Errorf("redis rpush failed: %w", err)
	}

	event, err := json.Marshal(companion.MessageEvent{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Role:           msg.Role,
		Content:        msg.Content,
	})
	if err == nil {
		// Best effort: a lost event is a missed trigger, not a lost
		// message.
		s.client.Publish(ctx, s.EventsChannel(), event)
	}

	return msg, nil
}

// History returns all messages in ascending timestamp order.
func (s *RedisStore) History(ctx context.Context, conversationID string) ([]companion.Message, error) {
	vals, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []companion.Message{}, nil
		}
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	messages := make([]companion.Message, 0, len(vals))
	for _, v := range vals {
		var msg companion.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) GetConversation(ctx context.Context, conversationID string) (companion.Conversation, error) {
	data, err := s.client.Get(ctx, s.conversationKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return companion.Conversation{}, companion.ErrNotFound
		}
		return companion.Conversation{}, fmt.Errorf("redis get failed: %w", err)
	}
	var conv companion.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return companion.Conversation{}, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return conv, nil
}

func (s *RedisStore) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	existing, err := s.GetConversation(ctx, conversationID)
	if err == nil && existing.UserID != "" {
		return nil
	}
	if err != nil && !errors.Is(err, companion.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(companion.Conversation{ID: conversationID, UserID: userID})
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.client.Set(ctx, s.conversationKey(conversationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// MarkAnswered is a SETNX create-if-absent marker keyed by the triggering
// message ID.
func (s *RedisStore) MarkAnswered(ctx context.Context, messageID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.answeredKey(messageID), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) ClearConversation(ctx context.Context, conversationID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.conversationKey(conversationID))
	pipe.Del(ctx, s.messagesKey(conversationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// ── Journey writes ──

// AddNote appends a memory note for a user.
func (s *RedisStore) AddNote(ctx context.Context, userID string, note companion.MemoryNote) error {
	return s.pushJSON(ctx, s.journeyKey(userID, "notes"), note)
}

// AddTask appends a task for a user.
func (s *RedisStore) AddTask(ctx context.Context, userID string, task companion.TaskItem) error {
	return s.pushJSON(ctx, s.journeyKey(userID, "tasks"), task)
}

// AddEvent appends a health event for a user.
func (s *RedisStore) AddEvent(ctx context.Context, userID string, event companion.HealthEvent) error {
	return s.pushJSON(ctx, s.journeyKey(userID, "events"), event)
}

// AddRoutine appends a routine for a user.
func (s *RedisStore) AddRoutine(ctx context.Context, userID string, routine companion.Routine) error {
	return s.pushJSON(ctx, s.journeyKey(userID, "routines"), routine)
}

// SetPersonalization sets the user's single personalization record.
func (s *RedisStore) SetPersonalization(ctx context.Context, userID string, p companion.Personalization) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal personalization: %w", err)
	}
	if err := s.client.Set(ctx, s.journeyKey(userID, "personalization"), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) pushJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	return nil
}

// ── Journey reads ──
//
// Journey lists are small per user; records are fetched whole and
// filtered/sorted client-side.

func (s *RedisStore) RecentNotes(ctx context.Context, userID string, limit int) ([]companion.MemoryNote, error) {
	var notes []companion.MemoryNote
	if err := s.loadList(ctx, s.journeyKey(userID, "notes"), &notes); err != nil {
		return nil, err
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return capped(notes, limit), nil
}

func (s *RedisStore) OpenTasks(ctx context.Context, userID string, limit int) ([]companion.TaskItem, error) {
	var tasks []companion.TaskItem
	if err := s.loadList(ctx, s.journeyKey(userID, "tasks"), &tasks); err != nil {
		return nil, err
	}
	open := make([]companion.TaskItem, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == companion.TaskStatusOpen || t.Status == companion.TaskStatusInProgress {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].DueAt.Before(open[j].DueAt) })
	return capped(open, limit), nil
}

func (s *RedisStore) UpcomingEvents(ctx context.Context, userID string, now time.Time, limit int) ([]companion.HealthEvent, error) {
	var events []companion.HealthEvent
	if err := s.loadList(ctx, s.journeyKey(userID, "events"), &events); err != nil {
		return nil, err
	}
	upcoming := make([]companion.HealthEvent, 0, len(events))
	for _, e := range events {
		if !e.At.Before(now) {
			upcoming = append(upcoming, e)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].At.Before(upcoming[j].At) })
	return capped(upcoming, limit), nil
}

func (s *RedisStore) Routines(ctx context.Context, userID string, limit int) ([]companion.Routine, error) {
	var routines []companion.Routine
	if err := s.loadList(ctx, s.journeyKey(userID, "routines"), &routines); err != nil {
		return nil, err
	}
	sort.SliceStable(routines, func(i, j int) bool {
		return routines[i].LastCompletedAt.Before(routines[j].LastCompletedAt)
	})
	return capped(routines, limit), nil
}

func (s *RedisStore) GetPersonalization(ctx context.Context, userID string) (companion.Personalization, error) {
	data, err := s.client.Get(ctx, s.journeyKey(userID, "personalization")).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return companion.Personalization{}, companion.ErrNotFound
		}
		return companion.Personalization{}, fmt.Errorf("redis get failed: %w", err)
	}
	var p companion.Personalization
	if err := json.Unmarshal(data, &p); err != nil {
		return companion.Personalization{}, fmt.Errorf("unmarshal personalization: %w", err)
	}
	return p, nil
}

func (s *RedisStore) loadList(ctx context.Context, key string, out interface{}) error {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis lrange failed: %w", err)
	}
	if len(vals) == 0 {
		return nil
	}
	// Each list element is a JSON object; decode them as one array.
	raw := "[" + strings.Join(vals, ",") + "]"
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal records: %w", err)
	}
	return nil
}

func capped[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// ── Trigger feed ──

// EventFeed subscribes to message-created events published by
// AppendMessage. The returned channel closes when ctx is canceled or the
// subscription drops; the returned func closes the subscription early.
func (s *RedisStore) EventFeed(ctx context.Context) (<-chan companion.MessageEvent, func() error) {
	sub := s.client.Subscribe(ctx, s.EventsChannel())
	out := make(chan companion.MessageEvent, 16)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var event companion.MessageEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, sub.Close
}
