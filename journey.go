package companion

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ──────────────────────────────────────────────
// Journey Model — per-user health journey records
// ──────────────────────────────────────────────

// MemoryNote is a free-form note the user asked the assistant to remember.
type MemoryNote struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Task statuses considered "open" for context reads.
const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

// TaskItem is a to-do on the user's health journey.
type TaskItem struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Status string    `json:"status"`
	DueAt  time.Time `json:"due_at"`
}

// HealthEvent is a dated event such as an appointment or a lab test.
type HealthEvent struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// Routine is a recurring habit the user is keeping up.
type Routine struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	LastCompletedAt time.Time `json:"last_completed_at"`
}

// Personalization is the user's current self-reported state. At most one
// record exists per user.
type Personalization struct {
	Energy string `json:"energy"`
	Focus  string `json:"focus"`
}

// JourneyStore is the pluggable backend for per-user context categories.
//
// Every read is bounded and ordered; a user with no data in a category
// yields an empty result, not an error. GetPersonalization returns
// ErrNotFound when no record exists.
type JourneyStore interface {
	// RecentNotes returns up to limit notes, most recent first.
	RecentNotes(ctx context.Context, userID string, limit int) ([]MemoryNote, error)

	// OpenTasks returns up to limit non-done tasks ordered by due date
	// ascending.
	OpenTasks(ctx context.Context, userID string, limit int) ([]TaskItem, error)

	// UpcomingEvents returns up to limit events with At >= now, ordered by
	// date ascending.
	UpcomingEvents(ctx context.Context, userID string, now time.Time, limit int) ([]HealthEvent, error)

	// Routines returns up to limit routines, least recently completed
	// first.
	Routines(ctx context.Context, userID string, limit int) ([]Routine, error)

	// GetPersonalization returns the user's single personalization record,
	// or ErrNotFound.
	GetPersonalization(ctx context.Context, userID string) (Personalization, error)
}

// InMemoryJourneyStore is a thread-safe in-memory JourneyStore for
// development and tests.
type InMemoryJourneyStore struct {
	mu              sync.RWMutex
	notes           map[string][]MemoryNote
	tasks           map[string][]TaskItem
	events          map[string][]HealthEvent
	routines        map[string][]Routine
	personalization map[string]Personalization
}

// NewInMemoryJourneyStore creates a new in-memory journey store.
func NewInMemoryJourneyStore() *InMemoryJourneyStore {
	return &InMemoryJourneyStore{
		notes:           make(map[string][]MemoryNote),
		tasks:           make(map[string][]TaskItem),
		events:          make(map[string][]HealthEvent),
		routines:        make(map[string][]Routine),
		personalization: make(map[string]Personalization),
	}
}

// AddNote records a memory note for a user.
func (s *InMemoryJourneyStore) AddNote(userID string, note MemoryNote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[userID] = append(s.notes[userID], note)
}

// AddTask records a task for a user.
func (s *InMemoryJourneyStore) AddTask(userID string, task TaskItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[userID] = append(s.tasks[userID], task)
}

// AddEvent records a health event for a user.
func (s *InMemoryJourneyStore) AddEvent(userID string, event HealthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[userID] = append(s.events[userID], event)
}

// AddRoutine records a routine for a user.
func (s *InMemoryJourneyStore) AddRoutine(userID string, routine Routine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routines[userID] = append(s.routines[userID], routine)
}

// SetPersonalization sets the user's personalization record.
func (s *InMemoryJourneyStore) SetPersonalization(userID string, p Personalization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personalization[userID] = p
}

func (s *InMemoryJourneyStore) RecentNotes(ctx context.Context, userID string, limit int) ([]MemoryNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notes := make([]MemoryNote, len(s.notes[userID]))
	copy(notes, s.notes[userID])
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return capSlice(notes, limit), nil
}

func (s *InMemoryJourneyStore) OpenTasks(ctx context.Context, userID string, limit int) ([]TaskItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := make([]TaskItem, 0, len(s.tasks[userID]))
	for _, t := range s.tasks[userID] {
		if t.Status == TaskStatusOpen || t.Status == TaskStatusInProgress {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].DueAt.Before(open[j].DueAt) })
	return capSlice(open, limit), nil
}

func (s *InMemoryJourneyStore) UpcomingEvents(ctx context.Context, userID string, now time.Time, limit int) ([]HealthEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	upcoming := make([]HealthEvent, 0, len(s.events[userID]))
	for _, e := range s.events[userID] {
		if !e.At.Before(now) {
			upcoming = append(upcoming, e)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].At.Before(upcoming[j].At) })
	return capSlice(upcoming, limit), nil
}

func (s *InMemoryJourneyStore) Routines(ctx context.Context, userID string, limit int) ([]Routine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routines := make([]Routine, len(s.routines[userID]))
	copy(routines, s.routines[userID])
	sort.SliceStable(routines, func(i, j int) bool {
		return routines[i].LastCompletedAt.Before(routines[j].LastCompletedAt)
	})
	return capSlice(routines, limit), nil
}

func (s *InMemoryJourneyStore) GetPersonalization(ctx context.Context, userID string) (Personalization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personalization[userID]
	if !ok {
		return Personalization{}, ErrNotFound
	}
	return p, nil
}

func capSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
