package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	companion "github.com/lumajourney/companion-sdk-go"
)

// MySQLStore implements companion.ChatStore and companion.JourneyStore on
// MySQL.
//
// It uses prefix-named tables (auto-created if AutoMigrate is true):
//   - {prefix}_conversations, {prefix}_messages, {prefix}_answered
//   - {prefix}_notes, {prefix}_tasks, {prefix}_events,
//     {prefix}_routines, {prefix}_personalization
type MySQLStore struct {
	db     *sql.DB
	prefix string
	now    func() time.Time
}

// MySQLStoreConfig configures the MySQL store.
type MySQLStoreConfig struct {
	Prefix      string // table prefix, default "companion"
	AutoMigrate bool   // create tables if not exist, default true
}

// NewMySQLStore creates a MySQL-backed store. The sql.DB must be already
// opened with a MySQL driver.
func NewMySQLStore(db *sql.DB, config ...MySQLStoreConfig) (*MySQLStore, error) {
	cfg := MySQLStoreConfig{Prefix: "companion", AutoMigrate: true}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "companion"
	}

	s := &MySQLStore{db: db, prefix: cfg.Prefix, now: time.Now}
	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			return nil, fmt.Errorf("auto-migrate failed: %w", err)
		}
	}
	return s, nil
}

func (s *MySQLStore) table(name string) string { return s.prefix + "_" + name }

func (s *MySQLStore) migrate() error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id      VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL DEFAULT '',
			PRIMARY KEY (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("conversations")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              VARCHAR(64)  NOT NULL,
			conversation_id VARCHAR(64)  NOT NULL,
			role            VARCHAR(16)  NOT NULL,
			content         LONGTEXT     NOT NULL,
			created_at      DATETIME(6)  NOT NULL,
			PRIMARY KEY (id),
			KEY idx_conversation (conversation_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("messages")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			message_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (message_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("answered")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         VARCHAR(64) NOT NULL,
			user_id    VARCHAR(64) NOT NULL,
			content    LONGTEXT    NOT NULL,
			created_at DATETIME(6) NOT NULL,
			PRIMARY KEY (id),
			KEY idx_user (user_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("notes")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id      VARCHAR(64)  NOT NULL,
			user_id VARCHAR(64)  NOT NULL,
			title   VARCHAR(512) NOT NULL,
			status  VARCHAR(32)  NOT NULL,
			due_at  DATETIME(6)  NOT NULL,
			PRIMARY KEY (id),
			KEY idx_user (user_id, status, due_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("tasks")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          VARCHAR(64)  NOT NULL,
			user_id     VARCHAR(64)  NOT NULL,
			description VARCHAR(512) NOT NULL,
			at          DATETIME(6)  NOT NULL,
			PRIMARY KEY (id),
			KEY idx_user (user_id, at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("events")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                VARCHAR(64)  NOT NULL,
			user_id           VARCHAR(64)  NOT NULL,
			name              VARCHAR(256) NOT NULL,
			last_completed_at DATETIME(6)  NOT NULL,
			PRIMARY KEY (id),
			KEY idx_user (user_id, last_completed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("routines")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(64)  NOT NULL,
			energy  VARCHAR(64)  NOT NULL DEFAULT '',
			focus   VARCHAR(64)  NOT NULL DEFAULT '',
			PRIMARY KEY (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table("personalization")),
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ── ChatStore ──

func (s *MySQLStore) AppendMessage(ctx context.Context, conversationID, role, content string) (companion.Message, error) {
	if conversationID == "" {
		return companion.Message{}, errors.New("store: empty conversation id")
	}

	ts := s.now()
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(created_at) FROM %s WHERE conversation_id = ?", s.table("messages")),
		conversationID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return companion.Message{}, fmt.Errorf("query last timestamp: %w", err)
	}
	if last.Valid && !ts.After(last.Time) {
		ts = last.Time.Add(time.Microsecond)
	}

	msg := companion.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)", s.table("messages")),
		msg.ID, conversationID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return companion.Message{}, fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT IGNORE INTO %s (id, user_id) VALUES (?, '')", s.table("conversations")),
		conversationID)
	if err != nil {
		return companion.Message{}, fmt.Errorf("ensure conversation row: %w", err)
	}
	return msg, nil
}

func (s *MySQLStore) History(ctx context.Context, conversationID string) ([]companion.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, role, content, created_at FROM %s WHERE conversation_id = ? ORDER BY created_at ASC", s.table("messages")),
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []companion.Message
	for rows.Next() {
		var m companion.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *MySQLStore) GetConversation(ctx context.Context, conversationID string) (companion.Conversation, error) {
	var conv companion.Conversation
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, user_id FROM %s WHERE id = ?", s.table("conversations")),
		conversationID).Scan(&conv.ID, &conv.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return companion.Conversation{}, companion.ErrNotFound
	}
	if err != nil {
		return companion.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

func (s *MySQLStore) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE user_id = IF(user_id = '', VALUES(user_id), user_id)`,
			s.table("conversations")),
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

func (s *MySQLStore) MarkAnswered(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT IGNORE INTO %s (message_id) VALUES (?)", s.table("answered")),
		messageID)
	if err != nil {
		return false, fmt.Errorf("mark answered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark answered: %w", err)
	}
	return affected > 0, nil
}

func (s *MySQLStore) ClearConversation(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE conversation_id = ?", s.table("messages")),
		conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table("conversations")),
		conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ── Journey writes ──

// AddNote inserts a memory note for a user.
func (s *MySQLStore) AddNote(ctx context.Context, userID string, note companion.MemoryNote) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, user_id, content, created_at) VALUES (?, ?, ?, ?)", s.table("notes")),
		note.ID, userID, note.Content, note.CreatedAt)
	return err
}

// AddTask inserts a task for a user.
func (s *MySQLStore) AddTask(ctx context.Context, userID string, task companion.TaskItem) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, user_id, title, status, due_at) VALUES (?, ?, ?, ?, ?)", s.table("tasks")),
		task.ID, userID, task.Title, task.Status, task.DueAt)
	return err
}

// AddEvent inserts a health event for a user.
func (s *MySQLStore) AddEvent(ctx context.Context, userID string, event companion.HealthEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, user_id, description, at) VALUES (?, ?, ?, ?)", s.table("events")),
		event.ID, userID, event.Description, event.At)
	return err
}

// AddRoutine inserts a routine for a user.
func (s *MySQLStore) AddRoutine(ctx context.Context, userID string, routine companion.Routine) error {
	if routine.ID == "" {
		routine.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, user_id, name, last_completed_at) VALUES (?, ?, ?, ?)", s.table("routines")),
		routine.ID, userID, routine.Name, routine.LastCompletedAt)
	return err
}

// SetPersonalization upserts the user's personalization record.
func (s *MySQLStore) SetPersonalization(ctx context.Context, userID string, p companion.Personalization) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, energy, focus) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE energy = VALUES(energy), focus = VALUES(focus)`,
			s.table("personalization")),
		userID, p.Energy, p.Focus)
	return err
}

// ── Journey reads ──

func (s *MySQLStore) RecentNotes(ctx context.Context, userID string, limit int) ([]companion.MemoryNote, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, content, created_at FROM %s WHERE user_id = ? ORDER BY created_at DESC LIMIT ?", s.table("notes")),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []companion.MemoryNote
	for rows.Next() {
		var n companion.MemoryNote
		if err := rows.Scan(&n.ID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *MySQLStore) OpenTasks(ctx context.Context, userID string, limit int) ([]companion.TaskItem, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, title, status, due_at FROM %s WHERE user_id = ? AND status IN (?, ?) ORDER BY due_at ASC LIMIT ?", s.table("tasks")),
		userID, companion.TaskStatusOpen, companion.TaskStatusInProgress, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []companion.TaskItem
	for rows.Next() {
		var t companion.TaskItem
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.DueAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *MySQLStore) UpcomingEvents(ctx context.Context, userID string, now time.Time, limit int) ([]companion.HealthEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, description, at FROM %s WHERE user_id = ? AND at >= ? ORDER BY at ASC LIMIT ?", s.table("events")),
		userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []companion.HealthEvent
	for rows.Next() {
		var e companion.HealthEvent
		if err := rows.Scan(&e.ID, &e.Description, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *MySQLStore) Routines(ctx context.Context, userID string, limit int) ([]companion.Routine, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, name, last_completed_at FROM %s WHERE user_id = ? ORDER BY last_completed_at ASC LIMIT ?", s.table("routines")),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query routines: %w", err)
	}
	defer rows.Close()

	var routines []companion.Routine
	for rows.Next() {
		var r companion.Routine
		if err := rows.Scan(&r.ID, &r.Name, &r.LastCompletedAt); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		routines = append(routines, r)
	}
	return routines, rows.Err()
}

func (s *MySQLStore) GetPersonalization(ctx context.Context, userID string) (companion.Personalization, error) {
	var p companion.Personalization
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT energy, focus FROM %s WHERE user_id = ?", s.table("personalization")),
		userID).Scan(&p.Energy, &p.Focus)
	if errors.Is(err, sql.ErrNoRows) {
		return companion.Personalization{}, companion.ErrNotFound
	}
	if err != nil {
		return companion.Personalization{}, fmt.Errorf("query personalization: %w", err)
	}
	return p, nil
}
