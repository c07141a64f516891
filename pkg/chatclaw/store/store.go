// Package store provides the durable SQLite database for ChatClaw.
// A single chatclaw.db file holds the scheduled tasks and the archived
// conversation transcripts. Live sessions and in-flight conversations live
// in the ephemeral kvstore, not here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Recurring prompt tasks driven by the scheduler.
CREATE TABLE IF NOT EXISTS tasks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cron        TEXT NOT NULL,
    prompt      TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    chat_id     INTEGER NOT NULL,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

-- Archived conversation transcripts (moved here from the ephemeral store).
CREATE TABLE IF NOT EXISTS conversations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id       INTEGER NOT NULL,
    messages_json TEXT NOT NULL DEFAULT '[]',
    summary       TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_chat ON conversations(chat_id);
`

// Task is a persisted recurring job: a cron schedule plus the prompt sent to
// the model when it fires, delivered to chat_id.
type Task struct {
	ID          int64
	Cron        string
	Prompt      string
	Description string
	ChatID      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given path, enables WAL mode,
// and creates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/chatclaw.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task and returns its assigned id.
func (s *Store) CreateTask(ctx context.Context, cronSpec, prompt, description string, chatID int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (cron, prompt, description, chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cronSpec, prompt, description, chatID, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("task id: %w", err)
	}
	return id, nil
}

// ListTasks returns every persisted task.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT id, cron, prompt, description, chat_id, created_at, updated_at
		FROM tasks ORDER BY id`)
}

// ListTasksExcluding returns tasks whose ids are not in exclude. With an
// empty exclude list it behaves like ListTasks. Used by the scheduler's sync
// pass to fetch only rows it has not yet registered.
func (s *Store) ListTasksExcluding(ctx context.Context, exclude []int64) ([]Task, error) {
	if len(exclude) == 0 {
		return s.ListTasks(ctx)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(exclude)), ", ")
	args := make([]any, len(exclude))
	for i, id := range exclude {
		args[i] = id
	}

	return s.queryTasks(ctx, fmt.Sprintf(`
		SELECT id, cron, prompt, description, chat_id, created_at, updated_at
		FROM tasks WHERE id NOT IN (%s) ORDER BY id`, placeholders), args...)
}

// DeleteTask removes a task by id, scoped to the chat that owns it.
func (s *Store) DeleteTask(ctx context.Context, id, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE id = ? AND chat_id = ?", id, chatID)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

// ArchiveConversation inserts a finished conversation transcript.
func (s *Store) ArchiveConversation(ctx context.Context, chatID int64, messagesJSON []byte, summary string, createdAt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (chat_id, messages_json, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		chatID, string(messagesJSON), summary, createdAt.UTC().Format(time.RFC3339), now,
	)
	if err != nil {
		return fmt.Errorf("archive conversation for chat %d: %w", chatID, err)
	}
	return nil
}

// CountConversations returns the number of archived conversations for a chat.
func (s *Store) CountConversations(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE chat_id = ?", chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var (
			t                    Task
			createdAt, updatedAt string
		)
		if err := rows.Scan(&t.ID, &t.Cron, &t.Prompt, &t.Description, &t.ChatID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}
