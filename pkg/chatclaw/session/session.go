// Package session manages the per-chat interactive session records kept in
// the ephemeral key-value store. A session tracks which multi-step command a
// chat is in the middle of and its partial data; there is at most one session
// per chat because every write uses the same key.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/kvstore"
)

// keyPrefix namespaces session keys within the ephemeral store.
const keyPrefix = "session_"

// State identifies what input the session is waiting for. Explicit state tags
// make the per-chat machine checkable: a handler can switch on the tag instead
// of probing which data fields happen to be filled in.
type State string

const (
	// StateAwaitingCron means /createtask step 1: waiting for a cron spec.
	StateAwaitingCron State = "awaiting_cron"

	// StateAwaitingPrompt means /createtask step 2: waiting for the prompt.
	StateAwaitingPrompt State = "awaiting_prompt"

	// StateConversing means the chat is in free-form conversation mode.
	// While conversing, only exempt commands may be dispatched.
	StateConversing State = "conversing"
)

// Session is the transient per-chat record for one in-flight command.
type Session struct {
	ChatID  int64  `json:"chat_id"`
	Command string `json:"command"`
	State   State  `json:"state"`

	// Cron holds the schedule collected in /createtask step 1, pending step 2.
	Cron string `json:"cron,omitempty"`

	// CreatedAt is the unix timestamp of session creation, used by the reaper.
	CreatedAt int64 `json:"created_at"`
}

// InConversation reports whether the session is in modal conversation mode.
func (s *Session) InConversation() bool {
	return s != nil && s.State == StateConversing
}

// Manager owns the lifecycle of session records in the ephemeral store.
type Manager struct {
	kv     kvstore.Store
	logger *slog.Logger
}

// NewManager creates a session manager on top of the given store.
func NewManager(kv kvstore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{kv: kv, logger: logger.With("component", "session")}
}

// New creates a fresh session record for a chat (not yet stored).
func New(chatID int64, command string, state State) *Session {
	return &Session{
		ChatID:    chatID,
		Command:   command,
		State:     state,
		CreatedAt: time.Now().Unix(),
	}
}

// Get reads the chat's session. Absent keys and corrupt records both return
// (nil, nil): a record that no longer decodes is state loss, not an error the
// caller can act on. Store-unavailable errors propagate.
func (m *Manager) Get(ctx context.Context, chatID int64) (*Session, error) {
	data, err := m.kv.Get(ctx, sessionKey(chatID))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session for chat %d: %w", chatID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		m.logger.Warn("discarding corrupt session record", "chat_id", chatID, "error", err)
		return nil, nil
	}
	return &sess, nil
}

// Put serializes and stores the session. A zero ttl means the record persists
// until explicitly deleted or reaped.
func (m *Manager) Put(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session for chat %d: %w", sess.ChatID, err)
	}
	if err := m.kv.Set(ctx, sessionKey(sess.ChatID), data, ttl); err != nil {
		return fmt.Errorf("store session for chat %d: %w", sess.ChatID, err)
	}
	return nil
}

// Delete removes the chat's session. Deleting a missing session is fine.
func (m *Manager) Delete(ctx context.Context, chatID int64) error {
	if err := m.kv.Delete(ctx, sessionKey(chatID)); err != nil {
		return fmt.Errorf("delete session for chat %d: %w", chatID, err)
	}
	return nil
}

// ScanChatIDs lists the chat ids of every stored session.
func (m *Manager) ScanChatIDs(ctx context.Context) ([]int64, error) {
	keys, err := m.kv.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(key, keyPrefix), 10, 64)
		if err != nil {
			m.logger.Warn("skipping malformed session key", "key", key)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reap deletes every session older than maxAge and returns how many were
// removed. Records without a creation timestamp are skipped rather than
// guessed at. Per-record errors are logged and do not stop the sweep.
func (m *Manager) Reap(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := m.ScanChatIDs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	reaped := 0
	for _, chatID := range ids {
		sess, err := m.Get(ctx, chatID)
		if err != nil {
			m.logger.Warn("reaper: failed to load session", "chat_id", chatID, "error", err)
			continue
		}
		if sess == nil || sess.CreatedAt == 0 || sess.CreatedAt > cutoff {
			continue
		}
		if err := m.Delete(ctx, chatID); err != nil {
			m.logger.Warn("reaper: failed to delete session", "chat_id", chatID, "error", err)
			continue
		}
		m.logger.Info("reaped expired session", "chat_id", chatID, "command", sess.Command)
		reaped++
	}
	return reaped, nil
}

func sessionKey(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}
