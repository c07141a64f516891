// Package bot – conversation.go implements the free-form conversation engine
// behind /startconversation. Each chat in conversation mode owns a rolling
// transcript plus a compact summary in the ephemeral store; the model only
// ever sees the summary and the last two raw messages, never the full
// transcript. Closed conversations are archived to SQLite.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/kvstore"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
)

// conversationKeyPrefix namespaces conversation keys within the ephemeral store.
const conversationKeyPrefix = "conversation_"

// summaryLimit bounds the rolling summary length in runes.
const summaryLimit = 200

// ChatTurn is one message in a conversation transcript.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the accumulated transcript for one chat in conversation
// mode. Messages are append-only and chronological.
type Conversation struct {
	Messages  []ChatTurn `json:"messages"`
	Summary   string     `json:"summary"`
	CreatedAt int64      `json:"created_at"`
}

// ConversationEngine runs conversation-mode turns and owns the record's
// lifecycle in the ephemeral store.
type ConversationEngine struct {
	kv        kvstore.Store
	store     *store.Store
	llm       Completer
	messenger Messenger
	logger    *slog.Logger
}

// NewConversationEngine wires the engine to its collaborators.
func NewConversationEngine(kv kvstore.Store, st *store.Store, llm Completer, messenger Messenger, logger *slog.Logger) *ConversationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationEngine{
		kv:        kv,
		store:     st,
		llm:       llm,
		messenger: messenger,
		logger:    logger.With("component", "conversation"),
	}
}

// Open creates an empty conversation record for the chat if none exists.
func (e *ConversationEngine) Open(ctx context.Context, chatID int64) error {
	if conv, _ := e.load(ctx, chatID); conv != nil {
		return nil
	}
	return e.save(ctx, chatID, &Conversation{
		Messages:  []ChatTurn{},
		CreatedAt: time.Now().Unix(),
	})
}

// Turn runs one exchange: build a bounded-context completion request, send
// the reply to the chat, then refresh the summary and append both turns.
// The reply is delivered before summarization so the user never waits on it.
func (e *ConversationEngine) Turn(ctx context.Context, chatID int64, userMessage string) (string, error) {
	conv, err := e.load(ctx, chatID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		conv = &Conversation{
			Messages:  []ChatTurn{},
			CreatedAt: time.Now().Unix(),
		}
	}

	var prompt string
	if conv.Summary != "" {
		recent := conv.Messages
		if len(recent) > 2 {
			recent = recent[len(recent)-2:]
		}
		prompt = buildContinuationPrompt(recent, conv.Summary, userMessage)
	} else {
		prompt = userMessage
	}

	reply, err := e.llm.Respond(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("conversation turn for chat %d: %w", chatID, err)
	}

	if err := e.messenger.SendMessage(ctx, chatID, reply); err != nil {
		e.logger.Warn("failed to deliver conversation reply", "chat_id", chatID, "error", err)
	}

	summary, err := e.llm.RespondNoTools(ctx, buildSummaryPrompt(userMessage, reply))
	if err != nil {
		// Keep the previous summary; the transcript still advances.
		e.logger.Warn("summarization failed", "chat_id", chatID, "error", err)
		summary = conv.Summary
	}

	conv.Messages = append(conv.Messages,
		ChatTurn{Role: "user", Content: userMessage},
		ChatTurn{Role: "assistant", Content: reply},
	)
	conv.Summary = trimSummary(summary)

	if err := e.save(ctx, chatID, conv); err != nil {
		return "", err
	}
	return reply, nil
}

// Close archives the conversation to the durable store if it holds at least
// one message pair, then evicts it from the ephemeral store. An empty
// conversation is simply dropped.
func (e *ConversationEngine) Close(ctx context.Context, chatID int64) error {
	conv, err := e.load(ctx, chatID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}

	if len(conv.Messages) >= 2 {
		messagesJSON, err := json.Marshal(conv.Messages)
		if err != nil {
			return fmt.Errorf("encode transcript for chat %d: %w", chatID, err)
		}
		createdAt := time.Unix(conv.CreatedAt, 0).UTC()
		if err := e.store.ArchiveConversation(ctx, chatID, messagesJSON, conv.Summary, createdAt); err != nil {
			return fmt.Errorf("archive conversation for chat %d: %w", chatID, err)
		}
	}

	if err := e.kv.Delete(ctx, conversationKey(chatID)); err != nil {
		return fmt.Errorf("evict conversation for chat %d: %w", chatID, err)
	}
	return nil
}

// Reap persists-then-evicts every conversation older than maxAge, so no
// record outlives the threshold even if the user never closes it. Per-record
// errors are logged and do not stop the sweep.
func (e *ConversationEngine) Reap(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := e.kv.ScanPrefix(ctx, conversationKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan conversations: %w", err)
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	reaped := 0
	for _, key := range keys {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(key, conversationKeyPrefix), 10, 64)
		if err != nil {
			e.logger.Warn("skipping malformed conversation key", "key", key)
			continue
		}
		conv, err := e.load(ctx, chatID)
		if err != nil {
			e.logger.Warn("reaper: failed to load conversation", "chat_id", chatID, "error", err)
			continue
		}
		if conv == nil || conv.CreatedAt == 0 || conv.CreatedAt > cutoff {
			continue
		}
		if err := e.Close(ctx, chatID); err != nil {
			e.logger.Warn("reaper: failed to close conversation", "chat_id", chatID, "error", err)
			continue
		}
		e.logger.Info("reaped stale conversation", "chat_id", chatID, "messages", len(conv.Messages))
		reaped++
	}
	return reaped, nil
}

// load reads the chat's conversation. Absent keys and corrupt records both
// return (nil, nil), mirroring the session manager's decode semantics.
func (e *ConversationEngine) load(ctx context.Context, chatID int64) (*Conversation, error) {
	data, err := e.kv.Get(ctx, conversationKey(chatID))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation for chat %d: %w", chatID, err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		e.logger.Warn("discarding corrupt conversation record", "chat_id", chatID, "error", err)
		return nil, nil
	}
	if conv.Messages == nil {
		conv.Messages = []ChatTurn{}
	}
	return &conv, nil
}

func (e *ConversationEngine) save(ctx context.Context, chatID int64, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation for chat %d: %w", chatID, err)
	}
	if err := e.kv.Set(ctx, conversationKey(chatID), data, 0); err != nil {
		return fmt.Errorf("store conversation for chat %d: %w", chatID, err)
	}
	return nil
}

func trimSummary(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= summaryLimit {
		return s
	}
	return string(runes[:summaryLimit])
}

func conversationKey(chatID int64) string {
	return conversationKeyPrefix + strconv.FormatInt(chatID, 10)
}
