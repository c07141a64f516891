// Package bot implements the ChatClaw core: the per-chat session state
// machine, the command dispatcher, the conversation engine, and the LLM
// client that backs them.
package bot

import (
	"context"
	"log/slog"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/kvstore"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/session"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/telegram"
)

// Completer produces text completions. Satisfied by *LLMClient.
type Completer interface {
	// Respond answers a prompt with tool use allowed (bounded).
	Respond(ctx context.Context, prompt string) (string, error)

	// RespondNoTools answers a prompt with tool use disabled.
	RespondNoTools(ctx context.Context, prompt string) (string, error)
}

// Messenger delivers text to a chat. Satisfied by *telegram.Client.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Syncer reconciles newly persisted tasks into the live schedule.
// Satisfied by *scheduler.Scheduler.
type Syncer interface {
	Sync(ctx context.Context)
}

// Bot glues the dispatcher, session manager, and conversation engine to
// their collaborators. All handles are injected; the bot owns none of their
// lifecycles.
type Bot struct {
	cfg       *Config
	sessions  *session.Manager
	store     *store.Store
	llm       Completer
	messenger Messenger
	syncer    Syncer
	conv      *ConversationEngine
	commands  map[string]*Command
	order     []string
	logger    *slog.Logger
}

// New assembles a bot from its collaborators and registers the command set.
func New(cfg *Config, kv kvstore.Store, st *store.Store, llm Completer, messenger Messenger, syncer Syncer, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		cfg:       cfg,
		sessions:  session.NewManager(kv, logger),
		store:     st,
		llm:       llm,
		messenger: messenger,
		syncer:    syncer,
		conv:      NewConversationEngine(kv, st, llm, messenger, logger),
		commands:  make(map[string]*Command),
		logger:    logger.With("component", "bot"),
	}
	b.registerCommands()
	return b
}

// Sessions exposes the session manager for the maintenance reapers.
func (b *Bot) Sessions() *session.Manager {
	return b.sessions
}

// Conversations exposes the conversation engine for the maintenance reapers.
func (b *Bot) Conversations() *ConversationEngine {
	return b.conv
}

// Commands returns the command surface in registration order, in the shape
// Telegram's setMyCommands expects. setMyCommands wants names without the
// leading slash.
func (b *Bot) Commands() []telegram.BotCommand {
	out := make([]telegram.BotCommand, 0, len(b.order))
	for _, name := range b.order {
		cmd := b.commands[name]
		out = append(out, telegram.BotCommand{
			Command:     name[1:],
			Description: cmd.Description,
		})
	}
	return out
}
