// Package bot – dispatcher.go routes inbound messages to command handlers.
//
// Per-chat state machine: no session, awaiting a step of a multi-step
// command, or in conversation mode. Conversation mode is a modal lock: while
// active, only exempt commands dispatch, everything else is refused with a
// guidance message.
package bot

import (
	"context"
	"strings"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/session"
)

// conversationGuidance is sent when a non-exempt command arrives during
// conversation mode.
const conversationGuidance = "You are in a conversation. Use /stopconversation or /cancel to end it first."

// HandlerFunc executes one command step. sess is the chat's current session
// or nil; handlers mutate session state through the bot's session manager.
type HandlerFunc func(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error

// Command describes one registered command.
type Command struct {
	// Name is the command token including the leading slash.
	Name string

	// Description is shown in the Telegram command menu.
	Description string

	// AllowedInConversation marks commands that dispatch even while the
	// chat is in modal conversation mode.
	AllowedInConversation bool

	// Handler executes the command.
	Handler HandlerFunc
}

// register adds a command to the registry, preserving order for the menu.
func (b *Bot) register(cmd *Command) {
	b.commands[cmd.Name] = cmd
	b.order = append(b.order, cmd.Name)
}

// Dispatch routes one inbound message. It never returns an error for
// recoverable conditions: unknown commands, missing sessions, and store
// outages all degrade to a no-op or a user-facing message so the webhook can
// always acknowledge.
func (b *Bot) Dispatch(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sess, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		// Degrade to single-shot commands rather than blocking all chat
		// interaction on a store outage.
		b.logger.Warn("session lookup failed, proceeding without session",
			"chat_id", chatID, "error", err)
		sess = nil
	}

	if strings.HasPrefix(text, "/") {
		name := commandToken(text)
		cmd, ok := b.commands[name]
		if !ok {
			b.logger.Info("unknown command", "chat_id", chatID, "command", name)
			return nil
		}

		if sess.InConversation() && !cmd.AllowedInConversation {
			return b.messenger.SendMessage(ctx, chatID, conversationGuidance)
		}

		return cmd.Handler(ctx, b, chatID, text, sess)
	}

	// Plain text: route to the active session's command, if any.
	if sess == nil || sess.Command == "" {
		return nil
	}
	cmd, ok := b.commands[sess.Command]
	if !ok {
		b.logger.Warn("session references unregistered command, clearing",
			"chat_id", chatID, "command", sess.Command)
		return b.sessions.Delete(ctx, chatID)
	}
	return cmd.Handler(ctx, b, chatID, text, sess)
}

// commandToken extracts the command name from the first whitespace-delimited
// token, dropping any @botname suffix ("/tasks@chatclaw_bot" resolves to
// "/tasks").
func commandToken(text string) string {
	name := text
	if idx := strings.IndexAny(name, " \t\n"); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.Index(name, "@"); idx >= 0 {
		name = name[:idx]
	}
	return name
}

// commandArgs returns the text after the command token, trimmed.
func commandArgs(text string) string {
	idx := strings.IndexAny(text, " \t\n")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx+1:])
}
