// Package bot – handlers.go implements the command surface:
//
//	/tasks              - list scheduled tasks
//	/createtask         - 2-step (cron, then prompt) or 1-shot natural language
//	/ask <prompt>       - single completion round
//	/deletetask <id>    - delete a task
//	/startconversation  - open modal conversation mode
//	/stopconversation   - close conversation mode, archiving the transcript
//	/cancel             - abort any session, archiving an in-flight conversation
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/scheduler"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/session"
)

// sessionTTL caps how long a multi-step command waits for its next input.
const sessionTTL = 5 * time.Minute

func (b *Bot) registerCommands() {
	b.register(&Command{
		Name:        "/tasks",
		Description: "List all scheduled tasks",
		Handler:     handleTasks,
	})
	b.register(&Command{
		Name:        "/createtask",
		Description: "Create a task from a cron schedule and prompt",
		Handler:     handleCreateTask,
	})
	b.register(&Command{
		Name:        "/ask",
		Description: "Ask the assistant a single question",
		Handler:     handleAsk,
	})
	b.register(&Command{
		Name:        "/deletetask",
		Description: "Delete a task by id",
		Handler:     handleDeleteTask,
	})
	b.register(&Command{
		Name:        "/startconversation",
		Description: "Start a free-form conversation",
		Handler:     handleStartConversation,
	})
	b.register(&Command{
		Name:                  "/stopconversation",
		Description:           "End the current conversation",
		AllowedInConversation: true,
		Handler:               handleStopConversation,
	})
	b.register(&Command{
		Name:                  "/cancel",
		Description:           "Cancel the current operation",
		AllowedInConversation: true,
		Handler:               handleCancel,
	})
}

func handleTasks(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	tasks, err := b.store.ListTasks(ctx)
	if err != nil {
		b.logger.Error("listing tasks failed", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Could not list tasks, try again later")
	}

	if len(tasks) == 0 {
		return b.messenger.SendMessage(ctx, chatID, "No tasks found")
	}

	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("%d|`%s`|%s", t.ID, t.Cron, t.Description))
	}
	return b.messenger.SendMessage(ctx, chatID, strings.Join(lines, "\n"))
}

func handleCreateTask(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	// One-shot natural language form: /createtask remind me every morning...
	if strings.HasPrefix(text, "/createtask") {
		if request := commandArgs(text); request != "" {
			return b.createTaskFromRequest(ctx, chatID, request)
		}
	}

	if sess != nil && sess.Command == "/createtask" {
		switch sess.State {
		case session.StateAwaitingCron:
			return b.collectCron(ctx, chatID, text, sess)
		case session.StateAwaitingPrompt:
			return b.collectPrompt(ctx, chatID, text, sess)
		}
	}

	// Start the interactive flow.
	sess = session.New(chatID, "/createtask", session.StateAwaitingCron)
	if err := b.sessions.Put(ctx, sess, sessionTTL); err != nil {
		b.logger.Error("failed to open createtask session", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}
	return b.messenger.SendMessage(ctx, chatID, "Give me your cron")
}

// collectCron handles /createtask step 1. Invalid input reprompts without
// advancing state; nothing is persisted until validation passes.
func (b *Bot) collectCron(ctx context.Context, chatID int64, text string, sess *session.Session) error {
	cronSpec := strings.TrimSpace(text)
	if err := scheduler.ValidateSpec(cronSpec); err != nil {
		return b.messenger.SendMessage(ctx, chatID, "Invalid cron format. Please provide a valid cron string")
	}

	sess.Cron = cronSpec
	sess.State = session.StateAwaitingPrompt
	if err := b.sessions.Put(ctx, sess, sessionTTL); err != nil {
		b.logger.Error("failed to store cron step", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}
	return b.messenger.SendMessage(ctx, chatID, "Give me your prompt")
}

// collectPrompt handles /createtask step 2: derive a description, persist the
// task, clear the session, and sync the scheduler so the job fires without
// waiting for the next sweep.
func (b *Bot) collectPrompt(ctx context.Context, chatID int64, text string, sess *session.Session) error {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return b.messenger.SendMessage(ctx, chatID, "Please provide a prompt")
	}

	description, err := b.llm.RespondNoTools(ctx, buildDescriptionPrompt(prompt))
	if err != nil {
		b.logger.Warn("description generation failed, using prompt", "chat_id", chatID, "error", err)
		description = prompt
	}

	id, err := b.store.CreateTask(ctx, sess.Cron, prompt, strings.TrimSpace(description), chatID)
	if err != nil {
		b.logger.Error("failed to persist task", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}

	if err := b.sessions.Delete(ctx, chatID); err != nil {
		b.logger.Warn("failed to clear createtask session", "chat_id", chatID, "error", err)
	}
	b.syncer.Sync(ctx)

	b.logger.Info("task created", "chat_id", chatID, "task_id", id, "cron", sess.Cron)
	return b.messenger.SendMessage(ctx, chatID, "Task created successfully")
}

// parsedTask is the JSON shape the task parser prompt asks the model for.
type parsedTask struct {
	Cron   string `json:"cron"`
	Prompt string `json:"prompt"`
}

// createTaskFromRequest handles the one-shot natural language form: the LLM
// turns the request into a cron/prompt pair, which is validated and stored.
func (b *Bot) createTaskFromRequest(ctx context.Context, chatID int64, request string) error {
	if err := b.messenger.SendMessage(ctx, chatID, "Processing your request..."); err != nil {
		b.logger.Warn("failed to send ack", "chat_id", chatID, "error", err)
	}

	raw, err := b.llm.RespondNoTools(ctx, buildTaskParserPrompt(request))
	if err != nil {
		b.logger.Error("task parser call failed", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}

	var task parsedTask
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &task); err != nil {
		b.logger.Error("task parser returned unparseable JSON",
			"chat_id", chatID, "response", raw, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Sorry, I couldn't understand the schedule format.")
	}

	if task.Cron == "" || task.Prompt == "" {
		return b.messenger.SendMessage(ctx, chatID, "Could not extract valid cron or prompt.")
	}

	if err := scheduler.ValidateSpec(task.Cron); err != nil {
		return b.messenger.SendMessage(ctx, chatID,
			fmt.Sprintf("Invalid cron format generated: %s", task.Cron))
	}

	id, err := b.store.CreateTask(ctx, task.Cron, task.Prompt, task.Prompt, chatID)
	if err != nil {
		b.logger.Error("failed to persist task", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}
	b.syncer.Sync(ctx)

	b.logger.Info("task created from natural language",
		"chat_id", chatID, "task_id", id, "cron", task.Cron)
	return b.messenger.SendMessage(ctx, chatID,
		fmt.Sprintf("Task created!\nCron: `%s`\nPrompt: %s", task.Cron, task.Prompt))
}

func handleAsk(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	prompt := commandArgs(text)
	if prompt == "" {
		return b.messenger.SendMessage(ctx, chatID, "Please provide a prompt")
	}

	reply, err := b.llm.Respond(ctx, prompt)
	if err != nil {
		b.logger.Error("completion failed", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}
	return b.messenger.SendMessage(ctx, chatID, reply)
}

func handleDeleteTask(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	arg := commandArgs(text)
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return b.messenger.SendMessage(ctx, chatID, "Usage: /deletetask <id>")
	}

	if err := b.store.DeleteTask(ctx, id, chatID); err != nil {
		b.logger.Error("failed to delete task", "chat_id", chatID, "task_id", id, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}
	return b.messenger.SendMessage(ctx, chatID, "Task deleted successfully")
}

func handleStartConversation(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	// Mid-conversation messages route back here through the session; run a
	// turn instead of reopening.
	if sess.InConversation() {
		if _, err := b.conv.Turn(ctx, chatID, text); err != nil {
			b.logger.Error("conversation turn failed", "chat_id", chatID, "error", err)
			return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
		}
		return nil
	}

	sess = session.New(chatID, "/startconversation", session.StateConversing)
	if err := b.sessions.Put(ctx, sess, 0); err != nil {
		b.logger.Error("failed to open conversation session", "chat_id", chatID, "error", err)
		return b.messenger.SendMessage(ctx, chatID, "Something went wrong, try again later")
	}
	if err := b.conv.Open(ctx, chatID); err != nil {
		b.logger.Error("failed to open conversation record", "chat_id", chatID, "error", err)
	}
	return b.messenger.SendMessage(ctx, chatID, "Hello, how can I help you today?")
}

func handleStopConversation(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	if err := b.conv.Close(ctx, chatID); err != nil {
		b.logger.Error("failed to close conversation", "chat_id", chatID, "error", err)
	}
	if err := b.sessions.Delete(ctx, chatID); err != nil {
		b.logger.Warn("failed to clear conversation session", "chat_id", chatID, "error", err)
	}
	return b.messenger.SendMessage(ctx, chatID, "Conversation ended")
}

func handleCancel(ctx context.Context, b *Bot, chatID int64, text string, sess *session.Session) error {
	if sess.InConversation() {
		if err := b.conv.Close(ctx, chatID); err != nil {
			b.logger.Error("failed to close conversation", "chat_id", chatID, "error", err)
		}
	}
	if err := b.sessions.Delete(ctx, chatID); err != nil {
		b.logger.Warn("failed to clear session", "chat_id", chatID, "error", err)
	}
	return b.messenger.SendMessage(ctx, chatID, "Operation cancelled")
}

// stripJSONFences drops markdown code fences some models wrap JSON in.
func stripJSONFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
