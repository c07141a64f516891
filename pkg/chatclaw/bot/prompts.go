// Package bot – prompts.go holds the prompt templates sent to the LLM.
package bot

import (
	"fmt"
	"strings"
)

// systemPrompt frames every completion request.
const systemPrompt = `You are a helpful assistant behind a Telegram chat bot.
Answer concisely and format replies in Telegram-flavored markdown.
When the user asks about current events or time-sensitive facts, use the
available tools before answering.`

// taskParserPrompt instructs the model to turn a natural-language task
// request into a cron spec plus prompt. The reply must be bare JSON so the
// caller can unmarshal it after stripping markdown fences.
const taskParserPrompt = `Convert the user's scheduling request into a JSON object with exactly two keys:
- "cron": a cron expression (standard 5-field, optional seconds field, or @every <duration> / @daily style aliases)
- "prompt": the text to send to the assistant each time the schedule fires

Respond with the JSON object only. No explanation, no markdown fences.

Examples:
Input: "Every morning at 8am remind me to drink water"
Output: {"cron": "0 8 * * *", "prompt": "Remind me to drink water"}
Input: "tell me a joke every 30 minutes"
Output: {"cron": "@every 30m", "prompt": "Tell me a joke"}`

// buildTaskParserPrompt wraps the user's request for the task parser.
func buildTaskParserPrompt(userRequest string) string {
	return fmt.Sprintf("%s\n\nUser Input: %q", taskParserPrompt, userRequest)
}

// buildContinuationPrompt asks the model to continue a conversation using
// the rolling summary plus the last two raw messages. The full transcript is
// never replayed.
func buildContinuationPrompt(recent []ChatTurn, summary, userMessage string) string {
	var b strings.Builder
	b.WriteString("Continue the conversation with the user, using the following summary to guide your response:\n")
	b.WriteString("<last_2_messages>\n")
	for _, turn := range recent {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString("</last_2_messages>\n<summary>\n")
	b.WriteString(summary)
	b.WriteString("\n</summary>\n<user_message>\n")
	b.WriteString(userMessage)
	b.WriteString("\n</user_message>")
	return b.String()
}

// buildSummaryPrompt asks for a compact digest of the latest exchange.
func buildSummaryPrompt(question, answer string) string {
	return fmt.Sprintf(`Summarize the question and answer into a concise summary (<200 characters) that captures its main intent:
<question>
%s
</question>
<answer>
%s
</answer>`, question, answer)
}

// buildDescriptionPrompt asks for a short description of a task prompt,
// shown in the /tasks listing.
func buildDescriptionPrompt(prompt string) string {
	return fmt.Sprintf("Summarize the given AI prompt into a concise description (<200 characters) that captures its main intent:\n%s", prompt)
}
