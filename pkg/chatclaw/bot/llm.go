// Package bot – llm.go implements the LLM client for chat completions
// with function calling / tool use support.
// Uses the OpenAI-compatible API format, which works with OpenAI, OpenRouter,
// and any compatible endpoint.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxToolCalls bounds the tool round-trips per completion so a model that
// keeps requesting tools cannot loop forever.
const maxToolCalls = 3

// ---------- Client ----------

// LLMClient handles communication with the LLM provider API.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	tools      []Tool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMClient creates a new LLM client from config.
func NewLLMClient(cfg APIConfig, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &LLMClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "llm"),
	}
}

// RegisterTool adds a tool the model may invoke during Respond.
func (c *LLMClient) RegisterTool(tool Tool) {
	c.tools = append(c.tools, tool)
}

// ---------- Wire Types (OpenAI-compatible) ----------

// chatMessage represents a message in the OpenAI chat format.
// Supports user, system, assistant (with optional tool_calls), and tool result messages.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model      string           `json:"model"`
	Messages   []chatMessage    `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice string           `json:"tool_choice,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ---------- Tool Calling Types ----------

// Tool pairs an OpenAI tool definition with its local executor.
type Tool struct {
	Definition ToolDefinition
	Execute    func(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolDefinition is an OpenAI-compatible tool definition for function calling.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments from the LLM.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ---------- Public Methods ----------

// Respond sends a completion request for the given prompt with tool use
// enabled. Tool round-trips are bounded by maxToolCalls; once the budget is
// spent, a final request with tool choice "none" forces a text answer.
func (c *LLMClient) Respond(ctx context.Context, prompt string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	if len(c.tools) == 0 {
		resp, err := c.complete(ctx, messages, nil, "")
		if err != nil {
			return "", err
		}
		return stripThink(resp.Content), nil
	}

	defs := make([]ToolDefinition, len(c.tools))
	for i, t := range c.tools {
		defs[i] = t.Definition
	}

	for i := 0; i < maxToolCalls; i++ {
		resp, err := c.complete(ctx, messages, defs, "auto")
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return stripThink(resp.Content), nil
		}

		messages = append(messages, chatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    c.executeTool(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}

	// Tool budget spent; force the model to answer without further tool use.
	resp, err := c.complete(ctx, messages, nil, "none")
	if err != nil {
		return "", err
	}
	return stripThink(resp.Content), nil
}

// RespondNoTools sends a completion request with tool use disabled.
// Used for summarization and structured-output calls.
func (c *LLMClient) RespondNoTools(ctx context.Context, prompt string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	resp, err := c.complete(ctx, messages, nil, "")
	if err != nil {
		return "", err
	}
	return stripThink(resp.Content), nil
}

// ---------- Internal ----------

// llmResponse holds the parsed response from a chat completion.
type llmResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

func (c *LLMClient) executeTool(ctx context.Context, call ToolCall) string {
	for _, t := range c.tools {
		if t.Definition.Function.Name != call.Function.Name {
			continue
		}
		result, err := t.Execute(ctx, json.RawMessage(call.Function.Arguments))
		if err != nil {
			c.logger.Warn("tool execution failed",
				"tool", call.Function.Name,
				"error", err,
			)
			return fmt.Sprintf("error: %v", err)
		}
		return result
	}
	c.logger.Warn("model requested unknown tool", "tool", call.Function.Name)
	return "error: unknown tool"
}

// complete sends one chat completions request and parses the first choice.
func (c *LLMClient) complete(ctx context.Context, messages []chatMessage, tools []ToolDefinition, toolChoice string) (*llmResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured. Run 'chatclaw config set-key' or set CHATCLAW_API_KEY")
	}

	reqBody := chatRequest{
		Model:      c.model,
		Messages:   messages,
		Tools:      tools,
		ToolChoice: toolChoice,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", c.model,
		"messages", len(messages),
		"tools", len(tools),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]

	c.logger.Info("chat completion done",
		"model", c.model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	return &llmResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
	}, nil
}

// stripThink drops everything up to and including the last </think> tag.
// Reasoning models interleave think blocks with the final answer.
func stripThink(text string) string {
	idx := strings.LastIndex(text, "</think>")
	if idx < 0 {
		return text
	}
	return strings.TrimSpace(text[idx+len("</think>"):])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
