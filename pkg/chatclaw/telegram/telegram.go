// Package telegram implements the outbound Telegram client for ChatClaw using
// the Bot API directly over HTTP. It covers the
// small surface the bot needs: sending messages, webhook registration, and
// publishing the command list.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// defaultAPIURL is the production Bot API endpoint.
const defaultAPIURL = "https://api.telegram.org"

// Config holds Telegram client configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// WebhookBaseURL is the public https base under which /api/webhook is
	// reachable (e.g. "https://bot.example.com").
	WebhookBaseURL string `yaml:"webhook_base_url"`

	// ParseMode sets the parse mode for outgoing messages ("Markdown" or "HTML").
	ParseMode string `yaml:"parse_mode"`

	// APIURL overrides the Bot API base URL. Empty means the production API.
	APIURL string `yaml:"api_url"`
}

// Update is an inbound webhook payload. Only the fields the dispatcher needs
// are decoded; anything else Telegram sends is ignored.
type Update struct {
	Message *Message `json:"message"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies the originating chat.
type Chat struct {
	ID int64 `json:"id"`
}

// BotCommand is one entry of the command list shown by the Telegram client.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// Client is the Bot API client.
type Client struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Telegram client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		cfg:     cfg,
		baseURL: apiURL + "/bot" + cfg.Token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "telegram"),
	}
}

// SendMessage delivers text to a chat. Failures are logged here and returned;
// the caller decides whether they matter. There is no retry.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": c.cfg.ParseMode,
	}
	if _, err := c.apiCall(ctx, "sendMessage", payload); err != nil {
		c.logger.Error("sendMessage failed", "chat_id", chatID, "error", err)
		return err
	}
	return nil
}

// SetWebhook points the bot's webhook at <WebhookBaseURL>/api/webhook.
func (c *Client) SetWebhook(ctx context.Context) error {
	if c.cfg.WebhookBaseURL == "" {
		return fmt.Errorf("telegram: webhook_base_url is required")
	}
	_, err := c.apiCall(ctx, "setWebhook", map[string]any{
		"url": c.cfg.WebhookBaseURL + "/api/webhook",
	})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	c.logger.Info("webhook registered", "url", c.cfg.WebhookBaseURL+"/api/webhook")
	return nil
}

// DeleteWebhook removes the webhook registration (called on shutdown).
func (c *Client) DeleteWebhook(ctx context.Context) error {
	if _, err := c.apiCall(ctx, "deleteWebhook", map[string]any{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	c.logger.Info("webhook deleted")
	return nil
}

// SetMyCommands publishes the bot's command list to the Telegram client UI.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	if _, err := c.apiCall(ctx, "setMyCommands", map[string]any{"commands": commands}); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	c.logger.Info("command list published", "count", len(commands))
	return nil
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// apiCall POSTs a JSON payload to a Bot API method and decodes the envelope.
func (c *Client) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("%s: telegram API error: %s", method, envelope.Description)
	}
	return envelope.Result, nil
}
