package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeBotAPI records Bot API calls and answers with a canned envelope.
type fakeBotAPI struct {
	calls    []string
	payloads []map[string]any
	fail     bool
}

func (f *fakeBotAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		f.calls = append(f.calls, parts[len(parts)-1])

		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		f.payloads = append(f.payloads, payload)

		if f.fail {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Bad Request: chat not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
	}
}

func newTestClient(t *testing.T, fake *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	return New(Config{
		Token:          "test-token",
		WebhookBaseURL: "https://bot.example.com",
		APIURL:         srv.URL,
	}, nil)
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	fake := &fakeBotAPI{}
	c := newTestClient(t, fake)

	if err := c.SendMessage(context.Background(), 42, "hello *world*"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(fake.calls) != 1 || fake.calls[0] != "sendMessage" {
		t.Fatalf("calls = %v, want [sendMessage]", fake.calls)
	}
	payload := fake.payloads[0]
	if payload["chat_id"].(float64) != 42 {
		t.Errorf("chat_id = %v, want 42", payload["chat_id"])
	}
	if payload["text"] != "hello *world*" {
		t.Errorf("text = %v", payload["text"])
	}
	if payload["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %v, want Markdown", payload["parse_mode"])
	}
}

func TestSendMessageAPIError(t *testing.T) {
	t.Parallel()

	fake := &fakeBotAPI{fail: true}
	c := newTestClient(t, fake)

	err := c.SendMessage(context.Background(), 42, "hi")
	if err == nil {
		t.Fatal("SendMessage on API error = nil, want error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v, want API description included", err)
	}
}

func TestSetWebhook(t *testing.T) {
	t.Parallel()

	fake := &fakeBotAPI{}
	c := newTestClient(t, fake)

	if err := c.SetWebhook(context.Background()); err != nil {
		t.Fatalf("SetWebhook failed: %v", err)
	}
	if fake.payloads[0]["url"] != "https://bot.example.com/api/webhook" {
		t.Errorf("webhook url = %v", fake.payloads[0]["url"])
	}
}

func TestSetMyCommands(t *testing.T) {
	t.Parallel()

	fake := &fakeBotAPI{}
	c := newTestClient(t, fake)

	commands := []BotCommand{
		{Command: "/tasks", Description: "List scheduled tasks"},
		{Command: "/ask", Description: "Ask the assistant a question"},
	}
	if err := c.SetMyCommands(context.Background(), commands); err != nil {
		t.Fatalf("SetMyCommands failed: %v", err)
	}

	sent, ok := fake.payloads[0]["commands"].([]any)
	if !ok || len(sent) != 2 {
		t.Fatalf("commands payload = %v, want 2 entries", fake.payloads[0]["commands"])
	}
	first := sent[0].(map[string]any)
	if first["command"] != "/tasks" {
		t.Errorf("first command = %v, want /tasks", first["command"])
	}
}
