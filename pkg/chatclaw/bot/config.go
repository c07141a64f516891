// Package bot – config.go defines all configuration structures for the
// ChatClaw bot.
package bot

import (
	"github.com/jholhewres/chatclaw/pkg/chatclaw/kvstore"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/scheduler"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/telegram"
)

// Config holds all bot configuration.
type Config struct {
	// Name is the bot name used in log output.
	Name string `yaml:"name"`

	// ListenAddr is the address the webhook HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// Telegram configures the Bot API client and webhook registration.
	Telegram telegram.Config `yaml:"telegram"`

	// API configures the OpenAI-compatible completion endpoint.
	API APIConfig `yaml:"api"`

	// Redis configures the ephemeral store for sessions and conversations.
	Redis kvstore.RedisConfig `yaml:"redis"`

	// Database configures the durable SQLite store.
	Database DatabaseConfig `yaml:"database"`

	// Scheduler configures the task scheduler.
	Scheduler scheduler.Config `yaml:"scheduler"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds completion endpoint settings.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API root (e.g. "https://openrouter.ai/api/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer token. Usually resolved from keyring or env.
	APIKey string `yaml:"api_key"`

	// Model is the chat model identifier.
	Model string `yaml:"model"`
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default bot configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:       "ChatClaw",
		ListenAddr: ":8090",
		Telegram: telegram.Config{
			ParseMode: "Markdown",
		},
		API: APIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Redis: kvstore.RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Path: "./data/chatclaw.db",
		},
		Scheduler: scheduler.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
