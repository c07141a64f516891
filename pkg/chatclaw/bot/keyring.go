// Package bot – keyring.go provides secure credential storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (CHATCLAW_API_KEY, TELEGRAM_BOT_TOKEN, etc.)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure, plaintext on disk)
package bot

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "chatclaw"

	// keyringAPIKey is the key name for the LLM API key.
	keyringAPIKey = "api_key"

	// keyringBotToken is the key name for the Telegram bot token.
	keyringBotToken = "bot_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	// Try a write+delete cycle with a test key.
	testKey := "__chatclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveCredentials resolves the API key and bot token using the
// priority chain: keyring → env var → config value.
// Updates the config in-place with the resolved values.
func ResolveCredentials(cfg *Config, logger *slog.Logger) {
	if val := GetKeyring(keyringAPIKey); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
	} else if cfg.API.APIKey != "" && !IsEnvReference(cfg.API.APIKey) {
		logger.Debug("API key loaded from config/env")
	} else {
		logger.Warn("no API key found. Set CHATCLAW_API_KEY or store one with: chatclaw config set-key")
	}

	if val := GetKeyring(keyringBotToken); val != "" {
		cfg.Telegram.Token = val
		logger.Debug("bot token loaded from OS keyring")
	} else if cfg.Telegram.Token != "" && !IsEnvReference(cfg.Telegram.Token) {
		logger.Debug("bot token loaded from config/env")
	} else {
		logger.Warn("no Telegram bot token found. Set TELEGRAM_BOT_TOKEN or store one with: chatclaw config set-token")
	}
}

// MigrateKeyToKeyring moves a secret from config/env to the OS keyring.
func MigrateKeyToKeyring(key, value string, logger *slog.Logger) error {
	if err := StoreKeyring(key, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("secret stored in OS keyring",
		"service", keyringService,
		"key", key,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
