package commands

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/bot"
)

// newConfigCmd creates the `chatclaw config` command group for credential
// management.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage credentials and configuration",
		Long: `Manage ChatClaw credentials. Secrets are stored in the OS keyring when
available, so they never live in plaintext config files.

Examples:
  chatclaw config set-key
  chatclaw config set-token`,
	}

	cmd.AddCommand(
		newConfigSetKeyCmd(),
		newConfigSetTokenCmd(),
	)

	return cmd
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			return storeSecret("api_key", "API key: ")
		},
	}
}

func newConfigSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token",
		Short: "Store the Telegram bot token in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			return storeSecret("bot_token", "Bot token: ")
		},
	}
}

// storeSecret reads a secret without echoing it and saves it to the keyring.
func storeSecret(key, prompt string) error {
	if !bot.KeyringAvailable() {
		return fmt.Errorf("OS keyring is not available on this system")
	}

	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty secret, nothing stored")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return bot.MigrateKeyToKeyring(key, string(raw), logger)
}
