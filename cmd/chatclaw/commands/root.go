// Package commands implements the ChatClaw CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatclaw",
		Short: "ChatClaw - Telegram bot with scheduled prompt tasks",
		Long: `ChatClaw is a Telegram chat-bot backend: it answers questions through an
OpenAI-compatible model, holds free-form conversations with rolling
summaries, and runs user-scheduled cron tasks whose output is delivered
back to the chat.

Examples:
  chatclaw serve
  chatclaw serve --config ./config.yaml
  chatclaw config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
