package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatclaw/pkg/chatclaw/bot"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/gateway"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/kvstore"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/scheduler"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/store"
	"github.com/jholhewres/chatclaw/pkg/chatclaw/telegram"
)

// Retention thresholds and sweep cadences for the ephemeral stores.
const (
	conversationMaxAge   = 5 * time.Minute
	conversationReapSpec = "*/10 * * * *"
	sessionMaxAge        = 5 * time.Minute
	sessionReapSpec      = "*/5 * * * *"
)

// newServeCmd creates the `chatclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bot daemon",
		Long: `Start ChatClaw as a daemon: register the Telegram webhook, serve inbound
updates, and run the task scheduler.

Examples:
  chatclaw serve
  chatclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	bot.ResolveCredentials(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable and ephemeral stores. Unreachable storage at boot is fatal.
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	kv, err := kvstore.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer kv.Close()

	llm := bot.NewLLMClient(cfg.API, logger)
	tg := telegram.New(cfg.Telegram, logger)

	sched, err := scheduler.New(cfg.Scheduler, st, llm, tg, logger)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	b := bot.New(cfg, kv, st, llm, tg, sched, logger)

	sched.AddMaintenance("conversation-reaper", conversationReapSpec, func(ctx context.Context) {
		if _, err := b.Conversations().Reap(ctx, conversationMaxAge); err != nil {
			logger.Warn("conversation reaper sweep failed", "error", err)
		}
	})
	sched.AddMaintenance("session-reaper", sessionReapSpec, func(ctx context.Context) {
		if _, err := b.Sessions().Reap(ctx, sessionMaxAge); err != nil {
			logger.Warn("session reaper sweep failed", "error", err)
		}
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	gw := gateway.New(cfg.ListenAddr, b, logger)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	// Register the webhook and command menu with Telegram. Failures here are
	// logged, not fatal: the operator can fix connectivity without a restart
	// loop.
	if err := tg.SetWebhook(ctx); err != nil {
		logger.Error("failed to register webhook", "error", err)
	}
	if err := tg.SetMyCommands(ctx, b.Commands()); err != nil {
		logger.Error("failed to register command menu", "error", err)
	}

	logger.Info("ChatClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"listen_addr", cfg.ListenAddr,
		"timezone", cfg.Scheduler.Timezone,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tg.DeleteWebhook(shutdownCtx); err != nil {
			logger.Error("failed to deregister webhook", "error", err)
		}
		gw.Stop()
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// newLogger builds the process logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *bot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads config from the --config flag, a discovered file, or
// defaults. Secrets can still arrive via env and keyring with no file at all.
func resolveConfig(cmd *cobra.Command) (*bot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := bot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := bot.FindConfigFile(); found != "" {
		cfg, err := bot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	slog.Info("no config file found, using defaults and environment")
	return bot.LoadConfigFromEnv(), nil
}
