package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Greyisheep/database-session-demo/internal/app"
	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/log"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "Persistent session store for multimodal conversational agents",
	Long: `sessiond keeps conversations durable: every turn, upload and state
change lands in PostgreSQL before anything is shown to the user, so a
conversation survives restarts, crashes and process boundaries.

Run 'sessiond serve' to expose the HTTP API, or 'sessiond chat' to talk
to the agent from the terminal.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bare invocation enters chat mode.
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from configuration. DEBUG in the
// environment forces debug level regardless of config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := log.ParseLevel(cfg.LogLevel)
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

// withStore loads configuration, opens the storage layer and hands it to fn.
// Used by the commands that inspect or mutate storage without needing a
// model backend.
func withStore(fn func(ctx context.Context, cfg *config.Config, store *session.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, pool, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, store)
}
