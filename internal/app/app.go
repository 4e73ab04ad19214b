// Package app assembles the application: configuration, database pool,
// session store, chat runner and background maintenance.
//
// Setup builds everything in dependency order and returns an App whose
// Close releases resources in reverse order. Components are constructed by
// small provide functions so each dependency is explicit and testable.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Greyisheep/database-session-demo/internal/chat"
	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

// App is the core application container.
type App struct {
	// Configuration
	Config *config.Config

	// Core services
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Sessions *session.Store
	Runner   *chat.Runner

	// Lifecycle management
	otelShutdown func(context.Context) error
	sweepCancel  context.CancelFunc
	sweepWG      sync.WaitGroup
}

// Close gracefully shuts down all resources in reverse construction order:
// the artifact sweeper stops first, pending traces are flushed, and the
// database pool closes last so in-flight work can still reach it.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down application")

	// 1. Stop the artifact sweeper and wait for the current pass
	if a.sweepCancel != nil {
		a.sweepCancel()
		a.sweepWG.Wait()
	}

	// 2. Flush pending traces
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			logger.Warn("failed to shut down tracer provider", "error", err)
		}
	}

	// 3. Close database pool
	if a.Pool != nil {
		a.Pool.Close()
		logger.Info("database pool closed")
	}

	return nil
}
