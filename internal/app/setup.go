package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Greyisheep/database-session-demo/db"
	"github.com/Greyisheep/database-session-demo/internal/chat"
	"github.com/Greyisheep/database-session-demo/internal/config"
	"github.com/Greyisheep/database-session-demo/internal/observability"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, logger, observability.Config{
		Endpoint:    cfg.OTLP.Endpoint,
		Insecure:    cfg.OTLP.Insecure,
		Environment: cfg.OTLP.Environment,
		ServiceName: cfg.OTLP.ServiceName,
	})
	if err != nil {
		return nil, err
	}
	a.otelShutdown = otelShutdown

	store, pool, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Sessions = store

	responder, err := provideResponder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	runner, err := chat.New(chat.Config{
		Store:     a.Sessions,
		Responder: responder,
		Logger:    logger.With("component", "chat"),
		AppName:   cfg.AppName,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat runner: %w", err)
	}
	a.Runner = runner

	a.startSweeper(cfg.SweepInterval)

	return a, nil
}

// OpenStore opens just the storage layer: the migrated connection pool plus
// the session store on top of it. CLI commands that only inspect or mutate
// storage use this instead of Setup, so they work without a model backend
// configured. The caller owns the pool and must Close it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session.Store, *pgxpool.Pool, error) {
	if cfg == nil {
		return nil, nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	store := session.New(pool, logger.With("component", "session"),
		session.WithHistoryLimit(cfg.HistoryLimit),
		session.WithMaxArtifactBytes(cfg.MaxArtifactBytes),
	)
	return store, pool, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideResponder creates the model backend selected by cfg.Responder.
//
// The Gemini API key is read from GEMINI_API_KEY directly; it is a secret
// and never passes through the config file.
func provideResponder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (chat.Responder, error) {
	switch cfg.Responder {
	case config.ResponderScripted:
		logger.Info("using scripted responder")
		return chat.NewScriptedResponder(), nil

	case config.ResponderGemini, "":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", config.ErrMissingAPIKey)
		}
		responder, err := chat.NewGeminiResponder(ctx, chat.GeminiConfig{
			APIKey: apiKey,
			Model:  cfg.ModelName,
			Logger: logger.With("component", "gemini"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini responder: %w", err)
		}
		logger.Info("using gemini responder", "model", cfg.ModelName)
		return responder, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidResponder, cfg.Responder)
	}
}

// startSweeper launches the background goroutine that periodically deletes
// unreferenced artifact blobs. A non-positive interval disables it.
func (a *App) startSweeper(interval time.Duration) {
	if interval <= 0 {
		a.Logger.Debug("artifact sweeper disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.sweepCancel = cancel

	a.sweepWG.Add(1)
	go func() {
		defer a.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept, err := a.Sessions.Artifacts().Sweep(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					a.Logger.Warn("artifact sweep failed", "error", err)
					continue
				}
				if swept > 0 {
					a.Logger.Info("swept unreferenced artifacts", "count", swept)
				}
			}
		}
	}()

	a.Logger.Debug("artifact sweeper started", "interval", interval)
}
