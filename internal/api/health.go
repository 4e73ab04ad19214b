package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// readinessTimeout bounds the database ping so a wedged pool cannot stall
// orchestrator probes.
const readinessTimeout = 2 * time.Second

// healthHandler is a simple liveness endpoint for Docker/Kubernetes probes.
// Returns 200 OK with {"status":"ok"}.
func healthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readinessHandler reports whether the service can actually do work: the
// database must answer a ping. A nil pool skips the check so tests can probe
// routing without a database.
func readinessHandler(pool *pgxpool.Pool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				logger.Warn("readiness probe failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "unavailable",
					"database": "unreachable",
				}, logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}

// indexHandler describes the API at GET /.
func indexHandler(logger *slog.Logger) http.HandlerFunc {
	index := map[string]any{
		"service": "sessiond",
		"message": "Multimodal database session API",
		"endpoints": map[string]string{
			"chat":           "POST /chat - Chat with the multimodal agent",
			"sessions":       "GET /sessions/{user_id} - List user sessions",
			"delete_session": "DELETE /sessions/{user_id}/{session_id} - Delete a session",
			"artifact":       "GET /artifacts/{hash} - Fetch a stored attachment",
			"health":         "GET /health - Liveness probe",
			"ready":          "GET /ready - Readiness probe",
		},
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, index, logger)
	}
}
