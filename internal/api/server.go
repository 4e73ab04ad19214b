package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Greyisheep/database-session-demo/internal/chat"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

// Rate limiter defaults, applied when ServerConfig leaves them zero.
const (
	defaultRateRPS   = 10.0
	defaultRateBurst = 20
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Store        *session.Store // Required
	Runner       *chat.Runner   // Required
	Pool         *pgxpool.Pool  // Optional: nil disables the database ping in /ready
	AppName      string         // Required: scopes the session routes
	MaxBodyBytes int64          // Upload ceiling in bytes (0 = registry default)
	CORSOrigins  []string       // Allowed origins; "*" permits any
	TrustProxy   bool           // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateRPS      float64        // Tokens per second per IP (0 = default 10)
	RateBurst    int            // Rate limiter burst size per IP (0 = default 20)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("chat runner is required")
	}
	if cfg.AppName == "" {
		return nil, errors.New("app name is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = cfg.Store.Artifacts().MaxBytes()
	}

	ch := &chatHandler{
		runner:   cfg.Runner,
		maxBytes: maxBytes,
		logger:   logger,
	}
	sh := &sessionHandler{
		store:   cfg.Store,
		appName: cfg.AppName,
		logger:  logger,
	}
	ah := &artifactHandler{
		registry: cfg.Store.Artifacts(),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", ch.send)
	mux.HandleFunc("GET /sessions/{user_id}", sh.list)
	mux.HandleFunc("DELETE /sessions/{user_id}/{session_id}", sh.delete)
	mux.HandleFunc("GET /artifacts/{hash}", ah.get)
	mux.HandleFunc("GET /{$}", indexHandler(logger))

	// Rate limiter: per-IP token bucket
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = defaultRateRPS
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := newRateLimiter(rps, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Tracing → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = tracingMiddleware()(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to separate health probes from the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", healthHandler(logger))
	topMux.Handle("GET /ready", readinessHandler(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
