package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Greyisheep/database-session-demo/internal/chat"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

// testServer builds a fully routed server whose store has no database
// behind it. Good enough for routing and validation tests; anything that
// needs real storage lives in the integration tests.
func testServer(t *testing.T) *Server {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := session.New(nil, logger)
	runner, err := chat.New(chat.Config{
		Store:     store,
		Responder: chat.NewScriptedResponder(),
		Logger:    logger,
		AppName:   "test_app",
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}

	srv, err := NewServer(ServerConfig{
		Logger:      logger,
		Store:       store,
		Runner:      runner,
		AppName:     "test_app",
		CORSOrigins: []string{"*"},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	store := session.New(nil, logger)
	runner, err := chat.New(chat.Config{
		Store:     store,
		Responder: chat.NewScriptedResponder(),
		Logger:    logger,
		AppName:   "test_app",
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"missing store", ServerConfig{Runner: runner, AppName: "test_app"}},
		{"missing runner", ServerConfig{Store: store, AppName: "test_app"}},
		{"missing app name", ServerConfig{Store: store, Runner: runner}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewServer(tt.cfg); err == nil {
				t.Error("NewServer() = nil error, want validation error")
			}
		})
	}
}

func TestRouteRegistration(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		// Health probes (no middleware)
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		// API index
		{http.MethodGet, "/", http.StatusOK},
		// Non-existent route
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
		// Wrong method on a registered path
		{http.MethodGet, "/chat", http.StatusMethodNotAllowed},
		{http.MethodPost, "/sessions/alice", http.StatusMethodNotAllowed},
		// Bad artifact hash is rejected before any storage access
		{http.MethodGet, "/artifacts/nothex", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, tt.path, nil)

			srv.Handler().ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, tt.want)
			}
		})
	}
}

func TestServer_RequestIDOnResponses(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	srv.Handler().ServeHTTP(w, r)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response through the middleware stack missing X-Request-ID")
	}
}

func TestServer_Index(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); !strings.Contains(body, "endpoints") {
		t.Errorf("index body %q missing endpoint listing", body)
	}
}

func TestServer_ChatValidationThroughStack(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	// An empty multipart form reaches the chat handler and fails validation
	// without touching storage.
	r := multipartRequest(t, map[string]string{}, "", "", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("empty chat form status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
