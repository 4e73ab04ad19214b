package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/database"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"hello": "world"}, slog.New(slog.DiscardHandler))

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	if nosniff := w.Header().Get("X-Content-Type-Options"); nosniff != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", nosniff, "nosniff")
	}
	if cl := w.Header().Get("Content-Length"); cl != strconv.Itoa(w.Body.Len()) {
		t.Errorf("Content-Length = %q, body is %d bytes", cl, w.Body.Len())
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["hello"] != "world" {
		t.Errorf("body[hello] = %q, want %q", body["hello"], "world")
	}
}

func TestWriteJSON_EncodingFailure(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	// Channels cannot be JSON-encoded.
	writeJSON(w, http.StatusOK, make(chan int), slog.New(slog.DiscardHandler))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeError(w, http.StatusNotFound, "Session not found", slog.New(slog.DiscardHandler))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["detail"] != "Session not found" {
		t.Errorf("detail = %q, want %q", body["detail"], "Session not found")
	}
}

func TestWriteDomainError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"session not found", session.ErrSessionNotFound, http.StatusNotFound},
		{"wrapped session not found", fmt.Errorf("lookup: %w", session.ErrSessionNotFound), http.StatusNotFound},
		{"artifact not found", artifact.ErrNotFound, http.StatusNotFound},
		{"cited artifact missing", session.ErrArtifactNotFound, http.StatusNotFound},
		{"already exists", session.ErrAlreadyExists, http.StatusConflict},
		{"version conflict", session.ErrConflict, http.StatusConflict},
		{"too large", artifact.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"invalid argument", session.ErrInvalidArgument, http.StatusBadRequest},
		{"empty data", artifact.ErrEmptyData, http.StatusBadRequest},
		{"invalid ref", artifact.ErrInvalidRef, http.StatusBadRequest},
		{"unavailable", database.ErrUnavailable, http.StatusServiceUnavailable},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			writeDomainError(w, tt.err, slog.New(slog.DiscardHandler))

			if w.Code != tt.want {
				t.Errorf("writeDomainError(%v) status = %d, want %d", tt.err, w.Code, tt.want)
			}
		})
	}
}

func TestWriteDomainError_OpaqueInternal(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeDomainError(w, errors.New("pq: password authentication failed"), slog.New(slog.DiscardHandler))

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["detail"] != "Internal server error" {
		t.Errorf("detail = %q, internal errors must stay opaque", body["detail"])
	}
}
