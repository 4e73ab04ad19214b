package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/database"
	"github.com/Greyisheep/database-session-demo/internal/session"
)

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy to ensure headers are only sent after successful
// encoding. This allows returning a proper 500 error if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff") // Prevent MIME type sniffing attacks
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Log at debug level - client disconnects are common and expected
		logger.Debug("failed to write response body", "error", err)
	}
}

// writeError writes an error response using the {"detail": "..."} envelope
// the original service exposed, so existing clients keep parsing errors.
func writeError(w http.ResponseWriter, status int, detail string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"detail": detail}, logger)
}

// writeDomainError translates storage and orchestration errors into HTTP
// statuses. Invalid-argument errors surface their message (it names the
// offending field); everything unclassified is logged and answered with an
// opaque 500 so internals never leak.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found", logger)

	case errors.Is(err, artifact.ErrNotFound) || errors.Is(err, session.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "Artifact not found", logger)

	case errors.Is(err, session.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Session already exists", logger)

	case errors.Is(err, session.ErrConflict):
		writeError(w, http.StatusConflict, "Session was modified concurrently, please retry", logger)

	case errors.Is(err, artifact.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "File too large.", logger)

	case errors.Is(err, session.ErrInvalidArgument),
		errors.Is(err, artifact.ErrEmptyData),
		errors.Is(err, artifact.ErrInvalidRef):
		writeError(w, http.StatusBadRequest, err.Error(), logger)

	case database.IsUnavailable(err):
		logger.Error("storage unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable", logger)

	default:
		logger.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", logger)
	}
}
