package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Greyisheep/database-session-demo/internal/session"
)

// sessionHandler serves the session listing and deletion routes. All
// operations are scoped to the server's configured application name.
type sessionHandler struct {
	store   *session.Store
	appName string
	logger  *slog.Logger
}

// sessionItem is the JSON representation of a session in list responses.
type sessionItem struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	EventCount int64  `json:"event_count"`
	CreatedAt  string `json:"created_at"`
	LastUpdate string `json:"last_update"`
}

// list handles GET /sessions/{user_id}. Returns summaries newest-first;
// event bodies and state are never fetched here.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	summaries, err := h.store.ListSessions(r.Context(), h.appName, userID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	items := make([]sessionItem, len(summaries))
	for i, s := range summaries {
		items[i] = sessionItem{
			ID:         s.Key.ID,
			UserID:     s.Key.UserID,
			EventCount: s.EventCount,
			CreatedAt:  s.CreatedAt.Format(time.RFC3339),
			LastUpdate: s.UpdatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Found %d sessions for user %s", len(items), userID),
		"data":    items,
	}, h.logger)
}

// delete handles DELETE /sessions/{user_id}/{session_id}. Deleting a
// session that does not exist answers 404; the store itself treats that as
// a no-op.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	key := session.Key{
		AppName: h.appName,
		UserID:  r.PathValue("user_id"),
		ID:      r.PathValue("session_id"),
	}

	deleted, err := h.store.DeleteSession(r.Context(), key)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Session not found", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Session %s deleted successfully", key.ID),
		"data":    map[string]bool{"deleted": true},
	}, h.logger)
}
