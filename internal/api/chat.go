package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
	"github.com/Greyisheep/database-session-demo/internal/chat"
)

// defaultUserID is assumed when the form carries no user_id, matching the
// original demo service.
const defaultUserID = "demo_user"

// formFieldOverhead is headroom added to the upload ceiling for the text
// fields of the multipart form.
const formFieldOverhead int64 = 1 << 20

// chatHandler serves POST /chat.
type chatHandler struct {
	runner   *chat.Runner
	maxBytes int64
	logger   *slog.Logger
}

// agentResponse is the data payload of a successful chat turn.
type agentResponse struct {
	Response     string `json:"response"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	MessageCount int64  `json:"message_count"`
	HasFiles     bool   `json:"has_files"`
}

// successResponse is the envelope the original service wrapped every chat
// reply in.
type successResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    agentResponse `json:"data"`
}

// send handles POST /chat. The request is a multipart form:
//
//	user_input  — the user's message (required unless a file is present)
//	file        — optional file upload
//	data_uri    — optional base64 data URI, alternative to file
//	user_id     — defaults to "demo_user"
//	session_id  — existing session to continue; empty creates one
//	new_session — "true" forces a fresh session even when session_id is set
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formFieldOverhead)
	if err := r.ParseMultipartForm(h.maxBytes + formFieldOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeDetail(), h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form", h.logger)
		return
	}

	userInput := r.FormValue("user_input")
	userID := r.FormValue("user_id")
	if userID == "" {
		userID = defaultUserID
	}
	sessionID := r.FormValue("session_id")

	newSession := false
	if v := r.FormValue("new_session"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid new_session value", h.logger)
			return
		}
		newSession = b
	}
	if newSession {
		sessionID = ""
	}

	uploads, ok := h.readAttachment(w, r)
	if !ok {
		return
	}

	result, err := h.runner.Turn(r.Context(), userID, sessionID, userInput, uploads)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: "Agent response generated successfully",
		Data: agentResponse{
			Response:     result.Reply,
			SessionID:    result.Key.ID,
			UserID:       result.Key.UserID,
			MessageCount: result.MessageCount,
			HasFiles:     result.HasFiles,
		},
	}, h.logger)
}

// readAttachment extracts the turn's attachment from either the file upload
// or the data_uri field. Returns ok=false after writing an error response.
// A request without an attachment returns (nil, true).
func (h *chatHandler) readAttachment(w http.ResponseWriter, r *http.Request) ([]chat.Upload, bool) {
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer func() {
			if cerr := file.Close(); cerr != nil {
				h.logger.Debug("failed to close upload", "error", cerr)
			}
		}()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read uploaded file", h.logger)
			return nil, false
		}
		if int64(len(data)) > h.maxBytes {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeDetail(), h.logger)
			return nil, false
		}
		if len(data) == 0 {
			writeError(w, http.StatusBadRequest, "Empty file not allowed.", h.logger)
			return nil, false
		}

		mimeType := header.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		// Browsers may send a full client-side path; keep the base name only.
		name := filepath.Base(header.Filename)
		if name == "." || name == string(filepath.Separator) {
			name = "upload"
		}
		if err := artifact.ValidateFilename(name); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid filename", h.logger)
			return nil, false
		}

		h.logger.Debug("processed file upload", "name", name, "mime", mimeType, "bytes", len(data))
		return []chat.Upload{{Name: name, MIME: mimeType, Data: data}}, true

	case errors.Is(err, http.ErrMissingFile):
		// Fall through to data_uri.

	default:
		writeError(w, http.StatusBadRequest, "Invalid file field", h.logger)
		return nil, false
	}

	dataURI := r.FormValue("data_uri")
	if dataURI == "" {
		return nil, true
	}

	data, mimeType, name, err := chat.ParseDataURI(dataURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid data_uri: %v", err), h.logger)
		return nil, false
	}
	if int64(len(data)) > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeDetail(), h.logger)
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Empty file not allowed.", h.logger)
		return nil, false
	}

	h.logger.Debug("processed data URI", "name", name, "mime", mimeType, "bytes", len(data))
	return []chat.Upload{{Name: name, MIME: mimeType, Data: data}}, true
}

// tooLargeDetail renders the 413 message with the configured ceiling.
func (h *chatHandler) tooLargeDetail() string {
	return fmt.Sprintf("File too large. Maximum size is %dMB.", h.maxBytes>>20)
}
