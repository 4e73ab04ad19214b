package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Greyisheep/database-session-demo/internal/artifact"
)

// artifactHandler serves stored attachment blobs by content hash. This is
// the read path for files cited in event histories.
type artifactHandler struct {
	registry *artifact.Registry
	logger   *slog.Logger
}

// get handles GET /artifacts/{hash}. Responds with the raw blob bytes under
// the MIME type recorded at upload.
func (h *artifactHandler) get(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if err := artifact.ValidateHash(hash); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid artifact hash", h.logger)
		return
	}

	info, err := h.registry.Stat(r.Context(), hash)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	data, err := h.registry.Get(r.Context(), info.Ref)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", info.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write artifact body", "error", err)
	}
}
