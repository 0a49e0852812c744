package handlers

import (
	"net/http"

	middleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/core/ingest"
)

type PublicHandler struct {
	ingestor *ingest.Service
}

func NewPublicHandler(ingestor *ingest.Service) *PublicHandler {
	return &PublicHandler{ingestor: ingestor}
}

// UploadDocuments ingests files for an anonymous session. Records go
// to the in-process session store only; the session id is echoed back
// so the caller can chat with what it uploaded.
func (h *PublicHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "session not established", http.StatusBadRequest)
		return
	}

	files, rejected, err := readMultipartFiles(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"session_id": sessionID, "files": rejected})
		return
	}

	summaries, err := h.ingestor.IngestSessionFiles(r.Context(), sessionID, files)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"files":      append(summaries, rejected...),
	})
}
