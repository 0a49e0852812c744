package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	middleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/core/drive"
	"github.com/docbot-labs/docbot/internal/core/ingest"
	"github.com/docbot-labs/docbot/internal/models"
)

type DriveHandler struct {
	ingestor *ingest.Service
}

func NewDriveHandler(ingestor *ingest.Service) *DriveHandler {
	return &DriveHandler{ingestor: ingestor}
}

type driveSyncRequest struct {
	FileID string `json:"fileId"`
}

// SyncFile ingests a drive file for the authenticated user. The drive
// access token rides on its own header; token exchange happens outside
// this service.
func (h *DriveHandler) SyncFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	var req driveSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.FileID) == "" {
		http.Error(w, "fileId is required", http.StatusBadRequest)
		return
	}

	token := r.Header.Get("X-Drive-Token")
	if token == "" {
		http.Error(w, "drive access token missing", http.StatusUnauthorized)
		return
	}

	dc, err := drive.NewClient(r.Context(), token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	sum, err := h.ingestor.SyncDriveFile(r.Context(), dc, models.Principal{OwnerID: userID}, req.FileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
