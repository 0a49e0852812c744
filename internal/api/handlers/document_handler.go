package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	middleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/core/extract"
	"github.com/docbot-labs/docbot/internal/core/ingest"
	"github.com/docbot-labs/docbot/internal/models"
)

const maxUploadBytes = 64 << 20 // per request

type DocumentHandler struct {
	dbclient core.DbClient
	ingestor *ingest.Service
}

func NewDocumentHandler(dbclient core.DbClient, ingestor *ingest.Service) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, ingestor: ingestor}
}

// UploadDocuments ingests one or more uploaded files for the
// authenticated user and returns a per-file summary. Unsupported files
// are rejected before anything is stored for them.
func (h *DocumentHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	files, rejected, err := readMultipartFiles(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Every file unsupported means there is nothing to ingest.
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"files": rejected})
		return
	}

	summaries, err := h.ingestor.IngestLocalFiles(r.Context(), models.Principal{OwnerID: userID}, files)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"files": append(summaries, rejected...)})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.dbclient.ListDocumentsByOwner(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	writeJSON(w, http.StatusOK, documents)
}

// ResyncDocument re-runs ingestion for an already uploaded document
// from its stored bytes.
func (h *DocumentHandler) ResyncDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}
	docID := chi.URLParam(r, "id")

	sum, err := h.ingestor.Resync(r.Context(), models.Principal{OwnerID: userID}, docID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// readMultipartFiles reads every uploaded part, splitting supported
// files from ones no extraction strategy covers. Rejected files never
// reach storage.
func readMultipartFiles(r *http.Request) (files []ingest.UploadFile, rejected []models.FileSummary, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("no files in request")
	}

	for _, header := range headers {
		name := filepath.Base(header.Filename)
		contentType := header.Header.Get("Content-Type")

		if extract.Resolve(contentType, name) == extract.StrategyUnsupported {
			rejected = append(rejected, models.FileSummary{
				FileName:  name,
				SyncState: models.SyncFailed,
				Error:     fmt.Sprintf("Unsupported file type for %s. Supported types: PDF, Word documents and images", name),
			})
			continue
		}

		f, err := header.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", name, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", name, err)
		}

		files = append(files, ingest.UploadFile{Name: name, ContentType: contentType, Data: data})
	}
	return files, rejected, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
