package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	middleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/core/retrieval"
	"github.com/docbot-labs/docbot/internal/models"
)

type ChatHandler struct {
	dbclient core.DbClient
	answerer *retrieval.Answerer
}

func NewChatHandler(dbclient core.DbClient, answerer *retrieval.Answerer) *ChatHandler {
	return &ChatHandler{dbclient: dbclient, answerer: answerer}
}

type ChatRequest struct {
	Query      string `json:"query"`
	DocumentID string `json:"document_id,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// event mirrors the stream wire format: one of token, done+sources, or
// error per SSE data line.
type event struct {
	Token   string             `json:"token,omitempty"`
	Done    bool               `json:"done,omitempty"`
	Sources []models.SourceRef `json:"sources,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Query answers a question over the caller's documents, streaming
// tokens as server-sent events. Authenticated callers chat with one
// document or a whole source; anonymous callers chat with their
// session uploads.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	scope, err := h.resolveScope(r, &req)
	if err != nil {
		status := http.StatusBadRequest
		var se *scopeError
		if errors.As(err, &se) {
			status = se.status
		}
		http.Error(w, err.Error(), status)
		return
	}

	stream, err := h.answerer.Answer(r.Context(), req.Query, scope)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) || errors.Is(err, retrieval.ErrInvalidScope) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev := range stream {
		switch {
		case ev.Err != nil:
			writeSSE(w, event{Error: ev.Err.Error()})
		case ev.Done:
			writeSSE(w, event{Done: true, Sources: ev.Sources})
		default:
			writeSSE(w, event{Token: ev.Token})
		}
		flusher.Flush()
	}
}

type scopeError struct {
	status int
	msg    string
}

func (e *scopeError) Error() string { return e.msg }

// resolveScope maps the caller's identity and request to a retrieval
// scope. Anonymous callers are always scoped to their own session
// uploads.
func (h *ChatHandler) resolveScope(r *http.Request, req *ChatRequest) (models.Scope, error) {
	ctx := r.Context()

	if userID, ok := middleware.UserID(ctx); ok {
		switch {
		case req.DocumentID != "":
			doc, err := h.dbclient.GetDocumentByID(ctx, req.DocumentID)
			if err != nil {
				return models.Scope{}, &scopeError{http.StatusInternalServerError, err.Error()}
			}
			if doc == nil || doc.OwnerID != userID {
				return models.Scope{}, &scopeError{http.StatusNotFound, "document not found"}
			}
			return models.ByDocument(req.DocumentID), nil
		case req.SourceType != "":
			st := models.SourceType(req.SourceType)
			if st != models.SourceLocalUpload && st != models.SourceDriveSync {
				return models.Scope{}, fmt.Errorf("unknown source_type: %s", req.SourceType)
			}
			return models.ByOwnerSource(userID, st), nil
		default:
			return models.Scope{}, fmt.Errorf("document_id or source_type is required")
		}
	}

	if sessionID, ok := middleware.SessionID(ctx); ok {
		return models.BySessionSource(sessionID, models.SourceSessionUpload), nil
	}

	return models.Scope{}, &scopeError{http.StatusUnauthorized, "no user or session identity"}
}

func writeSSE(w http.ResponseWriter, ev event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
