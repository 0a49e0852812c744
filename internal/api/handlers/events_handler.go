package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	middleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/notify"
)

type EventsHandler struct {
	broker *notify.Broker
}

func NewEventsHandler(broker *notify.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

// Stream pushes sync completion events for the caller's documents as
// server-sent events until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.UserID(r.Context())
	if !ok {
		key, ok = middleware.SessionID(r.Context())
	}
	if !ok {
		http.Error(w, "no user or session identity", http.StatusUnauthorized)
		return
	}

	flusher, okf := w.(http.Flusher)
	if !okf {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := h.broker.Subscribe(key)
	defer h.broker.Unsubscribe(key, events)

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
