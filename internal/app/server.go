package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docbot-labs/docbot/internal/api/handlers"
	appMiddleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/config"
	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/core/ingest"
	"github.com/docbot-labs/docbot/internal/core/retrieval"
	"github.com/docbot-labs/docbot/internal/notify"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, dbc core.DbClient, ingestor *ingest.Service, answerer *retrieval.Answerer, broker *notify.Broker) *Server {
	docHandler := handlers.NewDocumentHandler(dbc, ingestor)
	driveHandler := handlers.NewDriveHandler(ingestor)
	publicHandler := handlers.NewPublicHandler(ingestor)
	chatHandler := handlers.NewChatHandler(dbc, answerer)
	eventsHandler := handlers.NewEventsHandler(broker)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-ID", "X-Drive-Token"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		// anonymous session endpoints
		api.Group(func(public chi.Router) {
			public.Use(appMiddleware.Session)
			public.Post("/public/upload", publicHandler.UploadDocuments)
		})

		// one chat and one event stream for both identities
		api.Group(func(mixed chi.Router) {
			mixed.Use(appMiddleware.OptionalAuth(cfg.JWTSecret))
			mixed.Post("/chat/query", chatHandler.Query)
			mixed.Get("/events", eventsHandler.Stream)
		})

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTAuth(cfg.JWTSecret))
			protected.Post("/documents/upload", docHandler.UploadDocuments)
			protected.Get("/documents", docHandler.GetDocuments)
			protected.Post("/documents/{id}/sync", docHandler.ResyncDocument)
			protected.Post("/drive/sync", driveHandler.SyncFile)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
