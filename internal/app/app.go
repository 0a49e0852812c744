package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/docbot-labs/docbot/internal/config"
	db "github.com/docbot-labs/docbot/internal/core/database"
	"github.com/docbot-labs/docbot/internal/core/extract"
	"github.com/docbot-labs/docbot/internal/core/ingest"
	"github.com/docbot-labs/docbot/internal/core/llm"
	"github.com/docbot-labs/docbot/internal/core/objectstore"
	"github.com/docbot-labs/docbot/internal/core/retrieval"
	"github.com/docbot-labs/docbot/internal/core/vectorstore"
	"github.com/docbot-labs/docbot/internal/core/vectorstore/memory"
	"github.com/docbot-labs/docbot/internal/notify"
)

// App owns every long-lived component and wires the pipeline together.
type App struct {
	DBClient *db.DatabaseClient
	Embedder *llm.GeminiEmbedder
	LLM      *llm.GeminiLLM
	Server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	durable := vectorstore.NewPostgres(dbClient.DB())
	if err := durable.EnsureIndex(appCtx, cfg.EmbedDim); err != nil {
		return nil, fmt.Errorf("couldn't prepare the vector index: %w", err)
	}
	sessionStore := memory.New(cfg.MaxSessions)
	if err := sessionStore.EnsureIndex(appCtx, cfg.EmbedDim); err != nil {
		return nil, err
	}
	log.Println("Vector stores initialized and ready.")

	objClient, err := objectstore.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the LLM: %w", err)
	}

	extractor := extract.New(
		&extract.TesseractOCR{Language: "eng"},
		&extract.PopplerRenderer{DPI: 200},
		cfg.MinTextLen,
	)

	broker := notify.NewBroker()

	ingestor := ingest.NewService(dbClient, objClient, durable, sessionStore, embedder, extractor, broker, ingest.Config{
		Bucket:        cfg.BucketName,
		TargetTokens:  cfg.ChunkTokens,
		OverlapTokens: cfg.OverlapTokens,
		UpsertBatch:   cfg.UpsertBatch,
		Workers:       cfg.IngestWorkers,
	})
	answerer := retrieval.NewAnswerer(embedder, durable, sessionStore, llmProvider, cfg.DocTopK, cfg.SourceTopK)

	server := NewServer(cfg, dbClient, ingestor, answerer, broker)

	return &App{DBClient: dbClient, Embedder: embedder, LLM: llmProvider, Server: server}, nil
}

func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
