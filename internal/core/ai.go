package core

import (
	"context"

	"github.com/docbot-labs/docbot/internal/models"
)

// EmbeddingProvider turns text into fixed-dimension vectors. Document
// and query embedding are separate calls because providers distinguish
// the two intents.
type EmbeddingProvider interface {
	// EmbedDocuments embeds all texts in one batched request. The
	// returned slice has the same length and order as texts; callers
	// zip them positionally.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LLMProvider produces a grounded answer as a stream of events. The
// returned channel is closed after a terminal Done or Err event; the
// producer stops writing once ctx is cancelled.
type LLMProvider interface {
	GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan models.StreamEvent, error)
}
