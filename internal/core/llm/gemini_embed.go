package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/docbot-labs/docbot/internal/core"
)

// ErrZeroDimension is returned when the provider hands back an empty
// vector set or zero-length vectors. Not retryable.
var ErrZeroDimension = errors.New("embedding provider returned zero-dimension vectors")

// DimensionError signals a mismatch between the provider's output and
// the vector store's configured dimension. This is a configuration
// fault, not a transient failure.
type DimensionError struct {
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension %d does not match configured store dimension %d", e.Got, e.Want)
}

// GeminiEmbedder embeds documents and queries through the Gemini API.
// Document and query calls use distinct task types because the model
// optimizes the two intents differently.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedDocuments batches all texts in one request. The response is
// validated to be the same length and order as the input so callers can
// zip chunks and vectors positionally.
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini batch embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if err := g.checkVector(e.Values); err != nil {
			return nil, err
		}
		out = append(out, e.Values)
	}
	return out, nil
}

// EmbedQuery embeds a single retrieval query.
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalQuery

	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed query: %w", err)
	}
	if resp.Embedding == nil {
		return nil, ErrZeroDimension
	}
	if err := g.checkVector(resp.Embedding.Values); err != nil {
		return nil, err
	}
	return resp.Embedding.Values, nil
}

func (g *GeminiEmbedder) checkVector(v []float32) error {
	if len(v) == 0 {
		return ErrZeroDimension
	}
	if g.dim > 0 && len(v) != g.dim {
		return &DimensionError{Got: len(v), Want: g.dim}
	}
	return nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
