// Package retrieval turns a question into a grounded, streamed answer:
// embed the query, fetch the scoped top matches, and prompt the model
// with the matched chunks as its only context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/models"
)

// ErrEmptyQuery rejects blank questions before any backend call.
var ErrEmptyQuery = errors.New("query text is empty")

// ErrInvalidScope rejects malformed scopes before any backend call.
var ErrInvalidScope = errors.New("query requires a valid retrieval scope")

const systemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Answer using ONLY the provided context. If the context does not contain
the answer, say you could not find it in the documents. Do not invent
facts.`

// Answerer runs scoped retrieval-augmented answering. Session scopes
// read the process-local session store, everything else the durable
// index.
type Answerer struct {
	embedder   core.EmbeddingProvider
	durable    core.VectorStore
	session    core.VectorStore
	llm        core.LLMProvider
	docTopK    int
	sourceTopK int
}

// NewAnswerer takes separate K values for single-document scopes and
// the broader owner/session-source scopes.
func NewAnswerer(embedder core.EmbeddingProvider, durable, session core.VectorStore, llm core.LLMProvider, docTopK, sourceTopK int) *Answerer {
	if docTopK <= 0 {
		docTopK = 3
	}
	if sourceTopK <= 0 {
		sourceTopK = docTopK
	}
	return &Answerer{embedder: embedder, durable: durable, session: session, llm: llm, docTopK: docTopK, sourceTopK: sourceTopK}
}

// Answer validates, retrieves and streams. The returned channel ends
// with exactly one terminal event: Done (carrying the source chunks
// the answer was grounded on) or Err.
func (a *Answerer) Answer(ctx context.Context, query string, scope models.Scope) (<-chan models.StreamEvent, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}

	vec, err := a.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	store := a.durable
	topK := a.docTopK
	if scope.Kind != models.ScopeDocument {
		topK = a.sourceTopK
	}
	if scope.Kind == models.ScopeSessionSource {
		store = a.session
	}
	matches, err := store.Query(ctx, vec, topK, scope)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	// Zero matches still answer; the model just has nothing to ground
	// on and says so.
	inner, err := a.llm.GenerateStream(ctx, systemPrompt, buildPrompt(query, matches))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	sources := sourceRefs(matches)
	out := make(chan models.StreamEvent, 8)
	go func() {
		defer close(out)
		for ev := range inner {
			if ev.Done {
				ev.Sources = sources
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func buildPrompt(query string, matches []models.Match) string {
	var b strings.Builder
	b.WriteString("Context from the user's documents:\n\n")
	if len(matches) == 0 {
		b.WriteString("(no matching context found)\n")
	}
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s (chunk %d):\n%s\n\n", i+1, m.FileName, m.ChunkIndex, m.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

func sourceRefs(matches []models.Match) []models.SourceRef {
	if len(matches) == 0 {
		return nil
	}
	out := make([]models.SourceRef, len(matches))
	for i, m := range matches {
		out[i] = models.SourceRef{
			DocumentID: m.DocumentID,
			FileName:   m.FileName,
			ChunkIndex: m.ChunkIndex,
		}
	}
	return out
}
