package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbot-labs/docbot/internal/models"
)

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return []float32{1, 0}, nil
}

type fakeStore struct {
	matches   []models.Match
	lastScope models.Scope
	lastTopK  int
	queried   bool
}

func (f *fakeStore) EnsureIndex(_ context.Context, _ int) error              { return nil }
func (f *fakeStore) Upsert(_ context.Context, _ []models.VectorRecord) error { return nil }
func (f *fakeStore) DeleteByFilter(_ context.Context, _ models.Scope) error  { return nil }
func (f *fakeStore) Query(_ context.Context, _ []float32, topK int, scope models.Scope) ([]models.Match, error) {
	f.queried = true
	f.lastScope = scope
	f.lastTopK = topK
	return f.matches, nil
}

type fakeLLM struct {
	tokens     []string
	err        error
	lastPrompt string
}

func (f *fakeLLM) GenerateStream(_ context.Context, _ string, userPrompt string) (<-chan models.StreamEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastPrompt = userPrompt
	out := make(chan models.StreamEvent, len(f.tokens)+1)
	for _, tok := range f.tokens {
		out <- models.StreamEvent{Token: tok}
	}
	out <- models.StreamEvent{Done: true}
	close(out)
	return out, nil
}

func collect(t *testing.T, ch <-chan models.StreamEvent) (text string, final models.StreamEvent) {
	t.Helper()
	for ev := range ch {
		if ev.Done || ev.Err != nil {
			return text, ev
		}
		text += ev.Token
	}
	t.Fatal("stream ended without a terminal event")
	return "", models.StreamEvent{}
}

func TestAnswerStreamsTokensAndSources(t *testing.T) {
	store := &fakeStore{matches: []models.Match{
		{DocumentID: "doc-1", FileName: "notes.txt", ChunkIndex: 2, Text: "the sky is blue", Score: 0.9},
		{DocumentID: "doc-1", FileName: "notes.txt", ChunkIndex: 5, Text: "water is wet", Score: 0.7},
	}}
	llm := &fakeLLM{tokens: []string{"The ", "sky ", "is ", "blue."}}
	a := NewAnswerer(&fakeEmbedder{}, store, &fakeStore{}, llm, 3, 3)

	ch, err := a.Answer(context.Background(), "what color is the sky?", models.ByDocument("doc-1"))
	require.NoError(t, err)

	text, final := collect(t, ch)
	assert.Equal(t, "The sky is blue.", text)
	require.True(t, final.Done)
	require.Len(t, final.Sources, 2)
	assert.Equal(t, models.SourceRef{DocumentID: "doc-1", FileName: "notes.txt", ChunkIndex: 2}, final.Sources[0])

	// The matched chunks are the model's context.
	assert.Contains(t, llm.lastPrompt, "the sky is blue")
	assert.Contains(t, llm.lastPrompt, "what color is the sky?")
}

func TestAnswerRejectsEmptyQueryBeforeBackends(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	a := NewAnswerer(emb, store, &fakeStore{}, &fakeLLM{}, 3, 3)

	_, err := a.Answer(context.Background(), "   \n\t", models.ByDocument("doc-1"))
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, emb.calls)
	assert.False(t, store.queried)
}

func TestAnswerRejectsInvalidScope(t *testing.T) {
	emb := &fakeEmbedder{}
	a := NewAnswerer(emb, &fakeStore{}, &fakeStore{}, &fakeLLM{}, 3, 3)

	_, err := a.Answer(context.Background(), "hello", models.Scope{})
	assert.ErrorIs(t, err, ErrInvalidScope)
	assert.Zero(t, emb.calls)
}

func TestAnswerProceedsWithZeroMatches(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"I could not find that in your documents."}}
	a := NewAnswerer(&fakeEmbedder{}, &fakeStore{}, &fakeStore{}, llm, 3, 3)

	ch, err := a.Answer(context.Background(), "anything?", models.ByOwnerSource("user-1", models.SourceDriveSync))
	require.NoError(t, err)

	text, final := collect(t, ch)
	assert.True(t, strings.Contains(text, "could not find"))
	assert.True(t, final.Done)
	assert.Empty(t, final.Sources)
	assert.Contains(t, llm.lastPrompt, "no matching context found")
}

func TestAnswerRoutesSessionScopeToSessionStore(t *testing.T) {
	durable := &fakeStore{}
	session := &fakeStore{}
	a := NewAnswerer(&fakeEmbedder{}, durable, session, &fakeLLM{}, 3, 3)

	scope := models.BySessionSource("sess-1", models.SourceSessionUpload)
	ch, err := a.Answer(context.Background(), "hi", scope)
	require.NoError(t, err)
	collect(t, ch)

	assert.True(t, session.queried)
	assert.False(t, durable.queried)
	assert.Equal(t, scope, session.lastScope)
}

func TestAnswerUsesScopeSpecificTopK(t *testing.T) {
	durable := &fakeStore{}
	session := &fakeStore{}
	a := NewAnswerer(&fakeEmbedder{}, durable, session, &fakeLLM{}, 2, 7)

	ch, err := a.Answer(context.Background(), "hi", models.ByDocument("doc-1"))
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, 2, durable.lastTopK)

	ch, err = a.Answer(context.Background(), "hi", models.ByOwnerSource("user-1", models.SourceLocalUpload))
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, 7, durable.lastTopK)

	ch, err = a.Answer(context.Background(), "hi", models.BySessionSource("sess-1", models.SourceSessionUpload))
	require.NoError(t, err)
	collect(t, ch)
	assert.Equal(t, 7, session.lastTopK)
}

func TestAnswerSurfacesLLMFailure(t *testing.T) {
	a := NewAnswerer(&fakeEmbedder{}, &fakeStore{}, &fakeStore{}, &fakeLLM{err: errors.New("model overloaded")}, 3, 3)

	_, err := a.Answer(context.Background(), "hi", models.ByDocument("doc-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}
