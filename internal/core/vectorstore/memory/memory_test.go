package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbot-labs/docbot/internal/core/vectorstore"
	"github.com/docbot-labs/docbot/internal/models"
)

func rec(id, session, doc string, emb []float32) models.VectorRecord {
	return models.VectorRecord{
		ID:         id,
		Embedding:  emb,
		DocumentID: doc,
		SessionID:  session,
		SourceType: models.SourceSessionUpload,
		FileName:   doc + ".txt",
	}
}

func TestQueryScopedToSession(t *testing.T) {
	ctx := context.Background()
	s := New(8)
	require.NoError(t, s.EnsureIndex(ctx, 3))

	require.NoError(t, s.Upsert(ctx, []models.VectorRecord{
		rec("a", "sess-1", "doc-a", []float32{1, 0, 0}),
		rec("b", "sess-2", "doc-b", []float32{1, 0, 0}),
	}))

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 5,
		models.BySessionSource("sess-1", models.SourceSessionUpload))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-6)
}

func TestQueryScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := New(8)
	require.NoError(t, s.EnsureIndex(ctx, 2))

	// Identical text and embedding under two owners; similarity alone
	// would match both.
	mk := func(id, owner string) models.VectorRecord {
		return models.VectorRecord{
			ID:         id,
			Embedding:  []float32{1, 0},
			DocumentID: "doc-" + owner,
			OwnerID:    owner,
			SessionID:  "sess-" + owner,
			SourceType: models.SourceLocalUpload,
			Text:       "the shared sentence",
		}
	}
	require.NoError(t, s.Upsert(ctx, []models.VectorRecord{mk("a", "user-1"), mk("b", "user-2")}))

	matches, err := s.Query(ctx, []float32{1, 0}, 5,
		models.ByOwnerSource("user-1", models.SourceLocalUpload))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "user-1", matches[0].OwnerID)
}

func TestQueryRanksByCosine(t *testing.T) {
	ctx := context.Background()
	s := New(8)
	require.NoError(t, s.EnsureIndex(ctx, 2))

	require.NoError(t, s.Upsert(ctx, []models.VectorRecord{
		rec("near", "sess-1", "doc", []float32{1, 0}),
		rec("mid", "sess-1", "doc", []float32{1, 1}),
		rec("far", "sess-1", "doc", []float32{0, 1}),
	}))

	matches, err := s.Query(ctx, []float32{1, 0}, 2, models.ByDocument("doc"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].ID)
	assert.Equal(t, "mid", matches[1].ID)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := New(8)
	require.NoError(t, s.EnsureIndex(ctx, 3))

	err := s.Upsert(ctx, []models.VectorRecord{rec("a", "sess-1", "doc", []float32{1, 0})})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestQueryRejectsInvalidScope(t *testing.T) {
	s := New(8)
	_, err := s.Query(context.Background(), []float32{1}, 3, models.Scope{})
	assert.ErrorIs(t, err, vectorstore.ErrInvalidScope)
}

func TestDeleteByFilterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(8)
	require.NoError(t, s.Upsert(ctx, []models.VectorRecord{
		rec("a", "sess-1", "doc-a", []float32{1}),
	}))

	scope := models.ByDocument("doc-a")
	require.NoError(t, s.DeleteByFilter(ctx, scope))
	require.NoError(t, s.DeleteByFilter(ctx, scope)) // nothing left, still fine

	matches, err := s.Query(ctx, []float32{1}, 3, scope)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOldestSessionEvicted(t *testing.T) {
	ctx := context.Background()
	s := New(2)

	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("sess-%d", i)
		require.NoError(t, s.Upsert(ctx, []models.VectorRecord{rec(id, id, "doc-"+id, []float32{1})}))
	}

	// Touch sess-1 so sess-2 becomes the eviction candidate.
	_, err := s.Query(ctx, []float32{1}, 3, models.BySessionSource("sess-1", models.SourceSessionUpload))
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, []models.VectorRecord{rec("c", "sess-3", "doc-c", []float32{1})}))

	m1, err := s.Query(ctx, []float32{1}, 3, models.BySessionSource("sess-1", models.SourceSessionUpload))
	require.NoError(t, err)
	assert.NotEmpty(t, m1, "recently used session should survive")

	m2, err := s.Query(ctx, []float32{1}, 3, models.BySessionSource("sess-2", models.SourceSessionUpload))
	require.NoError(t, err)
	assert.Empty(t, m2, "least recently used session should be evicted")
}
