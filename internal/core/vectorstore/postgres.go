// Package vectorstore is the gateway to the shared similarity-search
// index. All tenants live in one pgvector table; isolation is purely
// filter-based, so every record carries full scope metadata and every
// query is bounded by a models.Scope.
package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/models"
)

// ErrInvalidScope rejects unscoped or malformed queries. An unscoped
// similarity search is a programming defect, never a valid mode.
var ErrInvalidScope = errors.New("vector query requires a valid retrieval scope")

// ErrDimensionMismatch is returned when a record's vector length does
// not match the index dimension; fatal for the request.
var ErrDimensionMismatch = errors.New("vector dimension does not match index dimension")

// UpsertBatchSize bounds a single upsert request; callers split larger
// record sets and write sequentially.
const UpsertBatchSize = 100

// Postgres implements core.VectorStore on a pgvector table.
type Postgres struct {
	db  *sql.DB
	dim int
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureIndex creates the shared table and its indexes if missing.
// Creating an index that already exists is a no-op success; dimension
// is fixed at creation time and must match the embedding model.
func (p *Postgres) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("ensure index: invalid dimension %d", dimension)
	}

	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS vector_records (
				id          UUID PRIMARY KEY,
				document_id TEXT NOT NULL,
				owner_id    TEXT NOT NULL DEFAULT '',
				session_id  TEXT NOT NULL DEFAULT '',
				source_type TEXT NOT NULL,
				file_name   TEXT NOT NULL,
				chunk_index INT  NOT NULL,
				text        TEXT NOT NULL,
				embedding   vector(%d) NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, dimension),
		`CREATE INDEX IF NOT EXISTS vector_records_embedding_idx
			ON vector_records USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS vector_records_document_idx
			ON vector_records (document_id)`,
		`CREATE INDEX IF NOT EXISTS vector_records_owner_source_idx
			ON vector_records (owner_id, source_type)`,
	}
	for _, q := range ddl {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	p.dim = dimension
	return nil
}

// Upsert writes records idempotently by ID in a single transaction.
func (p *Postgres) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if p.dim > 0 && len(records[i].Embedding) != p.dim {
			return fmt.Errorf("upsert record %s: %w (got %d, want %d)",
				records[i].ID, ErrDimensionMismatch, len(records[i].Embedding), p.dim)
		}
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO vector_records
			(id, document_id, owner_id, session_id, source_type, file_name, chunk_index, text, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text, embedding = EXCLUDED.embedding, chunk_index = EXCLUDED.chunk_index
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		var created any
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.DocumentID, r.OwnerID, r.SessionID, string(r.SourceType),
			r.FileName, r.ChunkIndex, r.Text, pgvector.NewVector(r.Embedding), created,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteByFilter removes every record matching the scope. Nothing
// matching (first-time sync) is a no-op success, not an error.
func (p *Postgres) DeleteByFilter(ctx context.Context, scope models.Scope) error {
	where, args, err := scopeWhere(scope, 1)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM vector_records WHERE `+where, args...); err != nil {
		return fmt.Errorf("delete by filter: %w", err)
	}
	return nil
}

// Query runs a cosine similarity search bounded by the scope and
// returns topK matches ranked best-first.
func (p *Postgres) Query(ctx context.Context, vector []float32, topK int, scope models.Scope) ([]models.Match, error) {
	where, args, err := scopeWhere(scope, 3)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	q := fmt.Sprintf(`
		SELECT id, document_id, owner_id, session_id, source_type, file_name, chunk_index, text,
			1 - (embedding <=> $1) AS score
		FROM vector_records
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, where)

	queryArgs := append([]any{pgvector.NewVector(vector), topK}, args...)
	rows, err := p.db.QueryContext(ctx, q, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var m models.Match
		var st string
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.OwnerID, &m.SessionID, &st,
			&m.FileName, &m.ChunkIndex, &m.Text, &m.Score); err != nil {
			return nil, err
		}
		m.SourceType = models.SourceType(st)
		out = append(out, m)
	}
	return out, rows.Err()
}

// scopeWhere is the single translation point from a RetrievalScope to
// this backend's filter clause. Swapping vector-store providers means
// reimplementing this function, not touching call sites.
func scopeWhere(scope models.Scope, firstParam int) (string, []any, error) {
	if !scope.Valid() {
		return "", nil, ErrInvalidScope
	}
	switch scope.Kind {
	case models.ScopeDocument:
		return fmt.Sprintf("document_id = $%d", firstParam),
			[]any{scope.DocumentID}, nil
	case models.ScopeOwnerSource:
		return fmt.Sprintf("owner_id = $%d AND source_type = $%d", firstParam, firstParam+1),
			[]any{scope.OwnerID, string(scope.SourceType)}, nil
	case models.ScopeSessionSource:
		return fmt.Sprintf("session_id = $%d AND source_type = $%d", firstParam, firstParam+1),
			[]any{scope.SessionID, string(scope.SourceType)}, nil
	default:
		return "", nil, ErrInvalidScope
	}
}

var _ core.VectorStore = (*Postgres)(nil)
