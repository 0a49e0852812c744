package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docbot-labs/docbot/internal/config"
	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the underlying pool so the vector store can share it.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, owner_id, session_id, source_type, drive_file_id, file_name, mime_type, size_bytes, storage_url, sync_state, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()), COALESCE($12, now()))
	`
	var created, updated any
	if !doc.CreatedAt.IsZero() {
		created = doc.CreatedAt
	}
	if !doc.UpdatedAt.IsZero() {
		updated = doc.UpdatedAt
	}
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.OwnerID, doc.SessionID, string(doc.SourceType), doc.DriveFileID,
		doc.FileName, doc.MimeType, doc.SizeBytes, doc.StorageURL, string(doc.SyncState),
		created, updated)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, owner_id, session_id, source_type, drive_file_id, file_name, mime_type, size_bytes, storage_url, sync_state, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	return c.scanOne(c.db.QueryRowContext(ctx, q, id))
}

// GetDocumentByDriveFile finds the user's document tracking a drive
// file, if one exists; nil without error when not tracked yet.
func (c *DatabaseClient) GetDocumentByDriveFile(ctx context.Context, ownerID, driveFileID string) (*models.Document, error) {
	const q = `
		SELECT id, owner_id, session_id, source_type, drive_file_id, file_name, mime_type, size_bytes, storage_url, sync_state, created_at, updated_at
		FROM documents
		WHERE owner_id = $1 AND drive_file_id = $2
	`
	return c.scanOne(c.db.QueryRowContext(ctx, q, ownerID, driveFileID))
}

func (c *DatabaseClient) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	const q = `
		SELECT id, owner_id, session_id, source_type, drive_file_id, file_name, mime_type, size_bytes, storage_url, sync_state, created_at, updated_at
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateSyncState(ctx context.Context, id string, state models.SyncState) error {
	const q = `
		UPDATE documents
		SET sync_state = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, string(state))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateDocumentContent(ctx context.Context, id, mimeType string, sizeBytes int64) error {
	const q = `
		UPDATE documents
		SET mime_type = $2, size_bytes = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, mimeType, sizeBytes)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UserExists(ctx context.Context, ownerID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	if err := c.db.QueryRowContext(ctx, q, ownerID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var d models.Document
	var st, ss string
	if err := r.Scan(
		&d.ID, &d.OwnerID, &d.SessionID, &st, &d.DriveFileID,
		&d.FileName, &d.MimeType, &d.SizeBytes, &d.StorageURL, &ss,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.SourceType = models.SourceType(st)
	d.SyncState = models.SyncState(ss)
	return &d, nil
}

func (c *DatabaseClient) scanOne(row *sql.Row) (*models.Document, error) {
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

var _ core.DbClient = (*DatabaseClient)(nil)
