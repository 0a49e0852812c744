package core

import (
	"context"

	"github.com/docbot-labs/docbot/internal/models"
)

// DbClient defines the document registry operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByDriveFile(ctx context.Context, ownerID, driveFileID string) (*models.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error)
	UpdateSyncState(ctx context.Context, id string, state models.SyncState) error
	// UpdateDocumentContent records the MIME type and size the latest
	// fetch actually produced, which can differ from sync to sync for
	// exported cloud documents.
	UpdateDocumentContent(ctx context.Context, id, mimeType string, sizeBytes int64) error
	UserExists(ctx context.Context, ownerID string) (bool, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// Abstract so AWS can be replaced with MinIO, GCP, etc.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// DriveFile is the subset of cloud-drive file metadata ingestion needs.
type DriveFile struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
}

// DriveClient is the cloud-drive source provider: it supplies raw file
// bytes and, for provider-native document formats, a server-side export
// to a supported interchange format.
type DriveClient interface {
	GetMetadata(ctx context.Context, fileID string) (*DriveFile, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	// Export converts a provider-native document to the requested MIME
	// type and returns the exported bytes.
	Export(ctx context.Context, fileID, mimeType string) ([]byte, error)
}

// VectorStore is the gateway to the external similarity-search index.
// Isolation is filter-based: one shared index, every record tagged with
// owner/session + source metadata, every query bounded by a Scope.
type VectorStore interface {
	// EnsureIndex is idempotent: creating an index that already exists
	// is a no-op success.
	EnsureIndex(ctx context.Context, dimension int) error

	// Upsert writes records idempotently by ID. Callers split large
	// sets into bounded batches and upsert sequentially.
	Upsert(ctx context.Context, records []models.VectorRecord) error

	// DeleteByFilter removes every record matching the scope. Matching
	// nothing (first-time sync) is a no-op success.
	DeleteByFilter(ctx context.Context, scope models.Scope) error

	// Query returns the topK most similar records within the scope,
	// ranked by similarity score. An invalid scope is rejected.
	Query(ctx context.Context, vector []float32, topK int, scope models.Scope) ([]models.Match, error)
}
