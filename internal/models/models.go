package models

import (
	"time"
)

// SourceType classifies where a document came from. It is part of every
// vector record's metadata and participates in retrieval filtering.
type SourceType string

const (
	SourceLocalUpload   SourceType = "local-upload"
	SourceSessionUpload SourceType = "anonymous-session-upload"
	SourceDriveSync     SourceType = "drive-sync"
)

// SyncState is the document ingestion state machine. A request must
// always resolve a document to Synced or Failed; Processing is
// transient and never survives a completed request.
type SyncState string

const (
	SyncUnsynced   SyncState = "unsynced"
	SyncProcessing SyncState = "processing"
	SyncSynced     SyncState = "synced"
	SyncFailed     SyncState = "failed"
)

// Document represents a unit of ingested content. The ID is stable
// across re-syncs; re-syncing purges and reinserts the vector records
// derived from it rather than creating a new document.
type Document struct {
	ID          string     `db:"id" json:"id"`
	OwnerID     string     `db:"owner_id" json:"owner_id,omitempty"`
	SessionID   string     `db:"session_id" json:"session_id,omitempty"`
	SourceType  SourceType `db:"source_type" json:"source_type"`
	DriveFileID string     `db:"drive_file_id" json:"drive_file_id,omitempty"`
	FileName    string     `db:"file_name" json:"file_name"`
	MimeType    string     `db:"mime_type" json:"mime_type"`
	SizeBytes   int64      `db:"size_bytes" json:"size_bytes"`
	StorageURL  string     `db:"storage_url" json:"-"`
	SyncState   SyncState  `db:"sync_state" json:"sync_state"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Principal identifies who owns the data being ingested or queried:
// an authenticated user or an anonymous session, never both. The core
// trusts this value as already authenticated.
type Principal struct {
	OwnerID   string
	SessionID string
}

// Chunk is a contiguous span of normalized text. It only lives inside
// the ingestion pipeline; what persists is the VectorRecord built from
// it.
type Chunk struct {
	Index    int
	Text     string
	TokenCnt int
}

// VectorRecord is the persisted retrieval unit: one embedded chunk
// plus the full metadata used for filter-based multi-tenant isolation.
type VectorRecord struct {
	ID         string
	Embedding  []float32
	DocumentID string
	OwnerID    string
	SessionID  string
	SourceType SourceType
	FileName   string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

// Match is a similarity-search hit: stored metadata plus a similarity
// score (higher is closer).
type Match struct {
	ID         string
	Score      float32
	DocumentID string
	OwnerID    string
	SessionID  string
	SourceType SourceType
	FileName   string
	ChunkIndex int
	Text       string
}

// ScopeKind discriminates the retrieval scope variants.
type ScopeKind int

const (
	ScopeInvalid ScopeKind = iota
	ScopeDocument
	ScopeOwnerSource
	ScopeSessionSource
)

// Scope is the query-time filter contract. Every vector-store call is
// bounded by exactly one scope; the zero value is invalid and rejected
// by the gateway. Construct scopes through the By* helpers.
type Scope struct {
	Kind       ScopeKind
	DocumentID string
	OwnerID    string
	SessionID  string
	SourceType SourceType
}

// ByDocument scopes a search or delete to one document's records.
func ByDocument(documentID string) Scope {
	return Scope{Kind: ScopeDocument, DocumentID: documentID}
}

// ByOwnerSource scopes to every record a user ingested from one source
// class ("chat with all my drive files").
func ByOwnerSource(ownerID string, st SourceType) Scope {
	return Scope{Kind: ScopeOwnerSource, OwnerID: ownerID, SourceType: st}
}

// BySessionSource scopes to an anonymous session's records.
func BySessionSource(sessionID string, st SourceType) Scope {
	return Scope{Kind: ScopeSessionSource, SessionID: sessionID, SourceType: st}
}

// Valid reports whether the scope carries the fields its kind requires.
func (s Scope) Valid() bool {
	switch s.Kind {
	case ScopeDocument:
		return s.DocumentID != ""
	case ScopeOwnerSource:
		return s.OwnerID != "" && s.SourceType != ""
	case ScopeSessionSource:
		return s.SessionID != "" && s.SourceType != ""
	default:
		return false
	}
}

// SourceRef attributes part of a streamed answer back to a stored
// chunk, for UI display.
type SourceRef struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	ChunkIndex int    `json:"chunk_index"`
}

// StreamEvent is one element of a streamed answer. The final event has
// exactly one of Done or Err set.
type StreamEvent struct {
	Token   string
	Done    bool
	Sources []SourceRef
	Err     error
}

// FileSummary is the per-file outcome returned by the ingest endpoint.
type FileSummary struct {
	DocumentID string    `json:"document_id,omitempty"`
	FileName   string    `json:"file_name"`
	Chunks     int       `json:"chunks"`
	SyncState  SyncState `json:"sync_state"`
	Error      string    `json:"error,omitempty"`
}
