// Package ingest orchestrates the document pipeline: extract text,
// chunk it, embed the chunks in one batch, and upsert the resulting
// vector records under the document's scope.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/core/chunker"
	"github.com/docbot-labs/docbot/internal/core/extract"
	"github.com/docbot-labs/docbot/internal/core/vectorstore"
	"github.com/docbot-labs/docbot/internal/models"
	"github.com/docbot-labs/docbot/internal/notify"
)

// UploadFile is one file of a multi-file ingestion request.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Config tunes the pipeline.
type Config struct {
	Bucket        string
	TargetTokens  int
	OverlapTokens int
	UpsertBatch   int
	Workers       int
	SyncTimeout   time.Duration
}

// Service runs ingestion end to end. Durable stores serve
// authenticated uploads and drive files; the session store serves
// anonymous uploads and never mixes with the durable index.
type Service struct {
	db       core.DbClient
	obj      core.ObjectClient
	durable  core.VectorStore
	session  core.VectorStore
	embedder core.EmbeddingProvider
	extract  core.DocumentExtractor
	chunks   *chunker.Chunker
	broker   *notify.Broker
	cfg      Config

	mu    sync.Mutex
	locks map[string]*docLock // per-document, serializes re-syncs
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(
	db core.DbClient,
	obj core.ObjectClient,
	durable, session core.VectorStore,
	embedder core.EmbeddingProvider,
	extractor core.DocumentExtractor,
	broker *notify.Broker,
	cfg Config,
) *Service {
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = vectorstore.UpsertBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 5 * time.Minute
	}
	return &Service{
		db:       db,
		obj:      obj,
		durable:  durable,
		session:  session,
		embedder: embedder,
		extract:  extractor,
		chunks:   chunker.New(cfg.TargetTokens, cfg.OverlapTokens),
		broker:   broker,
		cfg:      cfg,
		locks:    make(map[string]*docLock),
	}
}

// IngestLocalFiles registers and syncs a batch of uploaded files for
// an authenticated user. Files are processed concurrently and each
// file succeeds or fails on its own; one bad file never aborts the
// batch.
func (s *Service) IngestLocalFiles(ctx context.Context, p models.Principal, files []UploadFile) ([]models.FileSummary, error) {
	if p.OwnerID == "" {
		return nil, fmt.Errorf("local upload requires an authenticated owner")
	}
	ok, err := s.db.UserExists(ctx, p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("verify owner: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("unknown owner: %s", p.OwnerID)
	}

	summaries := make([]models.FileSummary, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i := range files {
		i := i
		g.Go(func() error {
			summaries[i] = s.ingestLocalOne(gctx, p, files[i])
			return nil
		})
	}
	_ = g.Wait()
	return summaries, nil
}

func (s *Service) ingestLocalOne(ctx context.Context, p models.Principal, f UploadFile) models.FileSummary {
	doc := &models.Document{
		ID:         uuid.NewString(),
		OwnerID:    p.OwnerID,
		SourceType: models.SourceLocalUpload,
		FileName:   f.Name,
		MimeType:   f.ContentType,
		SizeBytes:  int64(len(f.Data)),
		SyncState:  models.SyncUnsynced,
	}

	// Park the raw bytes so later re-syncs don't need a re-upload.
	key := fmt.Sprintf("uploads/%s/%s/%s", p.OwnerID, doc.ID, f.Name)
	url, err := s.obj.UploadFile(ctx, s.cfg.Bucket, key, f.Data, f.ContentType)
	if err != nil {
		return models.FileSummary{FileName: f.Name, SyncState: models.SyncFailed, Error: fmt.Sprintf("store upload: %v", err)}
	}
	doc.StorageURL = url

	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return models.FileSummary{FileName: f.Name, SyncState: models.SyncFailed, Error: fmt.Sprintf("register document: %v", err)}
	}

	n, err := s.syncDocument(ctx, doc, f.Data)
	return s.summarize(doc, n, err)
}

// IngestSessionFiles syncs anonymous uploads into the process-local
// session store. Nothing durable is written; the session's records
// live until evicted.
func (s *Service) IngestSessionFiles(ctx context.Context, sessionID string, files []UploadFile) ([]models.FileSummary, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session upload requires a session id")
	}

	summaries := make([]models.FileSummary, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i := range files {
		i := i
		g.Go(func() error {
			f := files[i]
			doc := &models.Document{
				ID:         uuid.NewString(),
				SessionID:  sessionID,
				SourceType: models.SourceSessionUpload,
				FileName:   f.Name,
				MimeType:   f.ContentType,
				SizeBytes:  int64(len(f.Data)),
			}
			fctx, cancel := context.WithTimeout(gctx, s.cfg.SyncTimeout)
			defer cancel()
			n, err := s.runPipeline(fctx, doc, f.Data, s.session)
			summaries[i] = s.summarize(doc, n, err)
			return nil
		})
	}
	_ = g.Wait()
	return summaries, nil
}

// Resync re-runs the pipeline for an already registered document,
// purging its previous vector records first. The stored upload is the
// source of bytes.
func (s *Service) Resync(ctx context.Context, p models.Principal, documentID string) (models.FileSummary, error) {
	doc, err := s.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return models.FileSummary{}, fmt.Errorf("load document: %w", err)
	}
	if doc == nil || doc.OwnerID != p.OwnerID {
		return models.FileSummary{}, fmt.Errorf("document not found: %s", documentID)
	}

	data, err := s.fetchStored(ctx, doc)
	if err != nil {
		return models.FileSummary{}, err
	}

	n, err := s.syncDocument(ctx, doc, data)
	return s.summarize(doc, n, err), nil
}

// SyncDriveFile ingests one drive file for the user, re-syncing in
// place if the file was synced before. Provider-native documents are
// exported server-side; everything else is downloaded as-is.
func (s *Service) SyncDriveFile(ctx context.Context, dc core.DriveClient, p models.Principal, fileID string) (models.FileSummary, error) {
	if p.OwnerID == "" {
		return models.FileSummary{}, fmt.Errorf("drive sync requires an authenticated owner")
	}

	meta, err := dc.GetMetadata(ctx, fileID)
	if err != nil {
		return models.FileSummary{}, err
	}

	data, contentType, err := fetchDriveContent(ctx, dc, meta)
	if err != nil {
		return models.FileSummary{}, err
	}

	doc, err := s.db.GetDocumentByDriveFile(ctx, p.OwnerID, fileID)
	if err != nil {
		return models.FileSummary{}, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		doc = &models.Document{
			ID:          uuid.NewString(),
			OwnerID:     p.OwnerID,
			SourceType:  models.SourceDriveSync,
			DriveFileID: fileID,
			FileName:    meta.Name,
			MimeType:    contentType,
			SizeBytes:   int64(len(data)),
			SyncState:   models.SyncUnsynced,
		}
		if err := s.db.CreateDocument(ctx, doc); err != nil {
			return models.FileSummary{}, fmt.Errorf("register document: %w", err)
		}
	} else if doc.MimeType != contentType || doc.SizeBytes != int64(len(data)) {
		// The export format can change between syncs (rich export
		// succeeding one day and falling back the next); extraction
		// must see the type the bytes actually are.
		if err := s.db.UpdateDocumentContent(ctx, doc.ID, contentType, int64(len(data))); err != nil {
			return models.FileSummary{}, fmt.Errorf("refresh document content: %w", err)
		}
		doc.MimeType = contentType
		doc.SizeBytes = int64(len(data))
	}

	n, err := s.syncDocument(ctx, doc, data)
	return s.summarize(doc, n, err), nil
}

// fetchDriveContent resolves a drive file to extractable bytes. Native
// documents are exported as PDF first; if the rich export fails, plain
// text is the fallback.
func fetchDriveContent(ctx context.Context, dc core.DriveClient, meta *core.DriveFile) ([]byte, string, error) {
	if meta.MimeType != extract.MimeGoogleDoc {
		data, err := dc.Download(ctx, meta.ID)
		return data, meta.MimeType, err
	}

	data, err := dc.Export(ctx, meta.ID, extract.MimePdf)
	if err == nil {
		return data, extract.MimePdf, nil
	}
	log.Printf("drive: pdf export failed for %s, falling back to plain text: %v", meta.ID, err)

	data, err = dc.Export(ctx, meta.ID, extract.MimeText)
	if err != nil {
		return nil, "", fmt.Errorf("drive export %s: %w", meta.ID, err)
	}
	return data, extract.MimeText, nil
}

// syncDocument drives the registered-document state machine. The
// document always lands on synced or failed; processing never survives
// the call.
func (s *Service) syncDocument(ctx context.Context, doc *models.Document, data []byte) (chunks int, err error) {
	unlock := s.lock(doc.ID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	if err := s.db.UpdateSyncState(ctx, doc.ID, models.SyncProcessing); err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}
	doc.SyncState = models.SyncProcessing

	defer func() {
		if doc.SyncState == models.SyncProcessing {
			state := models.SyncSynced
			if err != nil {
				state = models.SyncFailed
			}
			if uerr := s.db.UpdateSyncState(context.WithoutCancel(ctx), doc.ID, state); uerr != nil {
				log.Printf("ingest: failed to finalize state for %s: %v", doc.ID, uerr)
			}
			doc.SyncState = state
		}
		s.publish(doc, err)
	}()

	chunks, err = s.runPipeline(ctx, doc, data, s.durable)
	return chunks, err
}

// runPipeline is the shared extract -> chunk -> embed -> upsert path.
// Re-syncs are idempotent: the document's previous records are purged
// before the new ones are written.
func (s *Service) runPipeline(ctx context.Context, doc *models.Document, data []byte, store core.VectorStore) (int, error) {
	text, err := s.extract.Extract(ctx, data, doc.MimeType, doc.FileName)
	if err != nil {
		return 0, err
	}

	chunks := s.chunks.Chunk(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced for %s", doc.FileName)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", doc.FileName, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.FileName, len(vectors), len(chunks))
	}

	now := time.Now().UTC()
	records := make([]models.VectorRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = models.VectorRecord{
			ID:         uuid.NewString(),
			Embedding:  vectors[i],
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			SessionID:  doc.SessionID,
			SourceType: doc.SourceType,
			FileName:   doc.FileName,
			ChunkIndex: ch.Index,
			Text:       ch.Text,
			CreatedAt:  now,
		}
	}

	// Purge-then-insert keeps re-syncs idempotent; deleting nothing on
	// a first sync is fine.
	if err := store.DeleteByFilter(ctx, models.ByDocument(doc.ID)); err != nil {
		return 0, fmt.Errorf("purge previous records for %s: %w", doc.ID, err)
	}
	for start := 0; start < len(records); start += s.cfg.UpsertBatch {
		end := start + s.cfg.UpsertBatch
		if end > len(records) {
			end = len(records)
		}
		if err := store.Upsert(ctx, records[start:end]); err != nil {
			return 0, fmt.Errorf("upsert records for %s: %w", doc.ID, err)
		}
	}
	return len(records), nil
}

func (s *Service) fetchStored(ctx context.Context, doc *models.Document) ([]byte, error) {
	bucket, key := parseS3URL(doc.StorageURL)
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("document %s has no stored upload", doc.ID)
	}
	data, err := s.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch stored upload: %w", err)
	}
	return data, nil
}

func (s *Service) summarize(doc *models.Document, chunks int, err error) models.FileSummary {
	sum := models.FileSummary{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		Chunks:     chunks,
		SyncState:  models.SyncSynced,
	}
	// Any error is a failed sync, whatever state the registry last
	// managed to persist.
	if err != nil {
		sum.SyncState = models.SyncFailed
		sum.Error = err.Error()
		sum.Chunks = 0
	} else if doc.SyncState != "" && doc.SyncState != models.SyncProcessing {
		sum.SyncState = doc.SyncState
	}
	return sum
}

func (s *Service) publish(doc *models.Document, err error) {
	if s.broker == nil {
		return
	}
	key := doc.OwnerID
	if key == "" {
		key = doc.SessionID
	}
	ev := notify.SyncEvent{DocumentID: doc.ID, Synced: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	s.broker.Publish(key, ev)
}

// lock serializes syncs of the same document within this process. The
// entry is reference counted and dropped once the last holder releases
// it, so the map never outgrows the set of in-flight documents.
func (s *Service) lock(docID string) func() {
	s.mu.Lock()
	l, ok := s.locks[docID]
	if !ok {
		l = &docLock{}
		s.locks[docID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, docID)
		}
		s.mu.Unlock()
	}
}

// parseS3URL extracts the bucket and key from a virtual-hosted style
// S3 URL, e.g. https://my-bucket.s3.us-east-2.amazonaws.com/path/file.pdf.
func parseS3URL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	if i := strings.Index(host, "."); i > 0 {
		bucket = host[:i]
	}
	return bucket, key
}
