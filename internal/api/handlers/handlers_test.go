package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/docbot-labs/docbot/internal/api/middlewares"
	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/core/ingest"
	"github.com/docbot-labs/docbot/internal/core/retrieval"
	"github.com/docbot-labs/docbot/internal/models"
	"github.com/docbot-labs/docbot/internal/notify"
)

const testSecret = "test-secret"

type fakeDB struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newFakeDB() *fakeDB { return &fakeDB{docs: make(map[string]*models.Document)} }

func (f *fakeDB) CreateDocument(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDB) GetDocumentByDriveFile(_ context.Context, _, _ string) (*models.Document, error) {
	return nil, nil
}

func (f *fakeDB) ListDocumentsByOwner(_ context.Context, ownerID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.docs {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateSyncState(_ context.Context, id string, state models.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		d.SyncState = state
	}
	return nil
}

func (f *fakeDB) UpdateDocumentContent(_ context.Context, id, mimeType string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		d.MimeType = mimeType
		d.SizeBytes = sizeBytes
	}
	return nil
}

func (f *fakeDB) UserExists(_ context.Context, _ string) (bool, error) { return true, nil }
func (f *fakeDB) Close() error                                         { return nil }

var (
	_ core.DbClient     = (*fakeDB)(nil)
	_ core.ObjectClient = (*fakeObj)(nil)
	_ core.VectorStore  = (*fakeStore)(nil)
)

type fakeObj struct {
	mu     sync.Mutex
	writes int
	data   map[string][]byte
}

func newFakeObj() *fakeObj { return &fakeObj{data: make(map[string][]byte)} }

func (f *fakeObj) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.data[bucket+"/"+key] = data
	return fmt.Sprintf("https://%s.s3.us-east-2.amazonaws.com/%s", bucket, key), nil
}

func (f *fakeObj) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.data[bucket+"/"+key]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no such object")
}

func (f *fakeObj) DeleteFile(_ context.Context, _, _ string) error { return nil }

type fakeEmbedder struct {
	mu         sync.Mutex
	queryCalls int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i)}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	return []float32{1, 0}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records []models.VectorRecord
}

func (f *fakeStore) EnsureIndex(_ context.Context, _ int) error { return nil }

func (f *fakeStore) Upsert(_ context.Context, records []models.VectorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) DeleteByFilter(_ context.Context, scope models.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.records[:0]
	for _, r := range f.records {
		if !(scope.Kind == models.ScopeDocument && r.DocumentID == scope.DocumentID) {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return nil
}

func (f *fakeStore) Query(_ context.Context, _ []float32, topK int, scope models.Scope) ([]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Match
	for _, r := range f.records {
		match := false
		switch scope.Kind {
		case models.ScopeDocument:
			match = r.DocumentID == scope.DocumentID
		case models.ScopeOwnerSource:
			match = r.OwnerID == scope.OwnerID && r.SourceType == scope.SourceType
		case models.ScopeSessionSource:
			match = r.SessionID == scope.SessionID && r.SourceType == scope.SourceType
		}
		if match {
			out = append(out, models.Match{
				DocumentID: r.DocumentID, FileName: r.FileName,
				ChunkIndex: r.ChunkIndex, Text: r.Text, Score: 0.9,
			})
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, data []byte, _, _ string) (string, error) {
	return string(data), nil
}

// fakeLLM answers "Paris" when any context chunk mentions it.
type fakeLLM struct{}

func (fakeLLM) GenerateStream(_ context.Context, _, userPrompt string) (<-chan models.StreamEvent, error) {
	out := make(chan models.StreamEvent, 4)
	if strings.Contains(userPrompt, "Paris") {
		out <- models.StreamEvent{Token: "Paris"}
	} else {
		out <- models.StreamEvent{Token: "I could not find that in the documents."}
	}
	out <- models.StreamEvent{Done: true}
	close(out)
	return out, nil
}

type testEnv struct {
	router   *chi.Mux
	db       *fakeDB
	obj      *fakeObj
	durable  *fakeStore
	session  *fakeStore
	embedder *fakeEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       newFakeDB(),
		obj:      newFakeObj(),
		durable:  &fakeStore{},
		session:  &fakeStore{},
		embedder: &fakeEmbedder{},
	}

	broker := notify.NewBroker()
	svc := ingest.NewService(env.db, env.obj, env.durable, env.session, env.embedder, fakeExtractor{}, broker, ingest.Config{
		Bucket:       "test-bucket",
		TargetTokens: 50,
		UpsertBatch:  10,
		Workers:      2,
	})
	answerer := retrieval.NewAnswerer(env.embedder, env.durable, env.session, fakeLLM{}, 3, 3)

	docHandler := NewDocumentHandler(env.db, svc)
	publicHandler := NewPublicHandler(svc)
	chatHandler := NewChatHandler(env.db, answerer)

	r := chi.NewRouter()
	r.Group(func(public chi.Router) {
		public.Use(middleware.Session)
		public.Post("/api/public/upload", publicHandler.UploadDocuments)
	})
	r.Group(func(mixed chi.Router) {
		mixed.Use(middleware.OptionalAuth(testSecret))
		mixed.Post("/api/chat/query", chatHandler.Query)
	})
	r.Group(func(protected chi.Router) {
		protected.Use(middleware.JWTAuth(testSecret))
		protected.Post("/api/documents/upload", docHandler.UploadDocuments)
		protected.Get("/api/documents", docHandler.GetDocuments)
		protected.Post("/api/documents/{id}/sync", docHandler.ResyncDocument)
	})
	env.router = r
	return env
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func multipartBody(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type uploadResponse struct {
	SessionID string               `json:"session_id"`
	Files     []models.FileSummary `json:"files"`
}

func TestUploadRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, "notes.txt", "text/plain", "hello")
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadUnsupportedFileWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, "virus.exe", "application/octet-stream", "MZ...")
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Contains(t, resp.Files[0].Error, "Unsupported file type for virus.exe")

	// Nothing was parked or indexed for the rejected file.
	assert.Zero(t, env.obj.writes)
	assert.Empty(t, env.durable.records)
	assert.Empty(t, env.db.docs)
}

func TestUploadThenChatRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "france.txt", "text/plain", "The capital of France is Paris.")
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	require.Len(t, up.Files, 1)
	require.Equal(t, models.SyncSynced, up.Files[0].SyncState)
	docID := up.Files[0].DocumentID

	chatBody, err := json.Marshal(ChatRequest{Query: "What is the capital of France?", DocumentID: docID})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(chatBody))
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	tokens, final := decodeSSE(t, rec.Body.String())
	assert.Equal(t, "Paris", tokens)
	require.True(t, final.Done)
	require.NotEmpty(t, final.Sources)
	assert.Equal(t, docID, final.Sources[0].DocumentID)
	assert.Equal(t, "france.txt", final.Sources[0].FileName)
}

func TestChatEmptyQueryRejectedBeforeEmbedding(t *testing.T) {
	env := newTestEnv(t)

	chatBody, err := json.Marshal(ChatRequest{Query: "   ", SourceType: string(models.SourceLocalUpload)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(chatBody))
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.embedder.queryCalls)
}

func TestChatForeignDocumentIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateDocument(context.Background(), &models.Document{
		ID: "doc-1", OwnerID: "someone-else", FileName: "secret.txt",
	}))

	chatBody, err := json.Marshal(ChatRequest{Query: "what is in it?", DocumentID: "doc-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(chatBody))
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicUploadAndSessionChat(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "scratch.txt", "text/plain", "The capital of France is Paris.")
	req := httptest.NewRequest(http.MethodPost, "/api/public/upload", body)
	req.Header.Set("Content-Type", ct)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// A fresh session id is minted and echoed back.
	sessionID := rec.Header().Get("X-Session-ID")
	require.NotEmpty(t, sessionID)

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, sessionID, up.SessionID)
	require.Len(t, up.Files, 1)
	assert.Equal(t, models.SyncSynced, up.Files[0].SyncState)

	// Session records never reach the durable index.
	assert.Empty(t, env.durable.records)
	assert.NotEmpty(t, env.session.records)

	chatBody, err := json.Marshal(ChatRequest{Query: "What is the capital of France?"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(chatBody))
	req.Header.Set("X-Session-ID", sessionID)

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	tokens, final := decodeSSE(t, rec.Body.String())
	assert.Equal(t, "Paris", tokens)
	assert.True(t, final.Done)
}

func TestChatWithoutIdentityIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	chatBody, err := json.Marshal(ChatRequest{Query: "hello"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(chatBody))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResyncEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "doc.txt", "text/plain", "stable content for resync")
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	docID := up.Files[0].DocumentID
	before := len(env.durable.records)

	req = httptest.NewRequest(http.MethodPost, "/api/documents/"+docID+"/sync", nil)
	req.Header.Set("Authorization", bearerToken(t, "user-1"))

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum models.FileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, models.SyncSynced, sum.SyncState)

	// Purge-then-reinsert keeps the record count stable.
	assert.Equal(t, before, len(env.durable.records))
}

// decodeSSE splits an event-stream body into concatenated tokens and
// the terminal event.
func decodeSSE(t *testing.T, body string) (string, event) {
	t.Helper()
	var tokens strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		if ev.Done || ev.Error != "" {
			require.Empty(t, ev.Error)
			return tokens.String(), ev
		}
		tokens.WriteString(ev.Token)
	}
	t.Fatal("stream body had no terminal event")
	return "", event{}
}
