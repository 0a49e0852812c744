// Package memory is a process-local vector store for anonymous session
// uploads. Records never touch the durable index; sessions are capped
// and the least recently used one is evicted wholesale when the cap is
// exceeded.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/core/vectorstore"
	"github.com/docbot-labs/docbot/internal/models"
)

// DefaultMaxSessions bounds how many anonymous sessions are held at
// once before eviction kicks in.
const DefaultMaxSessions = 256

type session struct {
	id      string
	records map[string]models.VectorRecord
}

// Store implements core.VectorStore with brute-force cosine search.
// Suitable for the session-upload volumes it serves, not for the
// durable index.
type Store struct {
	mu          sync.Mutex
	dim         int
	maxSessions int

	order    *list.List               // front = most recently used
	sessions map[string]*list.Element // session id -> order element
}

func New(maxSessions int) *Store {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{
		maxSessions: maxSessions,
		order:       list.New(),
		sessions:    make(map[string]*list.Element),
	}
}

func (s *Store) EnsureIndex(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("ensure index: invalid dimension %d", dimension)
	}
	s.mu.Lock()
	s.dim = dimension
	s.mu.Unlock()
	return nil
}

// Upsert writes records keyed by ID under their session, touching the
// session's recency and evicting the oldest session past the cap.
func (s *Store) Upsert(_ context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		r := records[i]
		if r.SessionID == "" {
			return fmt.Errorf("upsert record %s: session store requires a session id", r.ID)
		}
		if s.dim > 0 && len(r.Embedding) != s.dim {
			return fmt.Errorf("upsert record %s: %w (got %d, want %d)",
				r.ID, vectorstore.ErrDimensionMismatch, len(r.Embedding), s.dim)
		}
		sess := s.touch(r.SessionID)
		sess.records[r.ID] = r
	}
	for s.order.Len() > s.maxSessions {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.sessions, oldest.Value.(*session).id)
	}
	return nil
}

// DeleteByFilter drops every record matching the scope; nothing
// matching is a no-op success.
func (s *Store) DeleteByFilter(_ context.Context, scope models.Scope) error {
	if !scope.Valid() {
		return vectorstore.ErrInvalidScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, el := range s.sessions {
		sess := el.Value.(*session)
		for id, r := range sess.records {
			if matches(r, scope) {
				delete(sess.records, id)
			}
		}
	}
	return nil
}

// Query is a brute-force cosine search over the scoped records,
// ranked best-first.
func (s *Store) Query(_ context.Context, vector []float32, topK int, scope models.Scope) ([]models.Match, error) {
	if !scope.Valid() {
		return nil, vectorstore.ErrInvalidScope
	}
	if topK <= 0 {
		topK = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope.Kind == models.ScopeSessionSource {
		if el, ok := s.sessions[scope.SessionID]; ok {
			s.order.MoveToFront(el)
		}
	}

	var out []models.Match
	for _, el := range s.sessions {
		sess := el.Value.(*session)
		for _, r := range sess.records {
			if !matches(r, scope) {
				continue
			}
			out = append(out, models.Match{
				ID:         r.ID,
				Score:      cosine(vector, r.Embedding),
				DocumentID: r.DocumentID,
				OwnerID:    r.OwnerID,
				SessionID:  r.SessionID,
				SourceType: r.SourceType,
				FileName:   r.FileName,
				ChunkIndex: r.ChunkIndex,
				Text:       r.Text,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// touch returns the session bucket, creating it if needed, and marks
// it most recently used.
func (s *Store) touch(id string) *session {
	if el, ok := s.sessions[id]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*session)
	}
	sess := &session{id: id, records: make(map[string]models.VectorRecord)}
	s.sessions[id] = s.order.PushFront(sess)
	return sess
}

func matches(r models.VectorRecord, scope models.Scope) bool {
	switch scope.Kind {
	case models.ScopeDocument:
		return r.DocumentID == scope.DocumentID
	case models.ScopeOwnerSource:
		return r.OwnerID == scope.OwnerID && r.SourceType == scope.SourceType
	case models.ScopeSessionSource:
		return r.SessionID == scope.SessionID && r.SourceType == scope.SourceType
	default:
		return false
	}
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ core.VectorStore = (*Store)(nil)
