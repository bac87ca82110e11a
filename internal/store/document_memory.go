package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
)

// MemoryDocumentStore keeps documents, linkage records, and supersession
// edges in maps guarded by a single writer lock.
type MemoryDocumentStore struct {
	mu         sync.RWMutex
	docs       map[uuid.UUID]*domain.Document
	byType     map[domain.DocumentType][]uuid.UUID
	linkage    map[uuid.UUID]*domain.DocumentLinkage
	supersedes map[uuid.UUID][]uuid.UUID
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:       make(map[uuid.UUID]*domain.Document),
		byType:     make(map[domain.DocumentType][]uuid.UUID),
		linkage:    make(map[uuid.UUID]*domain.DocumentLinkage),
		supersedes: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *MemoryDocumentStore) Create(ctx context.Context, d *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.docs[d.ID] = &cp
	s.byType[d.Type] = append(s.byType[d.Type], d.ID)
	// Seed an empty linkage record so later links never need a null check.
	s.linkage[d.ID] = &domain.DocumentLinkage{DocumentID: d.ID}
	return nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryDocumentStore) ByType(ctx context.Context, t domain.DocumentType) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Document
	for _, id := range s.byType[t] {
		out = append(out, *s.docs[id])
	}
	return out, nil
}

func (s *MemoryDocumentStore) All(ctx context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (s *MemoryDocumentStore) Linkage(ctx context.Context, id uuid.UUID) (*domain.DocumentLinkage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.linkage[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryDocumentStore) UpdateLinkage(ctx context.Context, l *domain.DocumentLinkage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[l.DocumentID]; !ok {
		return ErrNotFound
	}
	s.linkage[l.DocumentID] = l.Clone()
	return nil
}

func (s *MemoryDocumentStore) AddSupersession(ctx context.Context, newID, oldID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.supersedes[newID] {
		if existing == oldID {
			return nil
		}
	}
	s.supersedes[newID] = append(s.supersedes[newID], oldID)
	return nil
}

func (s *MemoryDocumentStore) SupersessionTargets(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := s.supersedes[id]
	out := make([]uuid.UUID, len(targets))
	copy(out, targets)
	return out, nil
}
