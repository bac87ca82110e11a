package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
)

// MemoryConstraintStore keeps constraints keyed by id and by every type in
// their scope. Constraints are immutable after Create.
type MemoryConstraintStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*domain.Constraint
	byHol  map[string][]uuid.UUID
	byRel  map[string][]uuid.UUID
	byEvt  map[domain.EventType][]uuid.UUID
	insert []uuid.UUID
}

func NewMemoryConstraintStore() *MemoryConstraintStore {
	return &MemoryConstraintStore{
		byID:  make(map[uuid.UUID]*domain.Constraint),
		byHol: make(map[string][]uuid.UUID),
		byRel: make(map[string][]uuid.UUID),
		byEvt: make(map[domain.EventType][]uuid.UUID),
	}
}

func (s *MemoryConstraintStore) Create(ctx context.Context, c *domain.Constraint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.byID[c.ID] = &cp
	s.insert = append(s.insert, c.ID)
	for _, t := range c.Scope.HolonTypes {
		s.byHol[t] = append(s.byHol[t], c.ID)
	}
	for _, t := range c.Scope.RelationshipTypes {
		s.byRel[t] = append(s.byRel[t], c.ID)
	}
	for _, t := range c.Scope.EventTypes {
		s.byEvt[t] = append(s.byEvt[t], c.ID)
	}
	return nil
}

func (s *MemoryConstraintStore) Get(ctx context.Context, id uuid.UUID) (*domain.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConstraintStore) ByHolonType(ctx context.Context, holonType string) ([]domain.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byHol[holonType]), nil
}

func (s *MemoryConstraintStore) ByRelationshipType(ctx context.Context, relType string) ([]domain.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byRel[relType]), nil
}

func (s *MemoryConstraintStore) ByEventType(ctx context.Context, eventType domain.EventType) ([]domain.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byEvt[eventType]), nil
}

func (s *MemoryConstraintStore) All(ctx context.Context) ([]domain.Constraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.insert), nil
}

func (s *MemoryConstraintStore) collect(ids []uuid.UUID) []domain.Constraint {
	var out []domain.Constraint
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	return out
}
