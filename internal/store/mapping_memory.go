package store

import (
	"context"
	"sync"

	"github.com/osmotic/tessera/internal/domain"
)

// MemoryMappingStore keeps the forward "system:id" index, the reverse
// holon index, and registered precedence rules.
type MemoryMappingStore struct {
	mu      sync.RWMutex
	forward map[string]*domain.IDMapping
	reverse map[string][]*domain.IDMapping
	rules   []domain.PrecedenceRule
}

func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{
		forward: make(map[string]*domain.IDMapping),
		reverse: make(map[string][]*domain.IDMapping),
	}
}

func (s *MemoryMappingStore) Put(ctx context.Context, m *domain.IDMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	key := m.Key()
	if prev, ok := s.forward[key]; ok {
		// Upsert in place: replace in the reverse index of the same holon.
		for i, r := range s.reverse[prev.HolonID] {
			if r.Key() == key {
				s.reverse[prev.HolonID][i] = &cp
				s.forward[key] = &cp
				return nil
			}
		}
	}
	s.forward[key] = &cp
	s.reverse[m.HolonID] = append(s.reverse[m.HolonID], &cp)
	return nil
}

func (s *MemoryMappingStore) ByExternalKey(ctx context.Context, system, externalID string) (*domain.IDMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.forward[domain.MappingKey(system, externalID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMappingStore) ByHolon(ctx context.Context, holonID string) ([]domain.IDMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.IDMapping
	for _, m := range s.reverse[holonID] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemoryMappingStore) AddPrecedenceRule(ctx context.Context, r *domain.PrecedenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = append(s.rules, *r)
	return nil
}

func (s *MemoryMappingStore) PrecedenceRules(ctx context.Context) ([]domain.PrecedenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PrecedenceRule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}
