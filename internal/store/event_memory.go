package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
)

// MemoryEventLog is the reference EventLog backend: an insertion-ordered
// slice plus incrementally maintained indices by id, subject holon, and
// event type. Events are never removed, so the indices never need
// reshuffling.
type MemoryEventLog struct {
	mu      sync.RWMutex
	ordered []*domain.Event
	byID    map[uuid.UUID]*domain.Event
	byHolon map[string][]*domain.Event
	byType  map[domain.EventType][]*domain.Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		byID:    make(map[uuid.UUID]*domain.Event),
		byHolon: make(map[string][]*domain.Event),
		byType:  make(map[domain.EventType][]*domain.Event),
	}
}

func (l *MemoryEventLog) Append(ctx context.Context, e *domain.Event) error {
	stored := e.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ordered = append(l.ordered, stored)
	l.byID[stored.ID] = stored
	for _, subject := range stored.Subjects {
		l.byHolon[subject] = append(l.byHolon[subject], stored)
	}
	l.byType[stored.Type] = append(l.byType[stored.Type], stored)
	return nil
}

func (l *MemoryEventLog) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (l *MemoryEventLog) List(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Narrow the scan through an index when the filter pins a single type or
	// subject; otherwise walk the insertion-ordered sequence.
	source := l.ordered
	if len(f.Types) == 1 {
		source = l.byType[f.Types[0]]
	} else if len(f.AnySubjects) == 1 {
		source = l.byHolon[f.AnySubjects[0]]
	}

	var out []domain.Event
	for _, e := range source {
		if f.Matches(e) {
			out = append(out, *e.Clone())
		}
	}
	return out, nil
}
