package domain

import (
	"context"

	"github.com/google/uuid"
)

// EventLog is the append-only persistence contract for events. The in-memory
// log is the reference backend; the Postgres log is the swappable durable one.
// Implementations return store.ErrNotFound for unknown ids and never mutate
// or delete appended events.
type EventLog interface {
	Append(ctx context.Context, e *Event) error
	Get(ctx context.Context, id uuid.UUID) (*Event, error)
	List(ctx context.Context, f EventFilter) ([]Event, error)
}

// DocumentStore persists documents, their linkage records, and supersession
// edges. Create seeds an empty linkage record so later links never need a
// null check.
type DocumentStore interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	ByType(ctx context.Context, t DocumentType) ([]Document, error)
	All(ctx context.Context) ([]Document, error)
	Linkage(ctx context.Context, id uuid.UUID) (*DocumentLinkage, error)
	UpdateLinkage(ctx context.Context, l *DocumentLinkage) error
	AddSupersession(ctx context.Context, newID, oldID uuid.UUID) error
	// SupersessionTargets returns the documents id directly supersedes.
	SupersessionTargets(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

// ConstraintStore persists constraints keyed by every type in their scope.
type ConstraintStore interface {
	Create(ctx context.Context, c *Constraint) error
	Get(ctx context.Context, id uuid.UUID) (*Constraint, error)
	ByHolonType(ctx context.Context, holonType string) ([]Constraint, error)
	ByRelationshipType(ctx context.Context, relType string) ([]Constraint, error)
	ByEventType(ctx context.Context, eventType EventType) ([]Constraint, error)
	All(ctx context.Context) ([]Constraint, error)
}

// MappingStore persists external-identity mappings (forward and reverse) and
// precedence rules. Conflict detection is the semantic layer's job; Put is a
// plain upsert.
type MappingStore interface {
	Put(ctx context.Context, m *IDMapping) error
	ByExternalKey(ctx context.Context, system, externalID string) (*IDMapping, error)
	ByHolon(ctx context.Context, holonID string) ([]IDMapping, error)
	AddPrecedenceRule(ctx context.Context, r *PrecedenceRule) error
	PrecedenceRules(ctx context.Context) ([]PrecedenceRule, error)
}
