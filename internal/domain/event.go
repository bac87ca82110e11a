package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeOrganizationCreated     EventType = "OrganizationCreated"
	EventTypePersonCreated           EventType = "PersonCreated"
	EventTypePositionCreated         EventType = "PositionCreated"
	EventTypeAssignmentStarted       EventType = "AssignmentStarted"
	EventTypeAssignmentEnded         EventType = "AssignmentEnded"
	EventTypeRelationshipEstablished EventType = "RelationshipEstablished"
	EventTypeDocumentRegistered      EventType = "DocumentRegistered"
	EventTypeCorrectionApplied       EventType = "CorrectionApplied"
	EventTypeExternalDataReceived    EventType = "ExternalDataReceived"
)

func ValidEventType(t string) bool {
	switch EventType(t) {
	case EventTypeOrganizationCreated, EventTypePersonCreated, EventTypePositionCreated,
		EventTypeAssignmentStarted, EventTypeAssignmentEnded, EventTypeRelationshipEstablished,
		EventTypeDocumentRegistered, EventTypeCorrectionApplied, EventTypeExternalDataReceived:
		return true
	}
	return false
}

// ValidityWindow bounds the interval a fact asserted by an event holds for.
type ValidityWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CausalLinks connects an event to the events that precede, cause, or group with it.
type CausalLinks struct {
	PrecededBy  []uuid.UUID `json:"preceded_by,omitempty"`
	CausedBy    []uuid.UUID `json:"caused_by,omitempty"`
	GroupedWith []uuid.UUID `json:"grouped_with,omitempty"`
}

func (c CausalLinks) clone() CausalLinks {
	return CausalLinks{
		PrecededBy:  copyUUIDs(c.PrecededBy),
		CausedBy:    copyUUIDs(c.CausedBy),
		GroupedWith: copyUUIDs(c.GroupedWith),
	}
}

// Event is an immutable record of something that happened. Once appended to
// the log it is never updated or deleted; corrections are new events linked
// through CausalLinks.CausedBy.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	Type           EventType       `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RecordedAt     time.Time       `json:"recorded_at"`
	Actor          string          `json:"actor"`
	Subjects       []string        `json:"subjects"`
	Payload        map[string]any  `json:"payload"`
	SourceSystem   string          `json:"source_system"`
	SourceDocument string          `json:"source_document,omitempty"`
	ValidityWindow *ValidityWindow `json:"validity_window,omitempty"`
	CausalLinks    CausalLinks     `json:"causal_links"`
}

// Clone returns a deep copy. The log hands out clones so callers can never
// reach the stored record through a shared reference.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Subjects = copyStrings(e.Subjects)
	out.Payload = copyPayload(e.Payload)
	out.CausalLinks = e.CausalLinks.clone()
	if e.ValidityWindow != nil {
		w := *e.ValidityWindow
		out.ValidityWindow = &w
	}
	return &out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyUUIDs(in []uuid.UUID) []uuid.UUID {
	if in == nil {
		return nil
	}
	out := make([]uuid.UUID, len(in))
	copy(out, in)
	return out
}

// copyPayload deep-copies nested maps and slices so a stored payload never
// aliases caller-owned data.
func copyPayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyPayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// EventFilter selects events from the log. Zero-valued fields match
// everything; set fields compose with AND. Start/End are inclusive.
type EventFilter struct {
	Types       []EventType
	Start       *time.Time
	End         *time.Time
	Actor       string
	AnySubjects []string
}

// Matches reports whether the event passes every set field of the filter.
func (f EventFilter) Matches(e *Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Start != nil && e.OccurredAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.OccurredAt.After(*f.End) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if len(f.AnySubjects) > 0 {
		found := false
		for _, want := range f.AnySubjects {
			for _, s := range e.Subjects {
				if s == want {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
