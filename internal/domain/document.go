package domain

import (
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentTypePolicy      DocumentType = "policy"
	DocumentTypeInstruction DocumentType = "instruction"
	DocumentTypeContract    DocumentType = "contract"
	DocumentTypeDirective   DocumentType = "directive"
)

func ValidDocumentType(t string) bool {
	switch DocumentType(t) {
	case DocumentTypePolicy, DocumentTypeInstruction, DocumentTypeContract, DocumentTypeDirective:
		return true
	}
	return false
}

// EffectiveDates is a half-open-by-absence window: a nil End means the
// window never closes.
type EffectiveDates struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the window, inclusive at both ends.
func (d EffectiveDates) Contains(t time.Time) bool {
	if t.Before(d.Start) {
		return false
	}
	if d.End != nil && t.After(*d.End) {
		return false
	}
	return true
}

// Document is an authoritative source text. Registered once; supersession
// edges and linkage accrue afterwards but the record itself never changes.
type Document struct {
	ID               uuid.UUID         `json:"id"`
	ReferenceNumbers []string          `json:"reference_numbers,omitempty"`
	Title            string            `json:"title"`
	Type             DocumentType      `json:"type"`
	Version          string            `json:"version"`
	EffectiveDates   EffectiveDates    `json:"effective_dates"`
	Classification   map[string]string `json:"classification,omitempty"`
	Content          string            `json:"content,omitempty"`
	Supersedes       []uuid.UUID       `json:"supersedes,omitempty"`
	DerivedFrom      []uuid.UUID       `json:"derived_from,omitempty"`
	CreatedBy        uuid.UUID         `json:"created_by"`
	RegisteredAt     time.Time         `json:"registered_at"`
}

// InForceAt reports whether the document applies at t.
func (d *Document) InForceAt(t time.Time) bool {
	return d.EffectiveDates.Contains(t)
}

// DocumentLinkage records what a document defines. Sets only grow, except
// through an explicit clear.
type DocumentLinkage struct {
	DocumentID    uuid.UUID   `json:"document_id"`
	HolonTypes    []string    `json:"holon_types,omitempty"`
	ConstraintIDs []uuid.UUID `json:"constraint_ids,omitempty"`
	MeasureIDs    []string    `json:"measure_ids,omitempty"`
	LensIDs       []string    `json:"lens_ids,omitempty"`
}

func (l *DocumentLinkage) Clone() *DocumentLinkage {
	if l == nil {
		return nil
	}
	return &DocumentLinkage{
		DocumentID:    l.DocumentID,
		HolonTypes:    copyStrings(l.HolonTypes),
		ConstraintIDs: copyUUIDs(l.ConstraintIDs),
		MeasureIDs:    copyStrings(l.MeasureIDs),
		LensIDs:       copyStrings(l.LensIDs),
	}
}

// HasConstraint reports whether the linkage names the constraint.
func (l *DocumentLinkage) HasConstraint(id uuid.UUID) bool {
	for _, c := range l.ConstraintIDs {
		if c == id {
			return true
		}
	}
	return false
}

// HasHolonType reports whether the linkage names the holon type.
func (l *DocumentLinkage) HasHolonType(t string) bool {
	for _, h := range l.HolonTypes {
		if h == t {
			return true
		}
	}
	return false
}
