package domain

import (
	"time"

	"github.com/google/uuid"
)

type HolonStatus string

const (
	HolonStatusActive   HolonStatus = "active"
	HolonStatusInactive HolonStatus = "inactive"
	HolonStatusArchived HolonStatus = "archived"
)

// Holon is a generic first-class entity (person, organization, position,
// document, ...). Holon CRUD lives with the business managers; the governance
// core only validates holons and records events against them.
type Holon struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Properties      map[string]any `json:"properties,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CreatedBy       uuid.UUID      `json:"created_by"`
	Status          HolonStatus    `json:"status"`
	SourceDocuments []uuid.UUID    `json:"source_documents,omitempty"`
}

type AuthorityLevel string

const (
	AuthorityAuthoritative AuthorityLevel = "authoritative"
	AuthorityDerived       AuthorityLevel = "derived"
	AuthorityInferred      AuthorityLevel = "inferred"
)

func ValidAuthorityLevel(a string) bool {
	switch AuthorityLevel(a) {
	case AuthorityAuthoritative, AuthorityDerived, AuthorityInferred:
		return true
	}
	return false
}

// Relationship is a typed, directed edge between two holons. It is created by
// an event, validated at EffectiveStart, and never mutated in place.
type Relationship struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	SourceHolonID   string         `json:"source_holon_id"`
	TargetHolonID   string         `json:"target_holon_id"`
	Properties      map[string]any `json:"properties,omitempty"`
	EffectiveStart  time.Time      `json:"effective_start"`
	EffectiveEnd    *time.Time     `json:"effective_end,omitempty"`
	SourceSystem    string         `json:"source_system"`
	SourceDocuments []uuid.UUID    `json:"source_documents,omitempty"`
	CreatedBy       uuid.UUID      `json:"created_by"`
	AuthorityLevel  AuthorityLevel `json:"authority_level"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
}
