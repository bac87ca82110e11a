package domain

import (
	"time"

	"github.com/google/uuid"
)

// IDMapping binds an external (system, id) pair to exactly one holon for its
// lifetime. A holon may carry mappings from many systems.
type IDMapping struct {
	ExternalSystem string     `json:"external_system"`
	ExternalID     string     `json:"external_id"`
	HolonID        string     `json:"holon_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastVerified   *time.Time `json:"last_verified,omitempty"`
	Confidence     float64    `json:"confidence"`
}

// Key returns the forward lookup key for the mapping's external identity.
func (m *IDMapping) Key() string {
	return MappingKey(m.ExternalSystem, m.ExternalID)
}

func MappingKey(system, externalID string) string {
	return system + ":" + externalID
}

// PrecedenceRule gives a (document, set-of-systems) pair tie-break authority
// during conflict resolution. Rules are consulted in descending priority.
type PrecedenceRule struct {
	ID              uuid.UUID      `json:"id"`
	SourceDocument  uuid.UUID      `json:"source_document"`
	ExternalSystems []string       `json:"external_systems"`
	Priority        int            `json:"priority"`
	EffectiveDates  EffectiveDates `json:"effective_dates"`
}

// Covers reports whether the rule speaks for the given external system.
func (r *PrecedenceRule) Covers(system string) bool {
	for _, s := range r.ExternalSystems {
		if s == system {
			return true
		}
	}
	return false
}

// ExternalData is the sole envelope external system integrations submit.
type ExternalData struct {
	ExternalSystem string         `json:"external_system"`
	ExternalID     string         `json:"external_id"`
	DataType       string         `json:"data_type"`
	Payload        map[string]any `json:"payload"`
	Timestamp      time.Time      `json:"timestamp"`
	SourceDocument string         `json:"source_document,omitempty"`
}

// ExternalRef identifies an entity as one external system knows it.
type ExternalRef struct {
	System string `json:"system"`
	ID     string `json:"id"`
}

// ConsistencyReport is the outcome of checking that a set of external refs
// all resolve to the same holon.
type ConsistencyReport struct {
	Consistent bool     `json:"consistent"`
	HolonID    string   `json:"holon_id,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
}
