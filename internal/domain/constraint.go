package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConstraintType string

const (
	ConstraintTypeStructural  ConstraintType = "structural"
	ConstraintTypeEligibility ConstraintType = "eligibility"
	ConstraintTypeCapacity    ConstraintType = "capacity"
	ConstraintTypePolicy      ConstraintType = "policy"
	ConstraintTypeTemporal    ConstraintType = "temporal"
)

func ValidConstraintType(t string) bool {
	switch ConstraintType(t) {
	case ConstraintTypeStructural, ConstraintTypeEligibility, ConstraintTypeCapacity,
		ConstraintTypePolicy, ConstraintTypeTemporal:
		return true
	}
	return false
}

// ConstraintScope names the holon, relationship, and event types a
// constraint gates. At least one set must be non-empty.
type ConstraintScope struct {
	HolonTypes        []string    `json:"holon_types,omitempty"`
	RelationshipTypes []string    `json:"relationship_types,omitempty"`
	EventTypes        []EventType `json:"event_types,omitempty"`
}

func (s ConstraintScope) Empty() bool {
	return len(s.HolonTypes) == 0 && len(s.RelationshipTypes) == 0 && len(s.EventTypes) == 0
}

// InheritanceRules extends a constraint's reach to child types. InheritsFrom
// lists the child types that inherit the constraint in addition to its own
// scope. A same-named, higher-precedence constraint scoped directly to a
// child suppresses the inherited one unless CanOverride is explicitly false.
type InheritanceRules struct {
	InheritsFrom       []string `json:"inherits_from"`
	CanOverride        *bool    `json:"can_override,omitempty"`
	OverridePrecedence *int     `json:"override_precedence,omitempty"`
}

// Overridable reports whether the inherited constraint may be suppressed.
// Unset CanOverride defaults to overridable.
func (r *InheritanceRules) Overridable() bool {
	return r == nil || r.CanOverride == nil || *r.CanOverride
}

// InheritedBy reports whether targets of type t inherit this constraint.
func (r *InheritanceRules) InheritedBy(t string) bool {
	if r == nil {
		return false
	}
	for _, c := range r.InheritsFrom {
		if c == t {
			return true
		}
	}
	return false
}

// ConstraintViolation is one failed check from one constraint.
type ConstraintViolation struct {
	ConstraintID   uuid.UUID `json:"constraint_id"`
	Message        string    `json:"message"`
	ViolatedRule   string    `json:"violated_rule"`
	AffectedHolons []string  `json:"affected_holons,omitempty"`
}

// ValidationResult aggregates violations from every applicable constraint.
// Valid iff no constraint produced a violation.
type ValidationResult struct {
	Valid  bool                  `json:"valid"`
	Errors []ConstraintViolation `json:"errors,omitempty"`
}

// CheckFunc is the programmatic half of the rule duality: an arbitrary host
// predicate over the validation target.
type CheckFunc func(target any) ValidationResult

// Constraint is a rule gating creation or validity of holons, relationships,
// or events. Immutable after registration; it expires implicitly outside its
// effective window. Exactly one of Check and Rule carries the logic: Check is
// a Go callback, Rule is a declarative CEL expression over `target` and
// `params`.
type Constraint struct {
	ID              uuid.UUID         `json:"id"`
	Type            ConstraintType    `json:"type"`
	Name            string            `json:"name"`
	Definition      string            `json:"definition,omitempty"`
	Scope           ConstraintScope   `json:"scope"`
	EffectiveDates  EffectiveDates    `json:"effective_dates"`
	SourceDocuments []uuid.UUID       `json:"source_documents"`
	Check           CheckFunc         `json:"-"`
	Rule            string            `json:"rule,omitempty"`
	RuleParams      map[string]any    `json:"rule_params,omitempty"`
	Precedence      int               `json:"precedence"`
	Inheritance     *InheritanceRules `json:"inheritance,omitempty"`
	RegisteredAt    time.Time         `json:"registered_at"`
}

// ActiveAt reports whether the constraint is in force at t.
func (c *Constraint) ActiveAt(t time.Time) bool {
	return c.EffectiveDates.Contains(t)
}

// Declarative reports whether the constraint carries a CEL rule rather than
// a callback.
func (c *Constraint) Declarative() bool {
	return c.Check == nil && c.Rule != ""
}
