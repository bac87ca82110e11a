package domain

import "fmt"

// TemporalError reports a bad or future timestamp, a causal-order violation,
// or a malformed validity window.
type TemporalError struct {
	Op  string
	Msg string
}

func (e *TemporalError) Error() string {
	return fmt.Sprintf("temporal error in %s: %s", e.Op, e.Msg)
}

// ValidationError carries one or more failed constraints. It is returned, not
// panicked, so callers can surface every violation at once.
type ValidationError struct {
	Violations []ConstraintViolation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Violations[0].Message)
	}
	return fmt.Sprintf("validation failed with %d violations", len(e.Violations))
}

// ConflictError reports an ID-mapping conflict or an unresolved
// multi-system inconsistency.
type ConflictError struct {
	System        string
	ExternalID    string
	ExistingHolon string
	NewHolon      string
	Msg           string
}

func (e *ConflictError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("mapping conflict: %s:%s already maps to %s, cannot remap to %s",
		e.System, e.ExternalID, e.ExistingHolon, e.NewHolon)
}

// NotFoundError reports a reference to a record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IngestionError reports an adapter-level failure, distinct from per-item
// transform or validation failures recorded in the pipeline summary.
type IngestionError struct {
	Stage string
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion %s failed: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}
