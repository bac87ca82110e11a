package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"go.uber.org/zap"
)

// ErrorCategory classifies a detailed validation error for audit consumers.
type ErrorCategory string

const (
	CategoryStructural  ErrorCategory = "structural"
	CategoryTemporal    ErrorCategory = "temporal"
	CategoryEligibility ErrorCategory = "eligibility"
	CategoryCapacity    ErrorCategory = "capacity"
	CategoryPolicy      ErrorCategory = "policy"
)

func categoryFor(t domain.ConstraintType) ErrorCategory {
	switch t {
	case domain.ConstraintTypeStructural:
		return CategoryStructural
	case domain.ConstraintTypeTemporal:
		return CategoryTemporal
	case domain.ConstraintTypeEligibility:
		return CategoryEligibility
	case domain.ConstraintTypeCapacity:
		return CategoryCapacity
	default:
		return CategoryPolicy
	}
}

// DetailedViolation decorates a raw constraint violation with the category,
// evaluation timestamp, and free-form context the audit log records.
type DetailedViolation struct {
	domain.ConstraintViolation
	Category  ErrorCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Context   string        `json:"context,omitempty"`
}

// EventValidation is the full verdict for one event, including the documents
// that were in force at the event's own timestamp.
type EventValidation struct {
	Valid         bool                `json:"valid"`
	Errors        []DetailedViolation `json:"errors,omitempty"`
	DocumentsUsed []uuid.UUID         `json:"documents_used"`
}

// BatchValidation reports every failing event by its index in the submitted
// batch. The batch is valid iff no event has any error; callers must not
// commit any event from an invalid batch.
type BatchValidation struct {
	Valid          bool                        `json:"valid"`
	ValidatedCount int                         `json:"validated_count"`
	Errors         map[int][]DetailedViolation `json:"errors,omitempty"`
}

// ValidationRecord is one append-only audit log entry.
type ValidationRecord struct {
	EventID    uuid.UUID `json:"event_id"`
	Valid      bool      `json:"valid"`
	ErrorCount int       `json:"error_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationLogFilter narrows audit log reads. Nil fields match everything.
type ValidationLogFilter struct {
	EventID   *uuid.UUID
	StartTime *time.Time
}

// CompensationMetadata authorizes and explains a corrective event.
type CompensationMetadata struct {
	Reason         string `json:"reason"`
	CorrectionType string `json:"correction_type"`
	AuthorizedBy   string `json:"authorized_by"`
}

// ValidationService orchestrates the constraint engine and the document
// registry to validate events, adds the temporal and causal checks the
// engine does not do, and keeps the compliance-facing audit log.
type ValidationService struct {
	engine   *ConstraintEngineService
	registry *RegistryService
	events   *EventStoreService
	skew     time.Duration
	logger   *zap.Logger

	mu  sync.Mutex
	log []ValidationRecord
}

func NewValidationService(engine *ConstraintEngineService, registry *RegistryService, events *EventStoreService, skew time.Duration, logger *zap.Logger) *ValidationService {
	if skew <= 0 {
		skew = DefaultClockSkewTolerance
	}
	return &ValidationService{
		engine:   engine,
		registry: registry,
		events:   events,
		skew:     skew,
		logger:   logger,
	}
}

// ValidateEventWithDetails validates one event: temporal and causal checks
// first, then every applicable constraint selected as of the event's own
// OccurredAt. DocumentsUsed records which documents were in force at that
// instant regardless of the verdict. Every call appends an audit record.
func (s *ValidationService) ValidateEventWithDetails(ctx context.Context, e *domain.Event) (*EventValidation, error) {
	now := time.Now().UTC()

	var detailed []DetailedViolation
	for _, v := range s.temporalViolations(ctx, e) {
		detailed = append(detailed, DetailedViolation{
			ConstraintViolation: v,
			Category:            CategoryTemporal,
			Timestamp:           now,
			Context:             fmt.Sprintf("event type %s at %s", e.Type, e.OccurredAt.Format(time.RFC3339)),
		})
	}

	res, err := s.engine.ValidateEvent(ctx, e, nil)
	if err != nil {
		return nil, err
	}
	for _, v := range res.Errors {
		detailed = append(detailed, DetailedViolation{
			ConstraintViolation: v,
			Category:            s.categoryOf(ctx, v.ConstraintID),
			Timestamp:           now,
			Context:             fmt.Sprintf("event type %s at %s", e.Type, e.OccurredAt.Format(time.RFC3339)),
		})
	}

	inForce, err := s.registry.InForce(ctx, e.OccurredAt)
	if err != nil {
		return nil, err
	}
	used := make([]uuid.UUID, 0, len(inForce))
	for i := range inForce {
		used = append(used, inForce[i].ID)
	}

	out := &EventValidation{
		Valid:         len(detailed) == 0,
		Errors:        detailed,
		DocumentsUsed: used,
	}

	s.appendRecord(ValidationRecord{
		EventID:    e.ID,
		Valid:      out.Valid,
		ErrorCount: len(detailed),
		Timestamp:  now,
	})
	return out, nil
}

func (s *ValidationService) categoryOf(ctx context.Context, constraintID uuid.UUID) ErrorCategory {
	c, err := s.engine.Get(ctx, constraintID)
	if err != nil {
		return CategoryPolicy
	}
	return categoryFor(c.Type)
}

// ValidateBatch validates every event independently and collects failures
// into an index-to-errors map. All events are evaluated even after the first
// failure. The batch is valid iff no event has any error; nothing is ever
// committed here.
func (s *ValidationService) ValidateBatch(ctx context.Context, events []domain.Event) (*BatchValidation, error) {
	out := &BatchValidation{
		Valid:  true,
		Errors: make(map[int][]DetailedViolation),
	}
	for i := range events {
		res, err := s.ValidateEventWithDetails(ctx, &events[i])
		if err != nil {
			return nil, err
		}
		out.ValidatedCount++
		if !res.Valid {
			out.Valid = false
			out.Errors[i] = res.Errors
		}
	}
	return out, nil
}

// ValidateTemporalConstraints runs the checks orthogonal to document-backed
// rules: the future bound on OccurredAt, causal ordering over CausedBy, and
// validity-window sanity. The first violation is returned as a
// *domain.TemporalError; nil means all checks passed.
func (s *ValidationService) ValidateTemporalConstraints(ctx context.Context, e *domain.Event) error {
	violations := s.temporalViolations(ctx, e)
	if len(violations) == 0 {
		return nil
	}
	return &domain.TemporalError{Op: "validate", Msg: violations[0].Message}
}

func (s *ValidationService) temporalViolations(ctx context.Context, e *domain.Event) []domain.ConstraintViolation {
	var out []domain.ConstraintViolation
	add := func(msg, rule string) {
		out = append(out, domain.ConstraintViolation{
			Message:        msg,
			ViolatedRule:   rule,
			AffectedHolons: e.Subjects,
		})
	}

	if e.OccurredAt.IsZero() {
		add("occurred_at is not a valid timestamp", "occurred_at must be a valid timestamp")
	} else if e.OccurredAt.After(time.Now().UTC().Add(s.skew)) {
		add(fmt.Sprintf("occurred_at %s is more than %s in the future", e.OccurredAt.Format(time.RFC3339), s.skew),
			"occurred_at must not exceed the clock-skew tolerance")
	}

	for _, causeID := range e.CausalLinks.CausedBy {
		cause, err := s.events.Get(ctx, causeID)
		if err != nil {
			add(fmt.Sprintf("causing event %s does not exist", causeID),
				"caused_by must reference stored events")
			continue
		}
		if cause.OccurredAt.After(e.OccurredAt) {
			add(fmt.Sprintf("causing event %s occurred at %s, after this event", causeID, cause.OccurredAt.Format(time.RFC3339)),
				"an event cannot be caused by something that happens after it")
		}
	}

	if e.ValidityWindow != nil && e.ValidityWindow.End.Before(e.ValidityWindow.Start) {
		add("validity window ends before it starts", "validity_window.start must not exceed validity_window.end")
	}
	return out
}

// CreateCompensatingEvent builds — but does not submit — a corrective event
// for the original. The draft preserves the original's subjects, takes the
// authorizer as actor, embeds the compensation metadata in the payload, and
// is causally linked to the original. The caller submits it through the
// normal validate-then-store path like any other event.
func (s *ValidationService) CreateCompensatingEvent(ctx context.Context, originalID uuid.UUID, meta CompensationMetadata, newPayload map[string]any) (*domain.Event, error) {
	original, err := s.events.Get(ctx, originalID)
	if err != nil {
		return nil, &domain.NotFoundError{Kind: "event", ID: originalID.String()}
	}

	payload := make(map[string]any, len(newPayload)+1)
	for k, v := range newPayload {
		payload[k] = v
	}
	payload["compensating_metadata"] = map[string]any{
		"original_event_id": originalID.String(),
		"reason":            meta.Reason,
		"correction_type":   meta.CorrectionType,
		"authorized_by":     meta.AuthorizedBy,
	}

	return &domain.Event{
		Type:         domain.EventTypeCorrectionApplied,
		OccurredAt:   time.Now().UTC(),
		Actor:        meta.AuthorizedBy,
		Subjects:     original.Subjects,
		Payload:      payload,
		SourceSystem: original.SourceSystem,
		CausalLinks:  domain.CausalLinks{CausedBy: []uuid.UUID{originalID}},
	}, nil
}

// ValidationLog returns audit records matching the filter, oldest first.
func (s *ValidationService) ValidationLog(filter ValidationLogFilter) []ValidationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ValidationRecord
	for _, r := range s.log {
		if filter.EventID != nil && r.EventID != *filter.EventID {
			continue
		}
		if filter.StartTime != nil && r.Timestamp.Before(*filter.StartTime) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ClearLog empties the audit log. Intended for tests and operator resets.
func (s *ValidationService) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}

func (s *ValidationService) appendRecord(r ValidationRecord) {
	s.mu.Lock()
	s.log = append(s.log, r)
	s.mu.Unlock()

	s.logger.Debug("validation recorded",
		zap.String("event_id", r.EventID.String()),
		zap.Bool("valid", r.Valid),
		zap.Int("errors", r.ErrorCount),
	)
}
