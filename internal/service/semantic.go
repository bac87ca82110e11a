package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/store"
	"go.uber.org/zap"
)

var (
	ErrMappingNotFound    = errors.New("id mapping not found")
	ErrMappingEmptyFields = errors.New("system, external id, and holon id are required")
	ErrUnknownStrategy    = errors.New("unknown conflict resolution strategy")
)

// ConflictResolutionStrategy selects how duplicate-entity conflicts are
// settled during external submission.
type ConflictResolutionStrategy string

const (
	StrategyDocumentPrecedence ConflictResolutionStrategy = "document_precedence"
	StrategyMostRecent         ConflictResolutionStrategy = "most_recent"
	StrategyHighestConfidence  ConflictResolutionStrategy = "highest_confidence"
	StrategyManual             ConflictResolutionStrategy = "manual"
)

// DuplicateCandidate is an existing holon a duplicate finder suspects the
// incoming external entity already refers to.
type DuplicateCandidate struct {
	HolonID        string    `json:"holon_id"`
	ExternalSystem string    `json:"external_system"`
	Timestamp      time.Time `json:"timestamp"`
	Confidence     float64   `json:"confidence"`
}

// DuplicateFinder is the pluggable entity-resolution extension point. The
// default finder reports no candidates; the matching heuristic is a
// deliberate open decision.
type DuplicateFinder interface {
	FindCandidates(ctx context.Context, data *domain.ExternalData) ([]DuplicateCandidate, error)
}

type noopDuplicateFinder struct{}

func (noopDuplicateFinder) FindCandidates(ctx context.Context, data *domain.ExternalData) ([]DuplicateCandidate, error) {
	return nil, nil
}

// TransformationResult is the outcome of one external submission.
type TransformationResult struct {
	Success    bool                         `json:"success"`
	EventID    uuid.UUID                    `json:"event_id,omitempty"`
	HolonID    string                       `json:"holon_id,omitempty"`
	Created    bool                         `json:"created"`
	Violations []domain.ConstraintViolation `json:"violations,omitempty"`
	Conflict   string                       `json:"conflict,omitempty"`
}

// SemanticService reconciles external-system identifiers with internal holon
// identifiers and drives validated ingestion of external payloads. The
// lookup-validate-submit-map sequence runs under one writer lock: two
// concurrent submissions can never mint two holons for one external entity.
type SemanticService struct {
	mappings domain.MappingStore
	engine   *ConstraintEngineService
	events   *EventStoreService
	finder   DuplicateFinder
	logger   *zap.Logger

	mu sync.Mutex
}

func NewSemanticService(mappings domain.MappingStore, engine *ConstraintEngineService, events *EventStoreService, logger *zap.Logger) *SemanticService {
	return &SemanticService{
		mappings: mappings,
		engine:   engine,
		events:   events,
		finder:   noopDuplicateFinder{},
		logger:   logger,
	}
}

// SetDuplicateFinder swaps in an entity-resolution heuristic.
func (s *SemanticService) SetDuplicateFinder(f DuplicateFinder) {
	if f != nil {
		s.finder = f
	}
}

// MapExternalID asserts that (system, externalID) refers to holonID.
// Re-asserting an identical mapping refreshes LastVerified; asserting a
// different holon for an already-mapped key fails with a
// *domain.ConflictError and never overwrites.
func (s *SemanticService) MapExternalID(ctx context.Context, system, externalID, holonID string, confidence float64) error {
	if system == "" || externalID == "" || holonID == "" {
		return ErrMappingEmptyFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapLocked(ctx, system, externalID, holonID, confidence)
}

func (s *SemanticService) mapLocked(ctx context.Context, system, externalID, holonID string, confidence float64) error {
	existing, err := s.mappings.ByExternalKey(ctx, system, externalID)
	switch {
	case err == nil:
		if existing.HolonID == holonID {
			now := time.Now().UTC()
			existing.LastVerified = &now
			return s.mappings.Put(ctx, existing)
		}
		return &domain.ConflictError{
			System:        system,
			ExternalID:    externalID,
			ExistingHolon: existing.HolonID,
			NewHolon:      holonID,
		}
	case errors.Is(err, store.ErrNotFound):
		return s.mappings.Put(ctx, &domain.IDMapping{
			ExternalSystem: system,
			ExternalID:     externalID,
			HolonID:        holonID,
			CreatedAt:      time.Now().UTC(),
			Confidence:     confidence,
		})
	default:
		return err
	}
}

// HolonID resolves the internal holon for an external identity.
func (s *SemanticService) HolonID(ctx context.Context, system, externalID string) (string, error) {
	m, err := s.mappings.ByExternalKey(ctx, system, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrMappingNotFound
		}
		return "", err
	}
	return m.HolonID, nil
}

// ExternalIDs returns every external identity mapped to the holon.
func (s *SemanticService) ExternalIDs(ctx context.Context, holonID string) ([]domain.IDMapping, error) {
	return s.mappings.ByHolon(ctx, holonID)
}

// HasMappingFor reports whether the external identity is already mapped.
func (s *SemanticService) HasMappingFor(ctx context.Context, system, externalID string) bool {
	_, err := s.mappings.ByExternalKey(ctx, system, externalID)
	return err == nil
}

// QueryForSystem returns the external id a system uses for the holon.
func (s *SemanticService) QueryForSystem(ctx context.Context, system, holonID string) (string, error) {
	ms, err := s.mappings.ByHolon(ctx, holonID)
	if err != nil {
		return "", err
	}
	for _, m := range ms {
		if m.ExternalSystem == system {
			return m.ExternalID, nil
		}
	}
	return "", ErrMappingNotFound
}

type RegisterPrecedenceRuleInput struct {
	SourceDocument  uuid.UUID
	ExternalSystems []string
	Priority        int
	EffectiveDates  domain.EffectiveDates
}

// RegisterPrecedenceRule records tie-break authority for conflict resolution.
func (s *SemanticService) RegisterPrecedenceRule(ctx context.Context, in RegisterPrecedenceRuleInput) (*domain.PrecedenceRule, error) {
	r := &domain.PrecedenceRule{
		ID:              uuid.New(),
		SourceDocument:  in.SourceDocument,
		ExternalSystems: in.ExternalSystems,
		Priority:        in.Priority,
		EffectiveDates:  in.EffectiveDates,
	}
	if err := s.mappings.AddPrecedenceRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// dataTypeEvents is the fixed lookup from external dataType strings to
// internal event types. Unknown types fall back to the generic type rather
// than erroring.
var dataTypeEvents = map[string]domain.EventType{
	"organization": domain.EventTypeOrganizationCreated,
	"person":       domain.EventTypePersonCreated,
	"position":     domain.EventTypePositionCreated,
	"assignment":   domain.EventTypeAssignmentStarted,
	"relationship": domain.EventTypeRelationshipEstablished,
	"document":     domain.EventTypeDocumentRegistered,
}

func eventTypeFor(dataType string) domain.EventType {
	if t, ok := dataTypeEvents[dataType]; ok {
		return t
	}
	return domain.EventTypeExternalDataReceived
}

// SubmitExternalData runs the strictly ordered ingestion sequence: resolve
// the existing mapping, probe for duplicates, resolve conflicts per the
// strategy, transform the payload into a draft event, validate the draft,
// and only then append and record any new mapping. Validation sits fully
// between transformation and persistence; external data that fails it never
// reaches the log.
func (s *SemanticService) SubmitExternalData(ctx context.Context, data *domain.ExternalData, strategy ConflictResolutionStrategy) (*TransformationResult, error) {
	if strategy == "" {
		strategy = StrategyManual
	}
	switch strategy {
	case StrategyDocumentPrecedence, StrategyMostRecent, StrategyHighestConfidence, StrategyManual:
	default:
		return nil, ErrUnknownStrategy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Existing mapping.
	holonID := ""
	mapped := false
	if m, err := s.mappings.ByExternalKey(ctx, data.ExternalSystem, data.ExternalID); err == nil {
		holonID = m.HolonID
		mapped = true
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// 2-3. Duplicate probe and strategy resolution for unmapped entities.
	if !mapped {
		candidates, err := s.finder.FindCandidates(ctx, data)
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			resolved, conflict, err := s.resolve(ctx, strategy, data, candidates)
			if err != nil {
				return nil, err
			}
			if conflict != "" {
				s.logger.Warn("external submission deferred",
					zap.String("system", data.ExternalSystem),
					zap.String("external_id", data.ExternalID),
					zap.String("conflict", conflict),
				)
				return &TransformationResult{Success: false, Conflict: conflict}, nil
			}
			holonID = resolved
		}
	}

	// New entity: mint the holon id that becomes the event subject and,
	// after acceptance, the mapping target.
	created := false
	if holonID == "" {
		holonID = uuid.NewString()
		created = true
	}

	// 4. Transform to a draft event; the draft id exists only for
	// evaluation and is discarded.
	draft := &domain.Event{
		ID:             uuid.New(),
		Type:           eventTypeFor(data.DataType),
		OccurredAt:     data.Timestamp,
		Actor:          data.ExternalSystem,
		Subjects:       []string{holonID},
		Payload:        data.Payload,
		SourceSystem:   data.ExternalSystem,
		SourceDocument: data.SourceDocument,
	}

	// 5. Validate before any persistence.
	res, err := s.engine.ValidateEvent(ctx, draft, &data.Timestamp)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		s.logger.Info("external submission rejected",
			zap.String("system", data.ExternalSystem),
			zap.String("external_id", data.ExternalID),
			zap.Int("violations", len(res.Errors)),
		)
		return &TransformationResult{Success: false, HolonID: holonID, Violations: res.Errors}, nil
	}

	// 6. Append, then record the new mapping.
	stored, err := s.events.Submit(ctx, SubmitEventInput{
		Type:           draft.Type,
		OccurredAt:     draft.OccurredAt,
		Actor:          draft.Actor,
		Subjects:       draft.Subjects,
		Payload:        draft.Payload,
		SourceSystem:   draft.SourceSystem,
		SourceDocument: draft.SourceDocument,
	})
	if err != nil {
		return nil, err
	}

	if !mapped {
		if err := s.mapLocked(ctx, data.ExternalSystem, data.ExternalID, holonID, payloadConfidence(data)); err != nil {
			return nil, err
		}
	}

	return &TransformationResult{
		Success: true,
		EventID: stored.ID,
		HolonID: holonID,
		Created: created,
	}, nil
}

// resolve applies the strategy to the duplicate candidates. It returns
// either the holon to merge with, or a conflict description when the
// strategy defers or cannot decide.
func (s *SemanticService) resolve(ctx context.Context, strategy ConflictResolutionStrategy, data *domain.ExternalData, candidates []DuplicateCandidate) (string, string, error) {
	switch strategy {
	case StrategyManual:
		return "", fmt.Sprintf("%d potential duplicates require manual resolution", len(candidates)), nil

	case StrategyMostRecent:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Timestamp.After(best.Timestamp) {
				best = c
			}
		}
		if data.Timestamp.After(best.Timestamp) {
			// The incoming record is the latest assertion; keep it as a
			// new entity rather than merging into stale candidates.
			return "", "", nil
		}
		return best.HolonID, "", nil

	case StrategyHighestConfidence:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Confidence > best.Confidence {
				best = c
			}
		}
		if payloadConfidence(data) > best.Confidence {
			return "", "", nil
		}
		return best.HolonID, "", nil

	case StrategyDocumentPrecedence:
		rules, err := s.mappings.PrecedenceRules(ctx)
		if err != nil {
			return "", "", err
		}
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

		bestPriority := -1
		bestHolon := ""
		for _, c := range candidates {
			for _, r := range rules {
				if !r.Covers(c.ExternalSystem) || !r.EffectiveDates.Contains(c.Timestamp) {
					continue
				}
				if r.Priority > bestPriority {
					bestPriority = r.Priority
					bestHolon = c.HolonID
				}
				break
			}
		}
		if bestHolon == "" {
			return "", "no precedence rule covers any candidate system", nil
		}
		return bestHolon, "", nil
	}
	return "", "", ErrUnknownStrategy
}

func payloadConfidence(data *domain.ExternalData) float64 {
	if v, ok := data.Payload["confidence"]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case float32:
			return float64(f)
		case int:
			return float64(f)
		}
	}
	return 1.0
}

// EnsureMultiSystemConsistency resolves each ref to a holon id, skipping
// unmapped refs, and reports consistency iff at most one distinct holon
// remains. Zero resolved refs is consistent-with-no-holon.
func (s *SemanticService) EnsureMultiSystemConsistency(ctx context.Context, refs []domain.ExternalRef) (*domain.ConsistencyReport, error) {
	holons := make(map[string][]string)
	var order []string
	for _, ref := range refs {
		holonID, err := s.HolonID(ctx, ref.System, ref.ID)
		if err != nil {
			if errors.Is(err, ErrMappingNotFound) {
				continue
			}
			return nil, err
		}
		if _, ok := holons[holonID]; !ok {
			order = append(order, holonID)
		}
		holons[holonID] = append(holons[holonID], domain.MappingKey(ref.System, ref.ID))
	}

	switch len(order) {
	case 0:
		return &domain.ConsistencyReport{Consistent: true}, nil
	case 1:
		return &domain.ConsistencyReport{Consistent: true, HolonID: order[0]}, nil
	default:
		var conflicts []string
		for _, holonID := range order {
			for _, key := range holons[holonID] {
				conflicts = append(conflicts, fmt.Sprintf("%s resolves to %s", key, holonID))
			}
		}
		return &domain.ConsistencyReport{Consistent: false, Conflicts: conflicts}, nil
	}
}
