package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/rules"
	"github.com/osmotic/tessera/internal/store"
	"go.uber.org/zap"
)

var (
	ErrConstraintNotFound     = errors.New("constraint not found")
	ErrConstraintInvalidType  = errors.New("invalid constraint type")
	ErrConstraintNoSource     = errors.New("constraint requires at least one source document")
	ErrConstraintNoLogic      = errors.New("constraint requires a check callback or a rule")
	ErrConstraintDualLogic    = errors.New("constraint cannot carry both a callback and a rule")
	ErrConstraintEmptyScope   = errors.New("constraint scope names no types")
	ErrConstraintMissingStart = errors.New("constraint effective start is required")
	ErrConstraintMissingName  = errors.New("constraint name is required")
)

// ConstraintEngineService registers rules and decides, for a target at an
// instant, which rules apply and whether they hold. Violations accumulate
// across constraints; evaluation never short-circuits.
type ConstraintEngineService struct {
	constraints domain.ConstraintStore
	registry    *RegistryService
	rules       *rules.Evaluator
	logger      *zap.Logger
}

func NewConstraintEngineService(cs domain.ConstraintStore, registry *RegistryService, evaluator *rules.Evaluator, logger *zap.Logger) *ConstraintEngineService {
	return &ConstraintEngineService{
		constraints: cs,
		registry:    registry,
		rules:       evaluator,
		logger:      logger,
	}
}

type RegisterConstraintInput struct {
	Type            domain.ConstraintType
	Name            string
	Definition      string
	Scope           domain.ConstraintScope
	EffectiveDates  domain.EffectiveDates
	SourceDocuments []uuid.UUID
	Check           domain.CheckFunc
	Rule            string
	RuleParams      map[string]any
	Precedence      int
	Inheritance     *domain.InheritanceRules
}

// Register stores a new constraint and links it back to each of its source
// documents through the registry. Every source document must already exist;
// a constraint with zero source documents is rejected outright.
func (s *ConstraintEngineService) Register(ctx context.Context, in RegisterConstraintInput) (*domain.Constraint, error) {
	if in.Name == "" {
		return nil, ErrConstraintMissingName
	}
	if !domain.ValidConstraintType(string(in.Type)) {
		return nil, ErrConstraintInvalidType
	}
	if len(in.SourceDocuments) == 0 {
		return nil, ErrConstraintNoSource
	}
	if in.Scope.Empty() {
		return nil, ErrConstraintEmptyScope
	}
	if in.Check == nil && in.Rule == "" {
		return nil, ErrConstraintNoLogic
	}
	if in.Check != nil && in.Rule != "" {
		return nil, ErrConstraintDualLogic
	}
	if in.EffectiveDates.Start.IsZero() {
		return nil, ErrConstraintMissingStart
	}
	for _, docID := range in.SourceDocuments {
		if _, err := s.registry.Get(ctx, docID); err != nil {
			return nil, fmt.Errorf("source document %s: %w", docID, err)
		}
	}

	c := &domain.Constraint{
		ID:              uuid.New(),
		Type:            in.Type,
		Name:            in.Name,
		Definition:      in.Definition,
		Scope:           in.Scope,
		EffectiveDates:  in.EffectiveDates,
		SourceDocuments: in.SourceDocuments,
		Check:           in.Check,
		Rule:            in.Rule,
		RuleParams:      in.RuleParams,
		Precedence:      in.Precedence,
		Inheritance:     in.Inheritance,
		RegisteredAt:    time.Now().UTC(),
	}
	if err := s.constraints.Create(ctx, c); err != nil {
		return nil, err
	}
	for _, docID := range in.SourceDocuments {
		if err := s.registry.LinkConstraints(ctx, docID, []uuid.UUID{c.ID}); err != nil {
			return nil, err
		}
	}

	s.logger.Info("constraint registered",
		zap.String("constraint_id", c.ID.String()),
		zap.String("name", c.Name),
		zap.String("type", string(c.Type)),
		zap.Int("source_documents", len(c.SourceDocuments)),
	)
	return c, nil
}

func (s *ConstraintEngineService) Get(ctx context.Context, id uuid.UUID) (*domain.Constraint, error) {
	c, err := s.constraints.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConstraintNotFound
		}
		return nil, err
	}
	return c, nil
}

type targetKind int

const (
	kindHolon targetKind = iota
	kindRelationship
	kindEvent
)

// applicable pairs a selected constraint with how it was selected; inherited
// members participate differently in override resolution.
type applicable struct {
	constraint domain.Constraint
	inherited  bool
}

// ApplicableHolonConstraints resolves the constraints gating holons of the
// given type at ts, after inheritance and override resolution.
func (s *ConstraintEngineService) ApplicableHolonConstraints(ctx context.Context, holonType string, ts time.Time) ([]domain.Constraint, error) {
	return s.applicableFor(ctx, kindHolon, holonType, ts)
}

// ApplicableRelationshipConstraints is the relationship-type variant.
func (s *ConstraintEngineService) ApplicableRelationshipConstraints(ctx context.Context, relType string, ts time.Time) ([]domain.Constraint, error) {
	return s.applicableFor(ctx, kindRelationship, relType, ts)
}

// ApplicableEventConstraints is the event-type variant.
func (s *ConstraintEngineService) ApplicableEventConstraints(ctx context.Context, eventType domain.EventType, ts time.Time) ([]domain.Constraint, error) {
	return s.applicableFor(ctx, kindEvent, string(eventType), ts)
}

func (s *ConstraintEngineService) applicableFor(ctx context.Context, kind targetKind, typeName string, ts time.Time) ([]domain.Constraint, error) {
	var direct []domain.Constraint
	var err error
	switch kind {
	case kindHolon:
		direct, err = s.constraints.ByHolonType(ctx, typeName)
	case kindRelationship:
		direct, err = s.constraints.ByRelationshipType(ctx, typeName)
	case kindEvent:
		direct, err = s.constraints.ByEventType(ctx, domain.EventType(typeName))
	}
	if err != nil {
		return nil, err
	}

	all, err := s.constraints.All(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []applicable
	seen := make(map[uuid.UUID]bool)
	for i := range direct {
		if direct[i].ActiveAt(ts) {
			candidates = append(candidates, applicable{constraint: direct[i]})
			seen[direct[i].ID] = true
		}
	}
	for i := range all {
		c := all[i]
		if seen[c.ID] || !c.ActiveAt(ts) {
			continue
		}
		if c.Inheritance.InheritedBy(typeName) {
			candidates = append(candidates, applicable{constraint: c, inherited: true})
		}
	}

	return resolveOverrides(candidates), nil
}

// resolveOverrides runs the two-phase selection: group applicable
// constraints by name, then within each group keep the single
// highest-precedence member, plus every inherited member whose CanOverride
// is explicitly false. Distinct names never interact.
func resolveOverrides(candidates []applicable) []domain.Constraint {
	groups := make(map[string][]applicable)
	var order []string
	for _, a := range candidates {
		name := a.constraint.Name
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], a)
	}

	var out []domain.Constraint
	for _, name := range order {
		group := groups[name]
		winner := group[0]
		for _, a := range group[1:] {
			if a.constraint.Precedence > winner.constraint.Precedence {
				winner = a
			}
		}
		out = append(out, winner.constraint)
		for _, a := range group {
			if a.constraint.ID == winner.constraint.ID {
				continue
			}
			if a.inherited && !a.constraint.Inheritance.Overridable() {
				out = append(out, a.constraint)
			}
		}
	}
	return out
}

// ValidateHolon evaluates every applicable constraint against the holon.
// A nil at defaults to the holon's CreatedAt.
func (s *ConstraintEngineService) ValidateHolon(ctx context.Context, h *domain.Holon, at *time.Time) (domain.ValidationResult, error) {
	ts := h.CreatedAt
	if at != nil {
		ts = *at
	}
	cs, err := s.ApplicableHolonConstraints(ctx, h.Type, ts)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return s.evaluateAll(cs, h, []string{h.ID}), nil
}

// ValidateRelationship evaluates every applicable constraint against the
// relationship. A nil at defaults to EffectiveStart.
func (s *ConstraintEngineService) ValidateRelationship(ctx context.Context, r *domain.Relationship, at *time.Time) (domain.ValidationResult, error) {
	ts := r.EffectiveStart
	if at != nil {
		ts = *at
	}
	cs, err := s.ApplicableRelationshipConstraints(ctx, r.Type, ts)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return s.evaluateAll(cs, r, []string{r.SourceHolonID, r.TargetHolonID}), nil
}

// ValidateEvent evaluates every applicable constraint against the event.
// A nil at defaults to OccurredAt, so rules are selected as of the moment
// the event claims to have happened.
func (s *ConstraintEngineService) ValidateEvent(ctx context.Context, e *domain.Event, at *time.Time) (domain.ValidationResult, error) {
	ts := e.OccurredAt
	if at != nil {
		ts = *at
	}
	cs, err := s.ApplicableEventConstraints(ctx, e.Type, ts)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return s.evaluateAll(cs, e, e.Subjects), nil
}

func (s *ConstraintEngineService) evaluateAll(cs []domain.Constraint, target any, affected []string) domain.ValidationResult {
	var violations []domain.ConstraintViolation
	for i := range cs {
		violations = append(violations, s.evaluate(&cs[i], target, affected)...)
	}
	return domain.ValidationResult{Valid: len(violations) == 0, Errors: violations}
}

// evaluate runs one constraint, dispatching on the rule duality. Declarative
// rules are fail-closed: any evaluation error counts as a violation.
func (s *ConstraintEngineService) evaluate(c *domain.Constraint, target any, affected []string) []domain.ConstraintViolation {
	if c.Check != nil {
		res := c.Check(target)
		if res.Valid {
			return nil
		}
		if len(res.Errors) == 0 {
			res.Errors = []domain.ConstraintViolation{{Message: "constraint check failed"}}
		}
		out := make([]domain.ConstraintViolation, 0, len(res.Errors))
		for _, v := range res.Errors {
			v.ConstraintID = c.ID
			if v.ViolatedRule == "" {
				v.ViolatedRule = c.Name
			}
			if len(v.AffectedHolons) == 0 {
				v.AffectedHolons = affected
			}
			out = append(out, v)
		}
		return out
	}

	input, err := toRuleInput(target)
	if err == nil {
		var ok bool
		ok, err = s.rules.EvalBool(c.Rule, input, c.RuleParams)
		if err == nil && ok {
			return nil
		}
	}
	msg := fmt.Sprintf("rule %q not satisfied", c.Name)
	if err != nil {
		msg = fmt.Sprintf("rule %q failed: %v", c.Name, err)
	}
	return []domain.ConstraintViolation{{
		ConstraintID:   c.ID,
		Message:        msg,
		ViolatedRule:   c.Rule,
		AffectedHolons: affected,
	}}
}

// toRuleInput flattens the target into the map shape CEL evaluates over.
func toRuleInput(target any) (map[string]any, error) {
	raw, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
