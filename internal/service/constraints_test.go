package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
)

func failingCheck(msg string) domain.CheckFunc {
	return func(target any) domain.ValidationResult {
		return domain.ValidationResult{
			Valid:  false,
			Errors: []domain.ConstraintViolation{{Message: msg}},
		}
	}
}

func passingCheck() domain.CheckFunc {
	return func(target any) domain.ValidationResult {
		return domain.ValidationResult{Valid: true}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestConstraints_RegisterRequiresSourceDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:           domain.ConstraintTypePolicy,
		Name:           "no-docs",
		Scope:          domain.ConstraintScope{HolonTypes: []string{"Person"}},
		EffectiveDates: domain.EffectiveDates{Start: date(2020, 1, 1)},
		Check:          passingCheck(),
	})
	if err != ErrConstraintNoSource {
		t.Fatalf("expected ErrConstraintNoSource, got %v", err)
	}

	// An unknown source document is just as fatal.
	_, err = env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "ghost-doc",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Person"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{uuid.New()},
		Check:           passingCheck(),
	})
	if err == nil {
		t.Fatal("expected error for unknown source document")
	}
}

func TestConstraints_RegisterLinksDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Eligibility Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})
	c, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypeEligibility,
		Name:            "min-age",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Person"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           passingCheck(),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	defining, err := env.registry.DefiningConstraint(ctx, c.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(defining) != 1 || defining[0].ID != d.ID {
		t.Fatalf("expected exactly the linked document, got %v", defining)
	}
}

func TestConstraints_RegisterRejectsBadLogic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Doc", domain.EffectiveDates{Start: date(2020, 1, 1)})
	base := RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "x",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Person"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
	}

	if _, err := env.engine.Register(ctx, base); err != ErrConstraintNoLogic {
		t.Fatalf("expected ErrConstraintNoLogic, got %v", err)
	}

	both := base
	both.Check = passingCheck()
	both.Rule = "true"
	if _, err := env.engine.Register(ctx, both); err != ErrConstraintDualLogic {
		t.Fatalf("expected ErrConstraintDualLogic, got %v", err)
	}

	empty := base
	empty.Check = passingCheck()
	empty.Scope = domain.ConstraintScope{}
	if _, err := env.engine.Register(ctx, empty); err != ErrConstraintEmptyScope {
		t.Fatalf("expected ErrConstraintEmptyScope, got %v", err)
	}
}

func TestConstraints_ScopedToType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Org Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})
	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypeStructural,
		Name:            "org-only",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Organization"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           failingCheck("always fails"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	person := &domain.Holon{ID: "p-1", Type: "Person", CreatedAt: date(2024, 1, 1)}
	res, err := env.engine.ValidateHolon(ctx, person, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("constraint for Organization must not trigger on Person: %v", res.Errors)
	}

	org := &domain.Holon{ID: "org-1", Type: "Organization", CreatedAt: date(2024, 1, 1)}
	res, _ = env.engine.ValidateHolon(ctx, org, nil)
	if res.Valid {
		t.Fatal("expected the Organization constraint to fire")
	}
}

func TestConstraints_TemporalScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Future Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})
	end := date(2035, 1, 1)
	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "future-window",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Person"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2030, 1, 1), End: &end},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           failingCheck("always fails"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	p := &domain.Holon{ID: "p-1", Type: "Person", CreatedAt: date(2024, 1, 1)}
	res, err := env.engine.ValidateHolon(ctx, p, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("constraint effective 2030-2035 must not trigger at 2024: %v", res.Errors)
	}

	res, _ = env.engine.ValidateHolon(ctx, p, timePtr(date(2032, 1, 1)))
	if res.Valid {
		t.Fatal("expected the constraint to fire inside its window")
	}
}

func TestConstraints_InheritanceOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Hierarchy Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})

	// Inherited failing rule on the parent type, overridable, precedence 5.
	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "capacity-limit",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Unit"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           failingCheck("parent limit exceeded"),
		Precedence:      5,
		Inheritance: &domain.InheritanceRules{
			InheritsFrom: []string{"Squadron"},
			CanOverride:  boolPtr(true),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Same-named passing rule direct on the child, precedence 10.
	_, err = env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "capacity-limit",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Squadron"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           passingCheck(),
		Precedence:      10,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	child := &domain.Holon{ID: "sq-1", Type: "Squadron", CreatedAt: date(2024, 1, 1)}
	res, err := env.engine.ValidateHolon(ctx, child, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("overridable inherited rule must be suppressed by the higher-precedence direct rule: %v", res.Errors)
	}
}

func TestConstraints_InheritanceNonOverridable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Hierarchy Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})

	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "capacity-limit",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Unit"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           failingCheck("parent limit exceeded"),
		Precedence:      5,
		Inheritance: &domain.InheritanceRules{
			InheritsFrom: []string{"Squadron"},
			CanOverride:  boolPtr(false),
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err = env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "capacity-limit",
		Scope:           domain.ConstraintScope{HolonTypes: []string{"Squadron"}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           passingCheck(),
		Precedence:      10,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	child := &domain.Holon{ID: "sq-1", Type: "Squadron", CreatedAt: date(2024, 1, 1)}
	res, err := env.engine.ValidateHolon(ctx, child, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Valid {
		t.Fatal("non-overridable inherited rule must apply regardless of the direct rule's precedence")
	}
}

func TestConstraints_DistinctNamesAccumulate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})
	for _, name := range []string{"rule-a", "rule-b"} {
		_, err := env.engine.Register(ctx, RegisterConstraintInput{
			Type:            domain.ConstraintTypePolicy,
			Name:            name,
			Scope:           domain.ConstraintScope{HolonTypes: []string{"Person"}},
			EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
			SourceDocuments: []uuid.UUID{d.ID},
			Check:           failingCheck(name + " failed"),
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}

	p := &domain.Holon{ID: "p-1", Type: "Person", CreatedAt: date(2024, 1, 1)}
	res, err := env.engine.ValidateHolon(ctx, p, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected both independent constraints to report, got %v", res.Errors)
	}
}

func TestConstraints_DeclarativeRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Naming Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})
	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypeStructural,
		Name:            "must-have-name",
		Scope:           domain.ConstraintScope{EventTypes: []domain.EventType{domain.EventTypeOrganizationCreated}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Rule:            `"name" in target.payload && target.payload.name != ""`,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	good := &domain.Event{
		ID:         uuid.New(),
		Type:       domain.EventTypeOrganizationCreated,
		OccurredAt: date(2024, 1, 1),
		Subjects:   []string{"org-1"},
		Payload:    map[string]any{"name": "Acme"},
	}
	res, err := env.engine.ValidateEvent(ctx, good, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected rule to pass, got %v", res.Errors)
	}

	bad := &domain.Event{
		ID:         uuid.New(),
		Type:       domain.EventTypeOrganizationCreated,
		OccurredAt: date(2024, 1, 1),
		Subjects:   []string{"org-2"},
		Payload:    map[string]any{},
	}
	res, _ = env.engine.ValidateEvent(ctx, bad, nil)
	if res.Valid {
		t.Fatal("expected rule to fail on missing name")
	}
	if len(res.Errors) != 1 || res.Errors[0].AffectedHolons[0] != "org-2" {
		t.Fatalf("expected one violation naming org-2, got %v", res.Errors)
	}
}

func TestConstraints_DeclarativeRuleFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := registerDoc(t, env, "Rules", domain.EffectiveDates{Start: date(2020, 1, 1)})
	// The rule references a payload field that does not exist; the
	// evaluation error must count as a violation, never a pass.
	_, err := env.engine.Register(ctx, RegisterConstraintInput{
		Type:            domain.ConstraintTypePolicy,
		Name:            "broken-rule",
		Scope:           domain.ConstraintScope{EventTypes: []domain.EventType{domain.EventTypePersonCreated}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1)},
		SourceDocuments: []uuid.UUID{d.ID},
		Rule:            `target.payload.nonexistent == "x"`,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	e := &domain.Event{
		ID:         uuid.New(),
		Type:       domain.EventTypePersonCreated,
		OccurredAt: date(2024, 1, 1),
		Subjects:   []string{"p-1"},
		Payload:    map[string]any{},
	}
	res, err := env.engine.ValidateEvent(ctx, e, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Valid {
		t.Fatal("erroring rule evaluation must be treated as invalid")
	}
}
