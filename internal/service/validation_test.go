package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
)

func containsDoc(ids []uuid.UUID, want uuid.UUID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

// Register document D effective 2020-2025 with an always-failing constraint
// on AssignmentStarted whose own window tracks D's.
func setupDocBackedConstraint(t *testing.T, env *testEnv) *domain.Document {
	t.Helper()
	end := date(2025, 1, 1)
	d := registerDoc(t, env, "Assignment Instruction", domain.EffectiveDates{Start: date(2020, 1, 1), End: &end})
	_, err := env.engine.Register(context.Background(), RegisterConstraintInput{
		Type:            domain.ConstraintTypeEligibility,
		Name:            "assignment-gate",
		Scope:           domain.ConstraintScope{EventTypes: []domain.EventType{domain.EventTypeAssignmentStarted}},
		EffectiveDates:  domain.EffectiveDates{Start: date(2020, 1, 1), End: &end},
		SourceDocuments: []uuid.UUID{d.ID},
		Check:           failingCheck("assignment not permitted"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return d
}

func TestValidation_TemporalDocumentSelection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	d := setupDocBackedConstraint(t, env)

	during := &domain.Event{
		ID:           uuid.New(),
		Type:         domain.EventTypeAssignmentStarted,
		OccurredAt:   date(2022, 6, 1),
		Actor:        "sys",
		Subjects:     []string{"p-1"},
		Payload:      map[string]any{},
		SourceSystem: "TEST",
	}
	res, err := env.validation.ValidateEventWithDetails(ctx, during)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Valid {
		t.Fatal("expected the document-backed constraint to fail inside its window")
	}
	if !containsDoc(res.DocumentsUsed, d.ID) {
		t.Fatalf("expected documents_used to include %s, got %v", d.ID, res.DocumentsUsed)
	}

	after := &domain.Event{
		ID:           uuid.New(),
		Type:         domain.EventTypeAssignmentStarted,
		OccurredAt:   date(2026, 1, 1),
		Actor:        "sys",
		Subjects:     []string{"p-1"},
		Payload:      map[string]any{},
		SourceSystem: "TEST",
	}
	res, err = env.validation.ValidateEventWithDetails(ctx, after)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("constraint outside its window must not apply: %v", res.Errors)
	}
	if containsDoc(res.DocumentsUsed, d.ID) {
		t.Fatal("expected the expired document to be absent from documents_used")
	}
}

func TestValidation_NewerDocumentSelected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldEnd := date(2023, 12, 31)
	older := registerDoc(t, env, "Old Policy", domain.EffectiveDates{Start: date(2020, 1, 1), End: &oldEnd})
	newer := registerDoc(t, env, "New Policy", domain.EffectiveDates{Start: date(2024, 1, 1)})

	e := &domain.Event{
		ID:           uuid.New(),
		Type:         domain.EventTypePersonCreated,
		OccurredAt:   date(2024, 6, 1),
		Actor:        "sys",
		Subjects:     []string{"p-1"},
		Payload:      map[string]any{},
		SourceSystem: "TEST",
	}
	res, err := env.validation.ValidateEventWithDetails(ctx, e)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if containsDoc(res.DocumentsUsed, older.ID) {
		t.Fatal("expected the lapsed document to be excluded")
	}
	if !containsDoc(res.DocumentsUsed, newer.ID) {
		t.Fatal("expected the newer document to be selected")
	}
}

func TestValidation_ErrorsAreCategorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	setupDocBackedConstraint(t, env)

	e := &domain.Event{
		ID:           uuid.New(),
		Type:         domain.EventTypeAssignmentStarted,
		OccurredAt:   date(2022, 6, 1),
		Actor:        "sys",
		Subjects:     []string{"p-1"},
		Payload:      map[string]any{},
		SourceSystem: "TEST",
	}
	res, err := env.validation.ValidateEventWithDetails(ctx, e)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 detailed error, got %d", len(res.Errors))
	}
	detail := res.Errors[0]
	if detail.Category != CategoryEligibility {
		t.Fatalf("expected eligibility category, got %s", detail.Category)
	}
	if detail.Timestamp.IsZero() {
		t.Fatal("expected a decoration timestamp")
	}
	if detail.Context == "" {
		t.Fatal("expected context on the detailed error")
	}
}

func TestValidation_BatchAtomicity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	setupDocBackedConstraint(t, env)

	ok := func(occurred time.Time) domain.Event {
		return domain.Event{
			ID:           uuid.New(),
			Type:         domain.EventTypePersonCreated,
			OccurredAt:   occurred,
			Actor:        "sys",
			Subjects:     []string{"p-1"},
			Payload:      map[string]any{},
			SourceSystem: "TEST",
		}
	}
	failing := domain.Event{
		ID:           uuid.New(),
		Type:         domain.EventTypeAssignmentStarted,
		OccurredAt:   date(2022, 6, 1),
		Actor:        "sys",
		Subjects:     []string{"p-1"},
		Payload:      map[string]any{},
		SourceSystem: "TEST",
	}

	batch := []domain.Event{ok(date(2022, 1, 1)), failing, ok(date(2022, 2, 1))}
	res, err := env.validation.ValidateBatch(ctx, batch)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Valid {
		t.Fatal("expected the batch to be invalid")
	}
	if res.ValidatedCount != 3 {
		t.Fatalf("expected all 3 events evaluated, got %d", res.ValidatedCount)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected errors at exactly one index, got %v", res.Errors)
	}
	if _, ok := res.Errors[1]; !ok {
		t.Fatalf("expected the error at index 1, got %v", res.Errors)
	}
}

func TestValidation_BatchAllValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	batch := []domain.Event{
		{ID: uuid.New(), Type: domain.EventTypePersonCreated, OccurredAt: date(2022, 1, 1), Actor: "sys", Subjects: []string{"p-1"}, Payload: map[string]any{}, SourceSystem: "TEST"},
		{ID: uuid.New(), Type: domain.EventTypePersonCreated, OccurredAt: date(2022, 2, 1), Actor: "sys", Subjects: []string{"p-2"}, Payload: map[string]any{}, SourceSystem: "TEST"},
	}
	res, err := env.validation.ValidateBatch(ctx, batch)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid || len(res.Errors) != 0 {
		t.Fatalf("expected a clean batch, got %v", res)
	}
}

func TestValidation_TemporalConstraints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Future beyond tolerance.
	future := &domain.Event{
		ID:         uuid.New(),
		Type:       domain.EventTypePersonCreated,
		OccurredAt: time.Now().Add(2 * time.Hour),
		Subjects:   []string{"p-1"},
	}
	var terr *domain.TemporalError
	if err := env.validation.ValidateTemporalConstraints(ctx, future); !errors.As(err, &terr) {
		t.Fatalf("expected *domain.TemporalError, got %v", err)
	}

	// Causal link to a missing event.
	orphan := &domain.Event{
		ID:          uuid.New(),
		Type:        domain.EventTypePersonCreated,
		OccurredAt:  date(2024, 1, 1),
		Subjects:    []string{"p-1"},
		CausalLinks: domain.CausalLinks{CausedBy: []uuid.UUID{uuid.New()}},
	}
	if err := env.validation.ValidateTemporalConstraints(ctx, orphan); !errors.As(err, &terr) {
		t.Fatalf("expected *domain.TemporalError for missing cause, got %v", err)
	}

	// Cause occurring after effect.
	cause, err := env.events.Submit(ctx, submitInput(domain.EventTypeAssignmentStarted, date(2024, 6, 1), "p-1"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	backwards := &domain.Event{
		ID:          uuid.New(),
		Type:        domain.EventTypeAssignmentEnded,
		OccurredAt:  date(2024, 1, 1),
		Subjects:    []string{"p-1"},
		CausalLinks: domain.CausalLinks{CausedBy: []uuid.UUID{cause.ID}},
	}
	if err := env.validation.ValidateTemporalConstraints(ctx, backwards); !errors.As(err, &terr) {
		t.Fatalf("expected *domain.TemporalError for reversed causality, got %v", err)
	}

	// Well-ordered causality passes.
	forward := &domain.Event{
		ID:          uuid.New(),
		Type:        domain.EventTypeAssignmentEnded,
		OccurredAt:  date(2024, 12, 1),
		Subjects:    []string{"p-1"},
		CausalLinks: domain.CausalLinks{CausedBy: []uuid.UUID{cause.ID}},
	}
	if err := env.validation.ValidateTemporalConstraints(ctx, forward); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Inverted validity window.
	inverted := &domain.Event{
		ID:             uuid.New(),
		Type:           domain.EventTypePersonCreated,
		OccurredAt:     date(2024, 1, 1),
		Subjects:       []string{"p-1"},
		ValidityWindow: &domain.ValidityWindow{Start: date(2024, 6, 1), End: date(2024, 1, 1)},
	}
	if err := env.validation.ValidateTemporalConstraints(ctx, inverted); !errors.As(err, &terr) {
		t.Fatalf("expected *domain.TemporalError for inverted window, got %v", err)
	}
}

func TestValidation_CompensatingEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var nferr *domain.NotFoundError
	_, err := env.validation.CreateCompensatingEvent(ctx, uuid.New(), CompensationMetadata{AuthorizedBy: "admin"}, nil)
	if !errors.As(err, &nferr) {
		t.Fatalf("expected *domain.NotFoundError, got %v", err)
	}

	original, err := env.events.Submit(ctx, submitInput(domain.EventTypeAssignmentStarted, date(2024, 1, 1), "p-1", "org-1"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	draft, err := env.validation.CreateCompensatingEvent(ctx, original.ID, CompensationMetadata{
		Reason:         "wrong start date",
		CorrectionType: "amendment",
		AuthorizedBy:   "admin",
	}, map[string]any{"start_date": "2024-02-01"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if draft.Actor != "admin" {
		t.Fatalf("expected actor set to the authorizer, got %q", draft.Actor)
	}
	if len(draft.Subjects) != 2 {
		t.Fatalf("expected original subjects preserved, got %v", draft.Subjects)
	}
	if len(draft.CausalLinks.CausedBy) != 1 || draft.CausalLinks.CausedBy[0] != original.ID {
		t.Fatalf("expected causal link to the original, got %v", draft.CausalLinks.CausedBy)
	}
	meta, ok := draft.Payload["compensating_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected compensating_metadata in payload, got %v", draft.Payload)
	}
	if meta["original_event_id"] != original.ID.String() || meta["reason"] != "wrong start date" {
		t.Fatalf("unexpected compensating metadata: %v", meta)
	}
	if draft.Payload["start_date"] != "2024-02-01" {
		t.Fatalf("expected new payload merged in, got %v", draft.Payload)
	}

	// The draft is unsubmitted; it goes through the normal path.
	if _, err := env.events.Get(ctx, draft.ID); err != ErrEventNotFound {
		t.Fatalf("expected the draft to be absent from the log, got %v", err)
	}

	submitted, err := env.events.Submit(ctx, SubmitEventInput{
		Type:         draft.Type,
		OccurredAt:   draft.OccurredAt,
		Actor:        draft.Actor,
		Subjects:     draft.Subjects,
		Payload:      draft.Payload,
		SourceSystem: draft.SourceSystem,
		CausalLinks:  draft.CausalLinks,
	})
	if err != nil {
		t.Fatalf("expected no error submitting the correction, got %v", err)
	}
	if submitted.Type != domain.EventTypeCorrectionApplied {
		t.Fatalf("expected CorrectionApplied, got %s", submitted.Type)
	}
}

func TestValidation_AuditLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e1 := &domain.Event{ID: uuid.New(), Type: domain.EventTypePersonCreated, OccurredAt: date(2024, 1, 1), Actor: "sys", Subjects: []string{"p-1"}, Payload: map[string]any{}, SourceSystem: "TEST"}
	e2 := &domain.Event{ID: uuid.New(), Type: domain.EventTypePersonCreated, OccurredAt: date(2024, 2, 1), Actor: "sys", Subjects: []string{"p-2"}, Payload: map[string]any{}, SourceSystem: "TEST"}

	if _, err := env.validation.ValidateEventWithDetails(ctx, e1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := env.validation.ValidateEventWithDetails(ctx, e2); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	all := env.validation.ValidationLog(ValidationLogFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(all))
	}

	byEvent := env.validation.ValidationLog(ValidationLogFilter{EventID: &e1.ID})
	if len(byEvent) != 1 || byEvent[0].EventID != e1.ID {
		t.Fatalf("expected 1 record for e1, got %v", byEvent)
	}

	future := time.Now().Add(time.Hour)
	none := env.validation.ValidationLog(ValidationLogFilter{StartTime: &future})
	if len(none) != 0 {
		t.Fatalf("expected no records after a future start time, got %d", len(none))
	}

	env.validation.ClearLog()
	if got := env.validation.ValidationLog(ValidationLogFilter{}); len(got) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(got))
	}
}
