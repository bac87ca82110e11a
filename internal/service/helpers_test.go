package service

import (
	"errors"
	"testing"
	"time"

	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/rules"
	"github.com/osmotic/tessera/internal/store"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// testEnv wires the full governance core over the in-memory backends.
type testEnv struct {
	events     *EventStoreService
	registry   *RegistryService
	engine     *ConstraintEngineService
	validation *ValidationService
	semantic   *SemanticService
	eventLog   *store.MemoryEventLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		t.Fatalf("expected no error creating evaluator, got %v", err)
	}

	logger := testLogger()
	eventLog := store.NewMemoryEventLog()
	events := NewEventStoreService(eventLog, time.Hour, logger)
	registry := NewRegistryService(store.NewMemoryDocumentStore(), logger)
	engine := NewConstraintEngineService(store.NewMemoryConstraintStore(), registry, evaluator, logger)
	validation := NewValidationService(engine, registry, events, time.Hour, logger)
	semantic := NewSemanticService(store.NewMemoryMappingStore(), engine, events, logger)

	return &testEnv{
		events:     events,
		registry:   registry,
		engine:     engine,
		validation: validation,
		semantic:   semantic,
		eventLog:   eventLog,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func asTemporal(err error, target **domain.TemporalError) bool {
	return errors.As(err, target)
}

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
