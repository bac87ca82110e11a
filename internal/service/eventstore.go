package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/store"
	"go.uber.org/zap"
)

var ErrEventNotFound = errors.New("event not found")

// DefaultClockSkewTolerance bounds how far ahead of wall-clock time an
// event's OccurredAt may be.
const DefaultClockSkewTolerance = time.Hour

// EventStoreService owns the append-only event log. Submission is the only
// mutation; everything it stores and returns is a defensive copy, so a
// submitted event can never be changed through a caller-held reference.
type EventStoreService struct {
	log    domain.EventLog
	skew   time.Duration
	logger *zap.Logger
}

func NewEventStoreService(log domain.EventLog, skew time.Duration, logger *zap.Logger) *EventStoreService {
	if skew <= 0 {
		skew = DefaultClockSkewTolerance
	}
	return &EventStoreService{
		log:    log,
		skew:   skew,
		logger: logger,
	}
}

// SubmitEventInput carries everything the caller asserts about an event.
// ID and RecordedAt are always minted here.
type SubmitEventInput struct {
	Type           domain.EventType
	OccurredAt     time.Time
	Actor          string
	Subjects       []string
	Payload        map[string]any
	SourceSystem   string
	SourceDocument string
	ValidityWindow *domain.ValidityWindow
	CausalLinks    domain.CausalLinks
}

// Submit appends a new event. The only rejection is a bad timestamp: a zero
// OccurredAt or one more than the skew tolerance ahead of wall-clock time
// fails with a *domain.TemporalError before anything is written.
func (s *EventStoreService) Submit(ctx context.Context, in SubmitEventInput) (*domain.Event, error) {
	now := time.Now().UTC()
	if in.OccurredAt.IsZero() {
		return nil, &domain.TemporalError{Op: "submit", Msg: "occurred_at is not a valid timestamp"}
	}
	if in.OccurredAt.After(now.Add(s.skew)) {
		return nil, &domain.TemporalError{
			Op:  "submit",
			Msg: fmt.Sprintf("occurred_at %s is more than %s ahead of current time", in.OccurredAt.Format(time.RFC3339), s.skew),
		}
	}

	e := &domain.Event{
		ID:             uuid.New(),
		Type:           in.Type,
		OccurredAt:     in.OccurredAt,
		RecordedAt:     now,
		Actor:          in.Actor,
		Subjects:       in.Subjects,
		Payload:        in.Payload,
		SourceSystem:   in.SourceSystem,
		SourceDocument: in.SourceDocument,
		ValidityWindow: in.ValidityWindow,
		CausalLinks:    in.CausalLinks,
	}

	// The log clones on append; clone again on the way out so the caller
	// never shares a reference with the stored record.
	if err := s.log.Append(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info("event appended",
		zap.String("event_id", e.ID.String()),
		zap.String("type", string(e.Type)),
		zap.String("source_system", e.SourceSystem),
		zap.Int("subjects", len(e.Subjects)),
	)
	return e.Clone(), nil
}

func (s *EventStoreService) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	e, err := s.log.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *EventStoreService) List(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	return s.log.List(ctx, f)
}

// ByHolon returns every event whose subjects include the holon.
func (s *EventStoreService) ByHolon(ctx context.Context, holonID string) ([]domain.Event, error) {
	return s.log.List(ctx, domain.EventFilter{AnySubjects: []string{holonID}})
}

// ByType returns every event of the given type.
func (s *EventStoreService) ByType(ctx context.Context, t domain.EventType) ([]domain.Event, error) {
	return s.log.List(ctx, domain.EventFilter{Types: []domain.EventType{t}})
}

// ByTimeRange returns events with OccurredAt inside [start, end], inclusive.
func (s *EventStoreService) ByTimeRange(ctx context.Context, start, end time.Time) ([]domain.Event, error) {
	return s.log.List(ctx, domain.EventFilter{Start: &start, End: &end})
}
