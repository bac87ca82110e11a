package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/osmotic/tessera/internal/domain"
)

// PostgresEventLog is the durable EventLog backend. The table is
// insert-only; no UPDATE or DELETE statement exists in this file on purpose.
type PostgresEventLog struct {
	db *pgxpool.Pool
}

func NewPostgresEventLog(db *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{db: db}
}

func (s *PostgresEventLog) Append(ctx context.Context, e *domain.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	links, err := json.Marshal(e.CausalLinks)
	if err != nil {
		return fmt.Errorf("marshal causal links: %w", err)
	}
	var window []byte
	if e.ValidityWindow != nil {
		if window, err = json.Marshal(e.ValidityWindow); err != nil {
			return fmt.Errorf("marshal validity window: %w", err)
		}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO events (id, event_type, occurred_at, recorded_at, actor, subjects, payload, source_system, source_document, validity_window, causal_links)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Type, e.OccurredAt, e.RecordedAt, e.Actor, e.Subjects, payload,
		e.SourceSystem, e.SourceDocument, window, links,
	)
	return err
}

func (s *PostgresEventLog) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, event_type, occurred_at, recorded_at, actor, subjects, payload, source_system, source_document, validity_window, causal_links
		 FROM events WHERE id = $1`,
		id,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *PostgresEventLog) List(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT id, event_type, occurred_at, recorded_at, actor, subjects, payload, source_system, source_document, validity_window, causal_links
	          FROM events WHERE 1=1`
	var args []any

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	if f.Start != nil {
		args = append(args, *f.Start)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	if f.Actor != "" {
		args = append(args, f.Actor)
		query += fmt.Sprintf(" AND actor = $%d", len(args))
	}
	if len(f.AnySubjects) > 0 {
		args = append(args, f.AnySubjects)
		query += fmt.Sprintf(" AND subjects && $%d", len(args))
	}
	query += " ORDER BY recorded_at, id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e       domain.Event
		typ     string
		payload []byte
		window  []byte
		links   []byte
	)
	if err := row.Scan(&e.ID, &typ, &e.OccurredAt, &e.RecordedAt, &e.Actor, &e.Subjects,
		&payload, &e.SourceSystem, &e.SourceDocument, &window, &links); err != nil {
		return nil, err
	}
	e.Type = domain.EventType(typ)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(window) > 0 {
		e.ValidityWindow = &domain.ValidityWindow{}
		if err := json.Unmarshal(window, e.ValidityWindow); err != nil {
			return nil, fmt.Errorf("unmarshal validity window: %w", err)
		}
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &e.CausalLinks); err != nil {
			return nil, fmt.Errorf("unmarshal causal links: %w", err)
		}
	}
	return &e, nil
}
