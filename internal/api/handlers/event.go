package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/service"
)

type EventHandler struct {
	svc *service.EventStoreService
}

func NewEventHandler(svc *service.EventStoreService) *EventHandler {
	return &EventHandler{svc: svc}
}

type submitEventRequest struct {
	Type           string                 `json:"type"`
	OccurredAt     time.Time              `json:"occurred_at"`
	Actor          string                 `json:"actor"`
	Subjects       []string               `json:"subjects"`
	Payload        map[string]any         `json:"payload"`
	SourceSystem   string                 `json:"source_system"`
	SourceDocument string                 `json:"source_document,omitempty"`
	ValidityWindow *domain.ValidityWindow `json:"validity_window,omitempty"`
	CausalLinks    domain.CausalLinks     `json:"causal_links,omitempty"`
}

func (h *EventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	e, err := h.svc.Submit(r.Context(), service.SubmitEventInput{
		Type:           domain.EventType(req.Type),
		OccurredAt:     req.OccurredAt,
		Actor:          req.Actor,
		Subjects:       req.Subjects,
		Payload:        req.Payload,
		SourceSystem:   req.SourceSystem,
		SourceDocument: req.SourceDocument,
		ValidityWindow: req.ValidityWindow,
		CausalLinks:    req.CausalLinks,
	})
	if err != nil {
		var terr *domain.TemporalError
		if errors.As(err, &terr) {
			writeError(w, http.StatusUnprocessableEntity, terr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit event")
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

func (h *EventHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// List filters the log by query parameters: type, actor, subject, start, end.
// All filters compose with AND; timestamps are RFC 3339.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.EventFilter{Actor: q.Get("actor")}

	if t := q.Get("type"); t != "" {
		if !domain.ValidEventType(t) {
			writeError(w, http.StatusBadRequest, "invalid event type")
			return
		}
		filter.Types = []domain.EventType{domain.EventType(t)}
	}
	if s := q.Get("subject"); s != "" {
		filter.AnySubjects = []string{s}
	}
	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filter.Start = &ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filter.End = &ts
	}

	events, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
