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

type ValidationHandler struct {
	svc *service.ValidationService
}

func NewValidationHandler(svc *service.ValidationService) *ValidationHandler {
	return &ValidationHandler{svc: svc}
}

// ValidateEvent checks an unsubmitted event and returns the full verdict.
// Nothing is persisted either way.
func (h *ValidationHandler) ValidateEvent(w http.ResponseWriter, r *http.Request) {
	var e domain.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.ValidateEventWithDetails(r.Context(), &e)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type validateBatchRequest struct {
	Events []domain.Event `json:"events"`
}

func (h *ValidationHandler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req validateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event is required")
		return
	}

	res, err := h.svc.ValidateBatch(r.Context(), req.Events)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "batch validation failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type compensateRequest struct {
	Reason         string         `json:"reason"`
	CorrectionType string         `json:"correction_type"`
	AuthorizedBy   string         `json:"authorized_by"`
	NewPayload     map[string]any `json:"new_payload,omitempty"`
}

// Compensate drafts a correction for a stored event. The caller reviews the
// draft and submits it through the event endpoint like any other event.
func (h *ValidationHandler) Compensate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	var req compensateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AuthorizedBy == "" {
		writeError(w, http.StatusBadRequest, "authorized_by is required")
		return
	}

	draft, err := h.svc.CreateCompensatingEvent(r.Context(), id, service.CompensationMetadata{
		Reason:         req.Reason,
		CorrectionType: req.CorrectionType,
		AuthorizedBy:   req.AuthorizedBy,
	}, req.NewPayload)
	if err != nil {
		var nferr *domain.NotFoundError
		if errors.As(err, &nferr) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to draft compensating event")
		return
	}

	writeJSON(w, http.StatusOK, draft)
}

// AuditLog reads validation records, optionally narrowed by event_id and
// start query parameters.
func (h *ValidationHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter service.ValidationLogFilter

	if v := q.Get("event_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid event_id")
			return
		}
		filter.EventID = &id
	}
	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filter.StartTime = &ts
	}

	records := h.svc.ValidationLog(filter)
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}
