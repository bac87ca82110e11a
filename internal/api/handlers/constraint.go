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

type ConstraintHandler struct {
	svc *service.ConstraintEngineService
}

func NewConstraintHandler(svc *service.ConstraintEngineService) *ConstraintHandler {
	return &ConstraintHandler{svc: svc}
}

// registerConstraintRequest carries a declarative constraint. Callback
// constraints are code and can only be registered in-process.
type registerConstraintRequest struct {
	Type            string                   `json:"type"`
	Name            string                   `json:"name"`
	Definition      string                   `json:"definition,omitempty"`
	Scope           domain.ConstraintScope   `json:"scope"`
	EffectiveDates  domain.EffectiveDates    `json:"effective_dates"`
	SourceDocuments []uuid.UUID              `json:"source_documents"`
	Rule            string                   `json:"rule"`
	RuleParams      map[string]any           `json:"rule_params,omitempty"`
	Precedence      int                      `json:"precedence,omitempty"`
	Inheritance     *domain.InheritanceRules `json:"inheritance,omitempty"`
}

func (h *ConstraintHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerConstraintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Rule == "" {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}

	c, err := h.svc.Register(r.Context(), service.RegisterConstraintInput{
		Type:            domain.ConstraintType(req.Type),
		Name:            req.Name,
		Definition:      req.Definition,
		Scope:           req.Scope,
		EffectiveDates:  req.EffectiveDates,
		SourceDocuments: req.SourceDocuments,
		Rule:            req.Rule,
		RuleParams:      req.RuleParams,
		Precedence:      req.Precedence,
		Inheritance:     req.Inheritance,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConstraintMissingName),
			errors.Is(err, service.ErrConstraintInvalidType),
			errors.Is(err, service.ErrConstraintNoSource),
			errors.Is(err, service.ErrConstraintEmptyScope),
			errors.Is(err, service.ErrConstraintMissingStart):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "source document not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to register constraint")
		}
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *ConstraintHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid constraint id")
		return
	}

	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrConstraintNotFound) {
			writeError(w, http.StatusNotFound, "constraint not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get constraint")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Applicable resolves the constraints in effect for one target type at one
// instant, with inheritance and overrides already applied. Exactly one of
// holon_type, relationship_type, or event_type must be given; at defaults to
// now.
func (h *ConstraintHandler) Applicable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	at := time.Now().UTC()
	if v := q.Get("at"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid at time")
			return
		}
		at = ts
	}

	var (
		cs  []domain.Constraint
		err error
	)
	switch {
	case q.Get("holon_type") != "":
		cs, err = h.svc.ApplicableHolonConstraints(r.Context(), q.Get("holon_type"), at)
	case q.Get("relationship_type") != "":
		cs, err = h.svc.ApplicableRelationshipConstraints(r.Context(), q.Get("relationship_type"), at)
	case q.Get("event_type") != "":
		cs, err = h.svc.ApplicableEventConstraints(r.Context(), domain.EventType(q.Get("event_type")), at)
	default:
		writeError(w, http.StatusBadRequest, "one of holon_type, relationship_type, or event_type is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve applicable constraints")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"constraints": cs, "count": len(cs)})
}
