package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/service"
)

type MappingHandler struct {
	svc *service.SemanticService
}

func NewMappingHandler(svc *service.SemanticService) *MappingHandler {
	return &MappingHandler{svc: svc}
}

type mapExternalIDRequest struct {
	System     string  `json:"system"`
	ExternalID string  `json:"external_id"`
	HolonID    string  `json:"holon_id"`
	Confidence float64 `json:"confidence"`
}

func (h *MappingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req mapExternalIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.MapExternalID(r.Context(), req.System, req.ExternalID, req.HolonID, req.Confidence)
	if err != nil {
		var cerr *domain.ConflictError
		switch {
		case errors.Is(err, service.ErrMappingEmptyFields):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &cerr):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":          "mapping conflict",
				"existing_holon": cerr.ExistingHolon,
				"new_holon":      cerr.NewHolon,
			})
		default:
			writeError(w, http.StatusInternalServerError, "failed to record mapping")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Resolve looks up the holon for a (system, external_id) pair.
func (h *MappingHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	system, externalID := q.Get("system"), q.Get("external_id")
	if system == "" || externalID == "" {
		writeError(w, http.StatusBadRequest, "system and external_id are required")
		return
	}

	holonID, err := h.svc.HolonID(r.Context(), system, externalID)
	if err != nil {
		if errors.Is(err, service.ErrMappingNotFound) {
			writeError(w, http.StatusNotFound, "mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve mapping")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"holon_id": holonID})
}

// ForHolon lists every external identity mapped to one holon.
func (h *MappingHandler) ForHolon(w http.ResponseWriter, r *http.Request) {
	holonID := r.URL.Query().Get("holon_id")
	if holonID == "" {
		writeError(w, http.StatusBadRequest, "holon_id is required")
		return
	}

	ms, err := h.svc.ExternalIDs(r.Context(), holonID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list mappings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"mappings": ms, "count": len(ms)})
}

type consistencyRequest struct {
	Refs []domain.ExternalRef `json:"refs"`
}

func (h *MappingHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	var req consistencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Refs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one ref is required")
		return
	}

	report, err := h.svc.EnsureMultiSystemConsistency(r.Context(), req.Refs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "consistency check failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type precedenceRuleRequest struct {
	SourceDocument  uuid.UUID             `json:"source_document"`
	ExternalSystems []string              `json:"external_systems"`
	Priority        int                   `json:"priority"`
	EffectiveDates  domain.EffectiveDates `json:"effective_dates"`
}

func (h *MappingHandler) CreatePrecedenceRule(w http.ResponseWriter, r *http.Request) {
	var req precedenceRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ExternalSystems) == 0 {
		writeError(w, http.StatusBadRequest, "external_systems is required")
		return
	}

	rule, err := h.svc.RegisterPrecedenceRule(r.Context(), service.RegisterPrecedenceRuleInput{
		SourceDocument:  req.SourceDocument,
		ExternalSystems: req.ExternalSystems,
		Priority:        req.Priority,
		EffectiveDates:  req.EffectiveDates,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register precedence rule")
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

type submitExternalDataRequest struct {
	Data     domain.ExternalData `json:"data"`
	Strategy string              `json:"strategy,omitempty"`
}

// SubmitExternalData pushes one external record through the full
// validate-before-persist ingestion sequence.
func (h *MappingHandler) SubmitExternalData(w http.ResponseWriter, r *http.Request) {
	var req submitExternalDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Data.ExternalSystem == "" || req.Data.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "external_system and external_id are required")
		return
	}

	res, err := h.svc.SubmitExternalData(r.Context(), &req.Data, service.ConflictResolutionStrategy(req.Strategy))
	if err != nil {
		var terr *domain.TemporalError
		switch {
		case errors.Is(err, service.ErrUnknownStrategy):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &terr):
			writeError(w, http.StatusUnprocessableEntity, terr.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to submit external data")
		}
		return
	}

	status := http.StatusOK
	if res.Success && res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}
