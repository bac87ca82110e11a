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

type DocumentHandler struct {
	svc *service.RegistryService
}

func NewDocumentHandler(svc *service.RegistryService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type registerDocumentRequest struct {
	ReferenceNumbers []string              `json:"reference_numbers,omitempty"`
	Title            string                `json:"title"`
	Type             string                `json:"type"`
	Version          string                `json:"version"`
	EffectiveDates   domain.EffectiveDates `json:"effective_dates"`
	Classification   map[string]string     `json:"classification,omitempty"`
	Content          string                `json:"content,omitempty"`
	Supersedes       []uuid.UUID           `json:"supersedes,omitempty"`
	DerivedFrom      []uuid.UUID           `json:"derived_from,omitempty"`
	RegisteredBy     uuid.UUID             `json:"registered_by"`
}

func (h *DocumentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.svc.Register(r.Context(), service.RegisterDocumentInput{
		ReferenceNumbers: req.ReferenceNumbers,
		Title:            req.Title,
		Type:             domain.DocumentType(req.Type),
		Version:          req.Version,
		EffectiveDates:   req.EffectiveDates,
		Classification:   req.Classification,
		Content:          req.Content,
		Supersedes:       req.Supersedes,
		DerivedFrom:      req.DerivedFrom,
	}, req.RegisteredBy)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDocumentMissingTitle),
			errors.Is(err, service.ErrDocumentInvalidType),
			errors.Is(err, service.ErrDocumentMissingStart):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "superseded document not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to register document")
		}
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

func (h *DocumentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get document")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// List returns documents filtered by type, or every document in force at the
// "at" query timestamp when one is given.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid at time")
			return
		}
		docs, err := h.svc.InForce(r.Context(), at)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list documents")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
		return
	}

	t := q.Get("type")
	if t == "" {
		writeError(w, http.StatusBadRequest, "type or at query parameter is required")
		return
	}
	if !domain.ValidDocumentType(t) {
		writeError(w, http.StatusBadRequest, "invalid document type")
		return
	}
	docs, err := h.svc.ByType(r.Context(), domain.DocumentType(t))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

type supersedeRequest struct {
	Supersedes uuid.UUID `json:"supersedes"`
}

func (h *DocumentHandler) Supersede(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req supersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.Supersede(r.Context(), id, req.Supersedes); err != nil {
		switch {
		case errors.Is(err, service.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, service.ErrSupersessionCycle),
			errors.Is(err, service.ErrSupersedeSameDocument):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to record supersession")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Chain(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	chain, err := h.svc.SupersessionChain(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to walk supersession chain")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chain": chain, "count": len(chain)})
}

type linkageRequest struct {
	HolonTypes []string `json:"holon_types,omitempty"`
}

func (h *DocumentHandler) Link(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req linkageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.HolonTypes) == 0 {
		writeError(w, http.StatusBadRequest, "holon_types is required")
		return
	}

	if err := h.svc.LinkHolonTypes(r.Context(), id, req.HolonTypes); err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to link document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Linkage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	l, err := h.svc.Linkage(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get linkage")
		return
	}

	writeJSON(w, http.StatusOK, l)
}
