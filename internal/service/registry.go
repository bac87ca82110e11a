package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/osmotic/tessera/internal/domain"
	"github.com/osmotic/tessera/internal/store"
	"go.uber.org/zap"
)

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDocumentInvalidType   = errors.New("invalid document type")
	ErrDocumentMissingTitle  = errors.New("document title is required")
	ErrDocumentMissingStart  = errors.New("document effective start is required")
	ErrSupersessionCycle     = errors.New("supersession would create a cycle")
	ErrSupersedeSameDocument = errors.New("a document cannot supersede itself")
)

// RegistryService is the catalog of authoritative documents. It is the
// temporal oracle the rest of the core consults to decide which knowledge
// applied at a given instant.
type RegistryService struct {
	docs   domain.DocumentStore
	logger *zap.Logger
}

func NewRegistryService(docs domain.DocumentStore, logger *zap.Logger) *RegistryService {
	return &RegistryService{docs: docs, logger: logger}
}

type RegisterDocumentInput struct {
	ReferenceNumbers []string
	Title            string
	Type             domain.DocumentType
	Version          string
	EffectiveDates   domain.EffectiveDates
	Classification   map[string]string
	Content          string
	Supersedes       []uuid.UUID
	DerivedFrom      []uuid.UUID
}

// Register catalogs a new document and records any declared supersession
// edges. createdBy is the id of the event that introduced the document.
func (s *RegistryService) Register(ctx context.Context, in RegisterDocumentInput, createdBy uuid.UUID) (*domain.Document, error) {
	if in.Title == "" {
		return nil, ErrDocumentMissingTitle
	}
	if !domain.ValidDocumentType(string(in.Type)) {
		return nil, ErrDocumentInvalidType
	}
	if in.EffectiveDates.Start.IsZero() {
		return nil, ErrDocumentMissingStart
	}

	d := &domain.Document{
		ID:               uuid.New(),
		ReferenceNumbers: in.ReferenceNumbers,
		Title:            in.Title,
		Type:             in.Type,
		Version:          in.Version,
		EffectiveDates:   in.EffectiveDates,
		Classification:   in.Classification,
		Content:          in.Content,
		Supersedes:       in.Supersedes,
		DerivedFrom:      in.DerivedFrom,
		CreatedBy:        createdBy,
		RegisteredAt:     time.Now().UTC(),
	}
	if err := s.docs.Create(ctx, d); err != nil {
		return nil, err
	}
	for _, old := range in.Supersedes {
		if err := s.docs.AddSupersession(ctx, d.ID, old); err != nil {
			return nil, err
		}
	}

	s.logger.Info("document registered",
		zap.String("document_id", d.ID.String()),
		zap.String("type", string(d.Type)),
		zap.String("title", d.Title),
	)
	return d, nil
}

func (s *RegistryService) Get(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	d, err := s.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *RegistryService) ByType(ctx context.Context, t domain.DocumentType) ([]domain.Document, error) {
	return s.docs.ByType(ctx, t)
}

// InForce returns every document whose effective window contains ts.
func (s *RegistryService) InForce(ctx context.Context, ts time.Time) ([]domain.Document, error) {
	all, err := s.docs.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for i := range all {
		if all[i].InForceAt(ts) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Supersede records that newID supersedes oldID. Idempotent. It is
// bookkeeping only: the prior document stays queryable so older events can
// still be validated against it. A supersession that would close a cycle is
// rejected.
func (s *RegistryService) Supersede(ctx context.Context, newID, oldID uuid.UUID) error {
	if newID == oldID {
		return ErrSupersedeSameDocument
	}
	if _, err := s.Get(ctx, newID); err != nil {
		return err
	}
	if _, err := s.Get(ctx, oldID); err != nil {
		return err
	}

	reachable, err := s.chainIDs(ctx, oldID)
	if err != nil {
		return err
	}
	for _, id := range reachable {
		if id == newID {
			return ErrSupersessionCycle
		}
	}

	return s.docs.AddSupersession(ctx, newID, oldID)
}

// SupersessionChain returns the documents id supersedes, transitively, in
// breadth-first order starting from the direct targets.
func (s *RegistryService) SupersessionChain(ctx context.Context, id uuid.UUID) ([]domain.Document, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := s.chainIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for _, chainID := range ids {
		d, err := s.Get(ctx, chainID)
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *RegistryService) chainIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{id: true}
	frontier := []uuid.UUID{id}
	var out []uuid.UUID
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		targets, err := s.docs.SupersessionTargets(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
			frontier = append(frontier, t)
		}
	}
	return out, nil
}

// LinkHolonTypes unions the holon types into the document's linkage record.
func (s *RegistryService) LinkHolonTypes(ctx context.Context, id uuid.UUID, types []string) error {
	return s.updateLinkage(ctx, id, func(l *domain.DocumentLinkage) {
		l.HolonTypes = unionStrings(l.HolonTypes, types)
	})
}

// LinkConstraints unions the constraint ids into the document's linkage record.
func (s *RegistryService) LinkConstraints(ctx context.Context, id uuid.UUID, ids []uuid.UUID) error {
	return s.updateLinkage(ctx, id, func(l *domain.DocumentLinkage) {
		l.ConstraintIDs = unionUUIDs(l.ConstraintIDs, ids)
	})
}

// LinkMeasures unions the measure ids into the document's linkage record.
func (s *RegistryService) LinkMeasures(ctx context.Context, id uuid.UUID, ids []string) error {
	return s.updateLinkage(ctx, id, func(l *domain.DocumentLinkage) {
		l.MeasureIDs = unionStrings(l.MeasureIDs, ids)
	})
}

// LinkLenses unions the lens ids into the document's linkage record.
func (s *RegistryService) LinkLenses(ctx context.Context, id uuid.UUID, ids []string) error {
	return s.updateLinkage(ctx, id, func(l *domain.DocumentLinkage) {
		l.LensIDs = unionStrings(l.LensIDs, ids)
	})
}

// ClearLinkage resets the document's linkage record. The only way linkage
// ever shrinks.
func (s *RegistryService) ClearLinkage(ctx context.Context, id uuid.UUID) error {
	return s.updateLinkage(ctx, id, func(l *domain.DocumentLinkage) {
		l.HolonTypes = nil
		l.ConstraintIDs = nil
		l.MeasureIDs = nil
		l.LensIDs = nil
	})
}

func (s *RegistryService) Linkage(ctx context.Context, id uuid.UUID) (*domain.DocumentLinkage, error) {
	l, err := s.docs.Linkage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *RegistryService) updateLinkage(ctx context.Context, id uuid.UUID, apply func(*domain.DocumentLinkage)) error {
	l, err := s.Linkage(ctx, id)
	if err != nil {
		return err
	}
	apply(l)
	return s.docs.UpdateLinkage(ctx, l)
}

// DefiningHolonType returns the documents whose linkage names the holon type.
func (s *RegistryService) DefiningHolonType(ctx context.Context, holonType string) ([]domain.Document, error) {
	return s.documentsWhere(ctx, func(l *domain.DocumentLinkage) bool {
		return l.HasHolonType(holonType)
	})
}

// DefiningConstraint returns the documents whose linkage names the constraint.
func (s *RegistryService) DefiningConstraint(ctx context.Context, constraintID uuid.UUID) ([]domain.Document, error) {
	return s.documentsWhere(ctx, func(l *domain.DocumentLinkage) bool {
		return l.HasConstraint(constraintID)
	})
}

func (s *RegistryService) documentsWhere(ctx context.Context, match func(*domain.DocumentLinkage) bool) ([]domain.Document, error) {
	all, err := s.docs.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for i := range all {
		l, err := s.docs.Linkage(ctx, all[i].ID)
		if err != nil {
			return nil, err
		}
		if match(l) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func unionStrings(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	return existing
}

func unionUUIDs(existing, add []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range add {
		if !seen[id] {
			seen[id] = true
			existing = append(existing, id)
		}
	}
	return existing
}
