package entity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Similarity thresholds.
const (
	// DefaultMatchThreshold is the floor for suggesting candidates.
	DefaultMatchThreshold = 0.6
	// AutoLinkThreshold is the similarity at which a name match is linked
	// without review.
	AutoLinkThreshold = 0.85
	// DefaultMatchLimit caps FindMatches results.
	DefaultMatchLimit = 5
)

// ErrSelfMerge is returned when both sides of a merge are the same entity.
var ErrSelfMerge = errors.New("cannot merge an entity into itself")

// Resolver matches and links entities.
type Resolver struct {
	store     Store
	threshold float64
	logger    *zap.Logger
}

// NewResolver creates a Resolver. threshold <= 0 uses DefaultMatchThreshold.
func NewResolver(store Store, threshold float64, logger *zap.Logger) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultMatchThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, threshold: threshold, logger: logger.Named("entity")}
}

// FindMatches suggests canonical entities for name.
func (r *Resolver) FindMatches(ctx context.Context, name string, entityType Type, limit int) ([]Match, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if limit <= 0 {
		limit = DefaultMatchLimit
	}
	if entityType == "" {
		entityType = TypeCompany
	}
	matches, err := r.store.FindMatches(ctx, name, entityType, r.threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find matches for %q: %w", name, err)
	}
	return matches, nil
}

// FindByIdentifier looks up an entity by a strong identifier.
func (r *Resolver) FindByIdentifier(ctx context.Context, identifierType, value string) (*Entity, error) {
	e, err := r.store.FindByIdentifier(ctx, identifierType, value)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %s: %w", identifierType, value, err)
	}
	return e, nil
}

// CreateCanonicalEntity validates identifier types and creates the entity.
func (r *Resolver) CreateCanonicalEntity(ctx context.Context, e NewEntity) (uuid.UUID, error) {
	if strings.TrimSpace(e.Name) == "" {
		return uuid.Nil, fmt.Errorf("name is required")
	}
	allowed, ok := IdentifierTypes[e.Type]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown entity type %q", e.Type)
	}
	for idType := range e.Identifiers {
		if !slices.Contains(allowed, idType) {
			return uuid.Nil, fmt.Errorf("identifier type %q is not valid for %s", idType, e.Type)
		}
	}
	id, err := r.store.CreateCanonicalEntity(ctx, e)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create entity %q: %w", e.Name, err)
	}
	r.logger.Info("created canonical entity", zap.String("canonical_id", id.String()), zap.String("name", e.Name))
	return id, nil
}

// LinkEntity attaches an identifier to an existing entity.
func (r *Resolver) LinkEntity(ctx context.Context, canonicalID uuid.UUID, id Identifier) error {
	if id.Value == "" {
		return fmt.Errorf("identifier value is required")
	}
	if id.Confidence <= 0 || id.Confidence > 1 {
		id.Confidence = 1.0
	}
	if err := r.store.LinkEntity(ctx, canonicalID, id); err != nil {
		return fmt.Errorf("failed to link %s %s: %w", id.Type, id.Value, err)
	}
	return nil
}

// MergeEntities folds secondary into primary and returns primary.
func (r *Resolver) MergeEntities(ctx context.Context, primaryID, secondaryID uuid.UUID) (uuid.UUID, error) {
	if primaryID == secondaryID {
		return uuid.Nil, ErrSelfMerge
	}
	if err := r.store.MergeEntities(ctx, primaryID, secondaryID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to merge %s into %s: %w", secondaryID, primaryID, err)
	}
	r.logger.Info("merged entities",
		zap.String("primary", primaryID.String()),
		zap.String("secondary", secondaryID.String()),
	)
	return primaryID, nil
}

// ResolveRecipient maps a USAspending recipient to a canonical company:
// by UEI, then by DUNS (back-filling the UEI), then by a high-confidence
// name match, and otherwise by creating a new entity.
func (r *Resolver) ResolveRecipient(ctx context.Context, name, uei, duns string, sourceID uuid.UUID) (uuid.UUID, error) {
	source := SourceRecord{Schema: "usaspending", Table: "awards", ID: sourceID}
	uei, duns = strings.TrimSpace(uei), strings.TrimSpace(duns)

	if uei != "" {
		e, err := r.FindByIdentifier(ctx, IdentifierUEI, uei)
		if err != nil {
			return uuid.Nil, err
		}
		if e != nil {
			return e.CanonicalID, nil
		}
	}

	if duns != "" {
		e, err := r.FindByIdentifier(ctx, IdentifierDUNS, duns)
		if err != nil {
			return uuid.Nil, err
		}
		if e != nil {
			if uei != "" {
				if err := r.LinkEntity(ctx, e.CanonicalID, Identifier{
					Type: IdentifierUEI, Value: uei, Source: source, Confidence: 1.0,
				}); err != nil {
					return uuid.Nil, err
				}
			}
			return e.CanonicalID, nil
		}
	}

	identifiers := map[string]string{}
	if uei != "" {
		identifiers[IdentifierUEI] = uei
	}
	if duns != "" {
		identifiers[IdentifierDUNS] = duns
	}

	matches, err := r.FindMatches(ctx, name, TypeCompany, DefaultMatchLimit)
	if err != nil {
		return uuid.Nil, err
	}
	if len(matches) > 0 && matches[0].Similarity >= AutoLinkThreshold {
		best := matches[0]
		for _, idType := range []string{IdentifierUEI, IdentifierDUNS} {
			value, ok := identifiers[idType]
			if !ok {
				continue
			}
			if err := r.LinkEntity(ctx, best.CanonicalID, Identifier{
				Type: idType, Value: value, Source: source, Confidence: best.Similarity,
			}); err != nil {
				return uuid.Nil, err
			}
		}
		r.logger.Debug("linked recipient by name",
			zap.String("name", name),
			zap.String("canonical_name", best.CanonicalName),
			zap.Float64("similarity", best.Similarity),
		)
		return best.CanonicalID, nil
	}

	return r.CreateCanonicalEntity(ctx, NewEntity{
		Name:        strings.TrimSpace(name),
		Type:        TypeCompany,
		Identifiers: identifiers,
		Source:      source,
	})
}
