// Package entity resolves source records to canonical cross-source
// entities using strong identifiers first and trigram name similarity
// second.
package entity

import (
	"context"

	"github.com/google/uuid"
)

// Type is the kind of real-world entity.
type Type string

// Entity types
const (
	TypeCompany      Type = "company"
	TypePerson       Type = "person"
	TypeOrganization Type = "organization"
)

// Identifier types
const (
	IdentifierUEI       = "uei"
	IdentifierDUNS      = "duns"
	IdentifierCIK       = "cik"
	IdentifierTicker    = "ticker"
	IdentifierPartyID   = "party_id"
	IdentifierActorCode = "actor_code"
)

// IdentifierTypes lists the identifier types accepted for each entity type.
var IdentifierTypes = map[Type][]string{
	TypeCompany:      {IdentifierUEI, IdentifierDUNS, IdentifierCIK, IdentifierTicker},
	TypePerson:       {IdentifierPartyID},
	TypeOrganization: {IdentifierActorCode},
}

// SourceRecord points at the row an identifier was observed in.
type SourceRecord struct {
	Schema string
	Table  string
	ID     uuid.UUID
}

// Identifier is one row of the identifier crosswalk.
type Identifier struct {
	Type       string
	Value      string
	Source     SourceRecord
	Confidence float64
}

// Match is a fuzzy name candidate.
type Match struct {
	CanonicalID   uuid.UUID
	CanonicalName string
	EntityType    Type
	Similarity    float64
	Identifiers   []Identifier
}

// Entity is a canonical entity with all of its identifiers.
type Entity struct {
	CanonicalID   uuid.UUID
	CanonicalName string
	EntityType    Type
	Aliases       []string
	MergedFrom    []uuid.UUID
	Identifiers   map[string]string
}

// NewEntity describes a canonical entity to create.
type NewEntity struct {
	Name        string
	Type        Type
	Identifiers map[string]string
	Source      SourceRecord
	Aliases     []string
}

// Store persists canonical entities and the identifier crosswalk. An
// (identifier type, value) pair maps to at most one canonical id.
type Store interface {
	// FindMatches returns entities of entityType whose name similarity is at
	// least threshold, best first, with identifiers attached.
	FindMatches(ctx context.Context, name string, entityType Type, threshold float64, limit int) ([]Match, error)
	// FindByIdentifier returns nil when the identifier is unknown.
	FindByIdentifier(ctx context.Context, identifierType, value string) (*Entity, error)
	// CreateCanonicalEntity inserts the entity and its non-empty identifiers
	// in one transaction. A conflicting identifier is repointed.
	CreateCanonicalEntity(ctx context.Context, e NewEntity) (uuid.UUID, error)
	// LinkEntity upserts an identifier for canonicalID, keeping the higher
	// confidence on conflict.
	LinkEntity(ctx context.Context, canonicalID uuid.UUID, id Identifier) error
	// MergeEntities atomically moves identifiers and aliases from secondary
	// to primary and deletes secondary.
	MergeEntities(ctx context.Context, primaryID, secondaryID uuid.UUID) error
}

// Recipient is an award recipient awaiting resolution.
type Recipient struct {
	SourceID uuid.UUID
	Name     string
	UEI      string
	DUNS     string
}
