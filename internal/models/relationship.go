package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipType is the closed edge-type vocabulary shared by every
// variant pair. New edge kinds are never invented at write time; callers
// pick from this set.
type RelationshipType string

const (
	// Code relationships.
	RelCalls     RelationshipType = "CALLS"
	RelImports   RelationshipType = "IMPORTS"
	RelExtends   RelationshipType = "EXTENDS"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelDependsOn RelationshipType = "DEPENDS_ON"
	RelContains  RelationshipType = "CONTAINS"
	RelUses      RelationshipType = "USES"

	// Requirement relationships.
	RelDerivedFrom RelationshipType = "DERIVED_FROM"
	RelSatisfiedBy RelationshipType = "SATISFIED_BY"
	RelTestedBy    RelationshipType = "TESTED_BY"

	// Design relationships.
	RelAddresses  RelationshipType = "ADDRESSES"
	RelAffects    RelationshipType = "AFFECTS"
	RelSupersedes RelationshipType = "SUPERSEDES"

	// Pattern relationships.
	RelFollowsPattern RelationshipType = "FOLLOWS_PATTERN"
	RelDeviatesFrom   RelationshipType = "DEVIATES_FROM"

	// Session relationships.
	RelCreatedIn  RelationshipType = "CREATED_IN"
	RelModifiedIn RelationshipType = "MODIFIED_IN"

	// General relationships.
	RelRelatedTo RelationshipType = "RELATED_TO"
	RelSimilarTo RelationshipType = "SIMILAR_TO"
)

// Relationship is a directed typed edge between two memories of any variant.
// Uniqueness of (SourceID, TargetID, Type) is enforced on write by the graph
// store adapter (idempotent upsert).
type Relationship struct {
	ID         uuid.UUID         `json:"id"`
	Type       RelationshipType  `json:"type"`
	SourceID   uuid.UUID         `json:"source_id"`
	TargetID   uuid.UUID         `json:"target_id"`
	SourceVariant Variant        `json:"source_variant"`
	TargetVariant Variant        `json:"target_variant"`
	CreatedAt  time.Time         `json:"created_at"`
	Weight     float64           `json:"weight"`
	Properties map[string]any    `json:"properties,omitempty"`
}

// NewRelationship builds a relationship with identity and timestamp filled
// in, weight defaulting to 1.0 per the spec's default edge strength.
func NewRelationship(relType RelationshipType, sourceID, targetID uuid.UUID, sourceVariant, targetVariant Variant) *Relationship {
	return &Relationship{
		ID:            uuid.New(),
		Type:          relType,
		SourceID:      sourceID,
		TargetID:      targetID,
		SourceVariant: sourceVariant,
		TargetVariant: targetVariant,
		CreatedAt:     time.Now().UTC(),
		Weight:        1.0,
		Properties:    map[string]any{},
	}
}

// Key returns the uniqueness key the graph store deduplicates edges on.
func (r *Relationship) Key() string {
	return r.SourceID.String() + "|" + r.TargetID.String() + "|" + string(r.Type)
}
