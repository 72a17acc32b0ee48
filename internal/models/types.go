// Package models defines the memory data model: the Memory sum type, its
// eight variants, and the Relationship edge type shared by the vector and
// graph store adapters.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingDimensions is the fixed dimensionality of every stored vector (D).
const EmbeddingDimensions = 1024

// Variant discriminates the eight memory kinds.
type Variant string

const (
	VariantRequirement    Variant = "requirements"
	VariantDesign         Variant = "design"
	VariantCodePattern    Variant = "code_pattern"
	VariantComponent      Variant = "component"
	VariantFunction       Variant = "function"
	VariantTestHistory    Variant = "test_history"
	VariantSession        Variant = "session"
	VariantUserPreference Variant = "user_preference"
)

// Variants lists every discriminator value, used by components that must
// iterate all per-variant collections/labels (e.g. semantic_search with no
// explicit variant filter, or the normalizer's snapshot phase).
var Variants = []Variant{
	VariantRequirement,
	VariantDesign,
	VariantCodePattern,
	VariantComponent,
	VariantFunction,
	VariantTestHistory,
	VariantSession,
	VariantUserPreference,
}

// SyncStatus is the cross-store reconciliation state of a memory.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

// Memory is the shared envelope for every stored knowledge item. Attrs holds
// exactly one of the eight variant-specific attribute structs, selected by
// Variant; this is Go's closed-sum-type idiom in place of the dynamic
// discriminated dict the original service used.
type Memory struct {
	ID      uuid.UUID `json:"id"`
	Variant Variant   `json:"type"`

	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	ImportanceScore float64 `json:"importance_score"`

	GraphNodeID string     `json:"graph_node_id,omitempty"`
	SyncStatus  SyncStatus `json:"sync_status"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Attrs is one of *RequirementAttrs, *DesignAttrs, *CodePatternAttrs,
	// *ComponentAttrs, *FunctionAttrs, *TestHistoryAttrs, *SessionAttrs or
	// *UserPreferenceAttrs, matching Variant.
	Attrs any `json:"attrs,omitempty"`
}

// NewMemory builds a Memory with identity and timestamps populated, ready
// for content normalization and embedding.
func NewMemory(variant Variant, content string, attrs any) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:              uuid.New(),
		Variant:         variant,
		Content:         content,
		CreatedAt:       now,
		UpdatedAt:       now,
		ImportanceScore: 0.5,
		SyncStatus:      SyncSynced,
		Attrs:           attrs,
	}
}

// MarkDeleted soft-deletes the memory in place.
func (m *Memory) MarkDeleted() {
	now := time.Now().UTC()
	m.Deleted = true
	m.DeletedAt = &now
}

// RecordAccess bumps the access counter and last-access timestamp.
func (m *Memory) RecordAccess() {
	now := time.Now().UTC()
	m.AccessCount++
	m.LastAccessedAt = &now
}

// Touch refreshes UpdatedAt without touching CreatedAt.
func (m *Memory) Touch() {
	m.UpdatedAt = time.Now().UTC()
}

// SetEmbedding installs a new vector and bumps UpdatedAt.
func (m *Memory) SetEmbedding(vec []float32) {
	m.Embedding = vec
	m.Touch()
}

// RequirementAttrs holds fields specific to a requirements memory.
type RequirementAttrs struct {
	RequirementID  string `json:"requirement_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Priority       string `json:"priority"`
	Status         string `json:"status"`
	SourceDocument string `json:"source_document,omitempty"`
}

// DesignAttrs holds fields specific to a design-decision memory.
type DesignAttrs struct {
	DesignType           string   `json:"design_type"`
	Title                string   `json:"title"`
	Decision             string   `json:"decision"`
	Rationale            string   `json:"rationale"`
	Status               string   `json:"status"`
	RelatedRequirementIDs []string `json:"related_requirement_ids,omitempty"`
}

// CodePatternAttrs holds fields specific to a reusable code-pattern memory.
type CodePatternAttrs struct {
	Name         string `json:"name"`
	PatternType  string `json:"pattern_type"`
	Language     string `json:"language"`
	CodeTemplate string `json:"code_template"`
	UsageContext string `json:"usage_context,omitempty"`
}

// ComponentAttrs holds fields specific to a software-component memory.
type ComponentAttrs struct {
	ComponentID      string `json:"component_id"`
	ComponentType    string `json:"component_type"`
	Name             string `json:"name"`
	FilePath         string `json:"file_path"`
	PublicInterface  string `json:"public_interface,omitempty"`
}

// FunctionAttrs holds fields specific to a single function/method memory.
type FunctionAttrs struct {
	Name            string `json:"name"`
	Signature       string `json:"signature"`
	FilePath        string `json:"file_path"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	Language        string `json:"language"`
	Docstring       string `json:"docstring,omitempty"`
	ContainingClass string `json:"containing_class,omitempty"`
}

// TestHistoryAttrs holds fields specific to a recorded test execution.
type TestHistoryAttrs struct {
	TestID    string    `json:"test_id"`
	TestName  string    `json:"test_name"`
	FilePath  string    `json:"file_path"`
	ExecutedAt time.Time `json:"executed_at"`
	Status    string    `json:"status"`
}

// SessionAttrs holds fields specific to a recorded work session.
type SessionAttrs struct {
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	Summary      string    `json:"summary"`
	KeyDecisions []string  `json:"key_decisions,omitempty"`
}

// UserPreferenceAttrs holds fields specific to a stored user preference.
type UserPreferenceAttrs struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Scope    string `json:"scope,omitempty"`
}
