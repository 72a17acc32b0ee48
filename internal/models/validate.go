package models

import "fmt"

// Validate checks the base invariants plus the variant-specific required
// fields. An empty embedding is accepted, since a memory legitimately has
// no embedding before it reaches the embedding service; a non-empty one
// must have exactly EmbeddingDimensions components.
func (m *Memory) Validate() error {
	if m.Content == "" {
		return fmt.Errorf("content required")
	}
	if len(m.Embedding) != 0 && len(m.Embedding) != EmbeddingDimensions {
		return fmt.Errorf("embedding must have %d dimensions, got %d", EmbeddingDimensions, len(m.Embedding))
	}
	if m.Deleted && m.DeletedAt == nil {
		return fmt.Errorf("deleted=true requires deleted_at to be set")
	}

	switch m.Variant {
	case VariantRequirement:
		a, ok := m.Attrs.(*RequirementAttrs)
		if !ok {
			return fmt.Errorf("requirements memory requires RequirementAttrs")
		}
		if a.Title == "" {
			return fmt.Errorf("title required")
		}
	case VariantDesign:
		a, ok := m.Attrs.(*DesignAttrs)
		if !ok {
			return fmt.Errorf("design memory requires DesignAttrs")
		}
		if a.Title == "" {
			return fmt.Errorf("title required")
		}
	case VariantCodePattern:
		a, ok := m.Attrs.(*CodePatternAttrs)
		if !ok {
			return fmt.Errorf("code_pattern memory requires CodePatternAttrs")
		}
		if a.Name == "" {
			return fmt.Errorf("name required")
		}
	case VariantComponent:
		a, ok := m.Attrs.(*ComponentAttrs)
		if !ok {
			return fmt.Errorf("component memory requires ComponentAttrs")
		}
		if a.Name == "" {
			return fmt.Errorf("name required")
		}
	case VariantFunction:
		a, ok := m.Attrs.(*FunctionAttrs)
		if !ok {
			return fmt.Errorf("function memory requires FunctionAttrs")
		}
		if a.Name == "" {
			return fmt.Errorf("name required")
		}
	case VariantTestHistory:
		a, ok := m.Attrs.(*TestHistoryAttrs)
		if !ok {
			return fmt.Errorf("test_history memory requires TestHistoryAttrs")
		}
		if a.TestName == "" {
			return fmt.Errorf("test_name required")
		}
	case VariantSession:
		a, ok := m.Attrs.(*SessionAttrs)
		if !ok {
			return fmt.Errorf("session memory requires SessionAttrs")
		}
		if a.SessionID == "" {
			return fmt.Errorf("session_id required")
		}
	case VariantUserPreference:
		a, ok := m.Attrs.(*UserPreferenceAttrs)
		if !ok {
			return fmt.Errorf("user_preference memory requires UserPreferenceAttrs")
		}
		if a.Key == "" {
			return fmt.Errorf("key required")
		}
	default:
		return fmt.Errorf("unknown variant %q", m.Variant)
	}

	return nil
}
