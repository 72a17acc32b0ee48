package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/models"
)

func unitVec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := unitVec(8, 0)
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	require.InDelta(t, 0.0, CosineSimilarity(unitVec(8, 0), unitVec(8, 1)), 1e-9)
}

func newTestMemory(t *testing.T, variant models.Variant, content string, vec []float32) *models.Memory {
	t.Helper()
	m := models.NewMemory(variant, content, &models.CodePatternAttrs{Name: "p", PatternType: "x", Language: "go", CodeTemplate: "x"})
	m.SetEmbedding(vec)
	return m
}

func TestMemStoreSearchRanksBySimilarityAndRespectsMinScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureCollection(ctx, models.VariantCodePattern))

	dims := 8
	near := newTestMemory(t, models.VariantCodePattern, "near", unitVec(dims, 0))
	far := newTestMemory(t, models.VariantCodePattern, "far", unitVec(dims, 1))

	require.NoError(t, store.Upsert(ctx, near))
	require.NoError(t, store.Upsert(ctx, far))

	results, err := store.Search(ctx, SearchOptions{
		Variant:  models.VariantCodePattern,
		Vector:   unitVec(dims, 0),
		Limit:    10,
		MinScore: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, near.ID, results[0].Memory.ID)
}

func TestMemStoreSearchExcludesSelf(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureCollection(ctx, models.VariantCodePattern))

	dims := 8
	m := newTestMemory(t, models.VariantCodePattern, "self", unitVec(dims, 0))
	require.NoError(t, store.Upsert(ctx, m))

	results, err := store.Search(ctx, SearchOptions{
		Variant:   models.VariantCodePattern,
		Vector:    unitVec(dims, 0),
		Limit:     10,
		MinScore:  0.0,
		ExcludeID: m.ID.String(),
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestMemStoreSearchSkipsDeleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureCollection(ctx, models.VariantCodePattern))

	dims := 8
	m := newTestMemory(t, models.VariantCodePattern, "deleted", unitVec(dims, 0))
	m.MarkDeleted()
	require.NoError(t, store.Upsert(ctx, m))

	results, err := store.Search(ctx, SearchOptions{Variant: models.VariantCodePattern, Vector: unitVec(dims, 0), Limit: 10})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestMemStoreGetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	m := newTestMemory(t, models.VariantCodePattern, "x", unitVec(4, 0))
	require.NoError(t, store.Upsert(ctx, m))

	got, err := store.Get(ctx, models.VariantCodePattern, m.ID.String())
	require.NoError(t, err)
	require.Equal(t, m.Content, got.Content)

	require.NoError(t, store.Delete(ctx, models.VariantCodePattern, m.ID.String()))
	_, err = store.Get(ctx, models.VariantCodePattern, m.ID.String())
	require.Error(t, err)
}
