package normalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/vectorstore"
)

func newTestNormalizer(t *testing.T) (*Normalizer, vectorstore.Store, graphstore.Store) {
	t.Helper()
	vectors := vectorstore.NewMemStore()
	graph := graphstore.NewMemStore()
	return New(vectors, graph, 1000, 30, 0.85, nil), vectors, graph
}

func storedMemory(t *testing.T, ctx context.Context, vectors vectorstore.Store, content string, importance float64) *models.Memory {
	t.Helper()
	m := models.NewMemory(models.VariantRequirement, content, &models.RequirementAttrs{Title: "t"})
	m.ImportanceScore = importance
	m.SetEmbedding(make([]float32, models.EmbeddingDimensions))
	require.NoError(t, vectors.Upsert(ctx, m))
	return m
}

func TestSnapshotCountsAcrossVariants(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)
	storedMemory(t, ctx, vectors, "one", 0.5)
	storedMemory(t, ctx, vectors, "two", 0.5)

	snap, err := n.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.CountsByVariant[models.VariantRequirement])
	require.NotEmpty(t, snap.Checksum)
}

func TestSnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)
	storedMemory(t, ctx, vectors, "stable", 0.5)

	s1, err := n.Snapshot(ctx)
	require.NoError(t, err)
	s2, err := n.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, s1.Checksum, s2.Checksum)
}

func TestValidateFlagsMissingEmbedding(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)

	m := models.NewMemory(models.VariantRequirement, "no embedding", &models.RequirementAttrs{Title: "t"})
	require.NoError(t, vectors.Upsert(ctx, m))

	issues, err := n.Validate(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, issues)
}

func TestDeduplicateKeepsHighestImportanceSurvivor(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)

	low := storedMemory(t, ctx, vectors, "duplicate content", 0.2)
	high := storedMemory(t, ctx, vectors, "duplicate content", 0.9)

	clusters, err := n.Deduplicate(ctx, false)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, high.ID.String(), clusters[0].Survivor)
	require.Contains(t, clusters[0].Removed, low.ID.String())

	got, err := vectors.Get(ctx, models.VariantRequirement, low.ID.String())
	require.NoError(t, err)
	require.True(t, got.Deleted, "losing duplicate must be soft-deleted, not removed")

	survivor, err := vectors.Get(ctx, models.VariantRequirement, high.ID.String())
	require.NoError(t, err)
	require.False(t, survivor.Deleted)
}

func TestDeduplicateRepointsEdgesToSurvivor(t *testing.T) {
	ctx := context.Background()
	n, vectors, graph := newTestNormalizer(t)

	low := storedMemory(t, ctx, vectors, "duplicate content", 0.2)
	high := storedMemory(t, ctx, vectors, "duplicate content", 0.9)
	other := storedMemory(t, ctx, vectors, "unrelated", 0.5)

	require.NoError(t, graph.UpsertNode(ctx, low))
	require.NoError(t, graph.UpsertNode(ctx, high))
	require.NoError(t, graph.UpsertNode(ctx, other))
	rel := models.NewRelationship(models.RelRelatedTo, low.ID, other.ID, low.Variant, other.Variant)
	require.NoError(t, graph.UpsertEdge(ctx, rel))

	_, err := n.Deduplicate(ctx, false)
	require.NoError(t, err)

	_, rels, err := graph.Traverse(ctx, graphstore.TraverseOptions{StartID: high.ID.String(), Depth: 1, Direction: graphstore.DirBoth})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, other.ID, rels[0].TargetID)
	require.Equal(t, high.ID, rels[0].SourceID)
}

func TestDeduplicateDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)

	a := storedMemory(t, ctx, vectors, "dup", 0.5)
	b := storedMemory(t, ctx, vectors, "dup", 0.5)

	clusters, err := n.Deduplicate(ctx, true)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	for _, m := range []*models.Memory{a, b} {
		got, err := vectors.Get(ctx, models.VariantRequirement, m.ID.String())
		require.NoError(t, err, "dry run must not delete anything")
		require.False(t, got.Deleted, "dry run must not soft-delete anything")
	}
}

func TestCleanupHardDeletesPastRetention(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)
	n.softDeleteRetention = 0 // treat any soft-deleted memory as past retention

	m := storedMemory(t, ctx, vectors, "gone soon", 0.5)
	past := time.Now().UTC().Add(-time.Hour)
	m.Deleted = true
	m.DeletedAt = &past
	require.NoError(t, vectors.Upsert(ctx, m))

	result, err := n.Cleanup(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.HardDeleted)

	_, err = vectors.Get(ctx, models.VariantRequirement, m.ID.String())
	require.Error(t, err)
}

func TestCleanupDryRunReportsWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	n, vectors, _ := newTestNormalizer(t)
	n.softDeleteRetention = 0

	m := storedMemory(t, ctx, vectors, "still here", 0.5)
	past := time.Now().UTC().Add(-time.Hour)
	m.Deleted = true
	m.DeletedAt = &past
	require.NoError(t, vectors.Upsert(ctx, m))

	result, err := n.Cleanup(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.HardDeleted)

	_, err = vectors.Get(ctx, models.VariantRequirement, m.ID.String())
	require.NoError(t, err, "dry run must not delete anything")
}
