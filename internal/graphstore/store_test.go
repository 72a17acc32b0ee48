package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/models"
)

func newNode(t *testing.T, variant models.Variant, content string) *models.Memory {
	t.Helper()
	return models.NewMemory(variant, content, &models.ComponentAttrs{ComponentID: "c1", ComponentType: "service", Name: content})
}

func TestMemStoreTraverseOneHopOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a := newNode(t, models.VariantComponent, "a")
	b := newNode(t, models.VariantComponent, "b")
	require.NoError(t, store.UpsertNode(ctx, a))
	require.NoError(t, store.UpsertNode(ctx, b))

	rel := models.NewRelationship(models.RelDependsOn, a.ID, b.ID, models.VariantComponent, models.VariantComponent)
	require.NoError(t, store.UpsertEdge(ctx, rel))

	nodes, rels, err := store.Traverse(ctx, TraverseOptions{StartID: a.ID.String(), Depth: 1, Direction: DirOut})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, b.ID.String(), nodes[0].ID)
	require.Len(t, rels, 1)
	require.Equal(t, models.RelDependsOn, rels[0].Type)
}

func TestMemStoreTraverseFiltersByEdgeType(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a := newNode(t, models.VariantComponent, "a")
	b := newNode(t, models.VariantComponent, "b")
	require.NoError(t, store.UpsertNode(ctx, a))
	require.NoError(t, store.UpsertNode(ctx, b))
	require.NoError(t, store.UpsertEdge(ctx, models.NewRelationship(models.RelCalls, a.ID, b.ID, models.VariantComponent, models.VariantComponent)))

	nodes, _, err := store.Traverse(ctx, TraverseOptions{
		StartID:   a.ID.String(),
		Depth:     1,
		Direction: DirOut,
		EdgeTypes: []models.RelationshipType{models.RelImports},
	})
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestMemStoreTraverseTwoHops(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a := newNode(t, models.VariantComponent, "a")
	b := newNode(t, models.VariantComponent, "b")
	c := newNode(t, models.VariantComponent, "c")
	for _, n := range []*models.Memory{a, b, c} {
		require.NoError(t, store.UpsertNode(ctx, n))
	}
	require.NoError(t, store.UpsertEdge(ctx, models.NewRelationship(models.RelDependsOn, a.ID, b.ID, models.VariantComponent, models.VariantComponent)))
	require.NoError(t, store.UpsertEdge(ctx, models.NewRelationship(models.RelDependsOn, b.ID, c.ID, models.VariantComponent, models.VariantComponent)))

	nodes, _, err := store.Traverse(ctx, TraverseOptions{StartID: a.ID.String(), Depth: 2, Direction: DirOut})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
}

func TestMemStoreDeleteNodeRemovesIncidentEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a := newNode(t, models.VariantComponent, "a")
	b := newNode(t, models.VariantComponent, "b")
	require.NoError(t, store.UpsertNode(ctx, a))
	require.NoError(t, store.UpsertNode(ctx, b))
	require.NoError(t, store.UpsertEdge(ctx, models.NewRelationship(models.RelDependsOn, a.ID, b.ID, models.VariantComponent, models.VariantComponent)))

	require.NoError(t, store.DeleteNode(ctx, a.ID.String()))

	nodes, rels, err := store.Traverse(ctx, TraverseOptions{StartID: b.ID.String(), Depth: 1, Direction: DirIn})
	require.NoError(t, err)
	require.Empty(t, nodes)
	require.Empty(t, rels)
}

func TestMemStoreCountByVariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.UpsertNode(ctx, newNode(t, models.VariantComponent, "a")))
	require.NoError(t, store.UpsertNode(ctx, newNode(t, models.VariantFunction, "b")))

	count, err := store.CountByVariant(ctx, models.VariantComponent)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
