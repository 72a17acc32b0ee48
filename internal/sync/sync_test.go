package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/vectorstore"
)

// failingGraphStore wraps a MemStore and fails the first failTimes
// UpsertNode calls, modeling a transient C4 outage.
type failingGraphStore struct {
	*graphstore.MemStore
	failCount int
	failTimes int
}

func (f *failingGraphStore) UpsertNode(ctx context.Context, m *models.Memory) error {
	if f.failCount < f.failTimes {
		f.failCount++
		return errors.New("graph store unavailable")
	}
	return f.MemStore.UpsertNode(ctx, m)
}

// failingEdgeGraphStore lets the node upsert through but fails every edge
// upsert for the first failTimes calls, modeling a graph store that
// accepted the node but rejected the relationships in the same write.
type failingEdgeGraphStore struct {
	*graphstore.MemStore
	failCount int
	failTimes int
}

func (f *failingEdgeGraphStore) UpsertEdge(ctx context.Context, rel *models.Relationship) error {
	if f.failCount < f.failTimes {
		f.failCount++
		return errors.New("graph store unavailable")
	}
	return f.MemStore.UpsertEdge(ctx, rel)
}

func newManager(t *testing.T, graph graphstore.Store) (*Manager, vectorstore.Store) {
	t.Helper()
	vectors := vectorstore.NewMemStore()
	m, err := NewManager(vectors, graph, filepath.Join(t.TempDir(), "retrylog.db"), 10*time.Millisecond, 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, vectors
}

func newTestMemory() *models.Memory {
	return models.NewMemory(models.VariantComponent, "content", &models.ComponentAttrs{ComponentID: "c", ComponentType: "service", Name: "svc"})
}

func TestWriteSucceedsOnBothStores(t *testing.T) {
	ctx := context.Background()
	m, vectors := newManager(t, graphstore.NewMemStore())

	mem := newTestMemory()
	mem.SetEmbedding(make([]float32, models.EmbeddingDimensions))

	require.NoError(t, m.Write(ctx, mem, nil))
	require.Equal(t, models.SyncSynced, mem.SyncStatus)

	got, err := vectors.Get(ctx, mem.Variant, mem.ID.String())
	require.NoError(t, err)
	require.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestWriteDefersGraphFailureToRetryLog(t *testing.T) {
	ctx := context.Background()
	graph := &failingGraphStore{MemStore: graphstore.NewMemStore(), failTimes: 10}
	m, vectors := newManager(t, graph)

	mem := newTestMemory()
	mem.SetEmbedding(make([]float32, models.EmbeddingDimensions))

	require.NoError(t, m.Write(ctx, mem, nil))
	require.Equal(t, models.SyncPending, mem.SyncStatus)

	got, err := vectors.Get(ctx, mem.Variant, mem.ID.String())
	require.NoError(t, err)
	require.Equal(t, models.SyncPending, got.SyncStatus)

	pending, err := m.PendingRetries(ctx)
	require.NoError(t, err)
	require.Contains(t, pending, mem.ID.String())
}

func TestReconcileRecoversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	graph := &failingGraphStore{MemStore: graphstore.NewMemStore(), failTimes: 1}
	m, vectors := newManager(t, graph)

	mem := newTestMemory()
	mem.SetEmbedding(make([]float32, models.EmbeddingDimensions))
	require.NoError(t, m.Write(ctx, mem, nil))
	require.Equal(t, models.SyncPending, mem.SyncStatus)

	m.reconcileOnce(ctx)

	got, err := vectors.Get(ctx, mem.Variant, mem.ID.String())
	require.NoError(t, err)
	require.Equal(t, models.SyncSynced, got.SyncStatus)

	pending, err := m.PendingRetries(ctx)
	require.NoError(t, err)
	require.NotContains(t, pending, mem.ID.String())
}

func TestReconcileReplaysRelationshipsDeferredWithNode(t *testing.T) {
	ctx := context.Background()
	graph := &failingEdgeGraphStore{MemStore: graphstore.NewMemStore(), failTimes: 1}
	m, vectors := newManager(t, graph)

	mem := newTestMemory()
	mem.SetEmbedding(make([]float32, models.EmbeddingDimensions))
	other := newTestMemory()
	rel := models.NewRelationship(models.RelRelatedTo, mem.ID, other.ID, mem.Variant, other.Variant)

	require.NoError(t, m.Write(ctx, mem, []*models.Relationship{rel}))
	require.Equal(t, models.SyncPending, mem.SyncStatus)

	m.reconcileOnce(ctx)

	got, err := vectors.Get(ctx, mem.Variant, mem.ID.String())
	require.NoError(t, err)
	require.Equal(t, models.SyncSynced, got.SyncStatus)

	_, rels, err := graph.Traverse(ctx, graphstore.TraverseOptions{StartID: mem.ID.String(), Depth: 1, Direction: graphstore.DirBoth})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, rel.TargetID, rels[0].TargetID)
}

func TestReconcileMarksFailedAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	graph := &failingGraphStore{MemStore: graphstore.NewMemStore(), failTimes: 100}
	m, vectors := newManager(t, graph)
	m.maxRetries = 2

	mem := newTestMemory()
	mem.SetEmbedding(make([]float32, models.EmbeddingDimensions))
	require.NoError(t, m.Write(ctx, mem, nil))

	// First enqueue has NextRetry = now, so the first reconcile pass fires
	// immediately without needing to sleep past backoff.
	m.reconcileOnce(ctx)
	entries, err := m.PendingRetries(ctx)
	require.NoError(t, err)
	require.Contains(t, entries, mem.ID.String())

	// Force the backed-off entry due by rewriting NextRetry to now.
	require.NoError(t, m.persistRetry(retryEntry{
		MemoryID:  mem.ID.String(),
		Variant:   string(mem.Variant),
		Attempts:  m.maxRetries - 1,
		NextRetry: time.Now().UTC(),
	}))
	m.reconcileOnce(ctx)

	got, err := vectors.Get(ctx, mem.Variant, mem.ID.String())
	require.NoError(t, err)
	require.Equal(t, models.SyncFailed, got.SyncStatus)

	pending, err := m.PendingRetries(ctx)
	require.NoError(t, err)
	require.NotContains(t, pending, mem.ID.String())
}
