package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/embedcache"
	"github.com/memcore/memcore/internal/embedding"
	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/vectorstore"
)

// firstByteVec embeds text into a one-hot vector keyed by its first byte,
// so texts sharing a first character are close and others are orthogonal;
// deterministic and adequate for exercising ranking logic.
type firstByteVec struct{}

func (firstByteVec) Dimensions() int { return models.EmbeddingDimensions }

func (firstByteVec) Generate(_ context.Context, text string, _ embedding.InputType) ([]float32, error) {
	v := make([]float32, models.EmbeddingDimensions)
	if len(text) > 0 {
		v[int(text[0])%models.EmbeddingDimensions] = 1
	}
	return v, nil
}

func (f firstByteVec) GenerateBatch(ctx context.Context, texts []string, kind embedding.InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Generate(ctx, t, kind)
	}
	return out, nil
}

func newTestEngine(t *testing.T) (*Engine, vectorstore.Store, graphstore.Store) {
	t.Helper()
	cache, err := embedcache.Open(filepath.Join(t.TempDir(), "cache.db"), 16, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	svc := embedding.NewService(firstByteVec{}, nil, cache, "test-model", nil)
	vectors := vectorstore.NewMemStore()
	graph := graphstore.NewMemStore()

	engine := New(vectors, graph, svc, 10, 100, 5, 0.7, 0.6)
	return engine, vectors, graph
}

func mustEmbedAndStore(t *testing.T, ctx context.Context, engine *Engine, vectors vectorstore.Store, mem *models.Memory) {
	t.Helper()
	vec, err := engine.embedder.Embed(ctx, mem.Content, embedding.InputDocument)
	require.NoError(t, err)
	mem.SetEmbedding(vec)
	require.NoError(t, vectors.Upsert(ctx, mem))
}

func TestSemanticSearchRanksClosestFirst(t *testing.T) {
	ctx := context.Background()
	engine, vectors, _ := newTestEngine(t)

	close := models.NewMemory(models.VariantRequirement, "Apple pie recipe", &models.RequirementAttrs{Title: "t"})
	far := models.NewMemory(models.VariantRequirement, "Zebra migration patterns", &models.RequirementAttrs{Title: "t"})
	mustEmbedAndStore(t, ctx, engine, vectors, close)
	mustEmbedAndStore(t, ctx, engine, vectors, far)

	results, err := engine.SemanticSearch(ctx, "Apple orchard", models.VariantRequirement, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, close.ID, results[0].Memory.ID)
}

func TestCodeSearchRewardsLexicalOverlap(t *testing.T) {
	ctx := context.Background()
	engine, vectors, _ := newTestEngine(t)

	matching := models.NewMemory(models.VariantCodePattern, "func RetryWithBackoff(ctx context.Context)", &models.CodePatternAttrs{Name: "retry", PatternType: "resilience", Language: "go", CodeTemplate: "x"})
	unrelated := models.NewMemory(models.VariantCodePattern, "func ParseManifest(path string)", &models.CodePatternAttrs{Name: "parse", PatternType: "io", Language: "go", CodeTemplate: "x"})
	mustEmbedAndStore(t, ctx, engine, vectors, matching)
	mustEmbedAndStore(t, ctx, engine, vectors, unrelated)

	results, err := engine.CodeSearch(ctx, "RetryWithBackoff", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, matching.ID, results[0].Memory.ID)
}

func TestFindDuplicatesExcludesSelf(t *testing.T) {
	ctx := context.Background()
	engine, vectors, _ := newTestEngine(t)

	mem := models.NewMemory(models.VariantRequirement, "Shared content", &models.RequirementAttrs{Title: "t"})
	mustEmbedAndStore(t, ctx, engine, vectors, mem)

	dupes, err := engine.FindDuplicates(ctx, models.VariantRequirement, mem.ID.String(), 0.5, 10)
	require.NoError(t, err)
	require.Empty(t, dupes)
}

func TestGetRelatedJoinsGraphNeighboursToVectorRecords(t *testing.T) {
	ctx := context.Background()
	engine, vectors, graph := newTestEngine(t)

	a := models.NewMemory(models.VariantComponent, "Service A", &models.ComponentAttrs{ComponentID: "a", ComponentType: "service", Name: "A"})
	b := models.NewMemory(models.VariantComponent, "Service B", &models.ComponentAttrs{ComponentID: "b", ComponentType: "service", Name: "B"})
	mustEmbedAndStore(t, ctx, engine, vectors, a)
	mustEmbedAndStore(t, ctx, engine, vectors, b)
	require.NoError(t, graph.UpsertNode(ctx, a))
	require.NoError(t, graph.UpsertNode(ctx, b))
	require.NoError(t, graph.UpsertEdge(ctx, models.NewRelationship(models.RelDependsOn, a.ID, b.ID, models.VariantComponent, models.VariantComponent)))

	related, rels, err := engine.GetRelated(ctx, models.VariantComponent, a.ID.String(), 1, graphstore.DirOut, nil, 10)
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, b.ID, related[0].Memory.ID)
	require.Len(t, rels, 1)
}

func TestGetRelatedFiltersByEdgeType(t *testing.T) {
	ctx := context.Background()
	engine, vectors, graph := newTestEngine(t)

	a := models.NewMemory(models.VariantComponent, "Service A", &models.ComponentAttrs{ComponentID: "a", ComponentType: "service", Name: "A"})
	b := models.NewMemory(models.VariantComponent, "Service B", &models.ComponentAttrs{ComponentID: "b", ComponentType: "service", Name: "B"})
	c := models.NewMemory(models.VariantComponent, "Service C", &models.ComponentAttrs{ComponentID: "c", ComponentType: "service", Name: "C"})
	mustEmbedAndStore(t, ctx, engine, vectors, a)
	mustEmbedAndStore(t, ctx, engine, vectors, b)
	mustEmbedAndStore(t, ctx, engine, vectors, c)
	require.NoError(t, graph.UpsertNode(ctx, a))
	require.NoError(t, graph.UpsertNode(ctx, b))
	require.NoError(t, graph.UpsertNode(ctx, c))
	require.NoError(t, graph.UpsertEdge(ctx, models.NewRelationship(models.RelExtends, a.ID, b.ID, models.VariantComponent, models.VariantComponent)))
	require.NoError(t, graph.UpsertEdge(ctx, models.NewRelationship(models.RelDependsOn, a.ID, c.ID, models.VariantComponent, models.VariantComponent)))

	related, rels, err := engine.GetRelated(ctx, models.VariantComponent, a.ID.String(), 1, graphstore.DirOut, []models.RelationshipType{models.RelExtends}, 10)
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, b.ID, related[0].Memory.ID)
	require.Len(t, rels, 1)
	require.Equal(t, models.RelExtends, rels[0].Type)
}

func TestHybridBlendsSemanticAndGraphProximity(t *testing.T) {
	ctx := context.Background()
	engine, vectors, graph := newTestEngine(t)

	seed := models.NewMemory(models.VariantComponent, "Apple core service", &models.ComponentAttrs{ComponentID: "seed", ComponentType: "service", Name: "seed"})
	neighbour := models.NewMemory(models.VariantComponent, "Zebra unrelated text", &models.ComponentAttrs{ComponentID: "n", ComponentType: "service", Name: "n"})
	mustEmbedAndStore(t, ctx, engine, vectors, seed)
	mustEmbedAndStore(t, ctx, engine, vectors, neighbour)
	require.NoError(t, graph.UpsertNode(ctx, seed))
	require.NoError(t, graph.UpsertNode(ctx, neighbour))
	require.NoError(t, graph.UpsertEdge(ctx, models.NewRelationship(models.RelRelatedTo, seed.ID, neighbour.ID, models.VariantComponent, models.VariantComponent)))

	results, err := engine.Hybrid(ctx, "Apple orchard", models.VariantComponent, 10)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.Memory.ID.String()] = true
	}
	require.True(t, ids[seed.ID.String()])
	require.True(t, ids[neighbour.ID.String()], "graph-connected neighbour should surface even with a weak semantic score")
}
