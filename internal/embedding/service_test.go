package embedding

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memcore/memcore/internal/embedcache"
	"github.com/memcore/memcore/internal/models"
)

type fakeGenerator struct {
	calls int
	err   error
	vec   func(text string) []float32
}

func (f *fakeGenerator) Dimensions() int { return models.EmbeddingDimensions }

func (f *fakeGenerator) Generate(_ context.Context, text string, _ InputType) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec(text), nil
}

func (f *fakeGenerator) GenerateBatch(ctx context.Context, texts []string, kind InputType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Generate(ctx, t, kind)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func constVec(seed float32) func(string) []float32 {
	return func(string) []float32 {
		v := make([]float32, models.EmbeddingDimensions)
		v[0] = seed
		return v
	}
}

func newTestCache(t *testing.T) *embedcache.Cache {
	t.Helper()
	c, err := embedcache.Open(filepath.Join(t.TempDir(), "cache.db"), 16, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServiceEmbedCachesResult(t *testing.T) {
	gen := &fakeGenerator{vec: constVec(1)}
	svc := NewService(gen, nil, newTestCache(t), "test-model", nil)

	v1, err := svc.Embed(context.Background(), "hello world", InputDocument)
	require.NoError(t, err)
	require.Equal(t, float32(1), v1[0])
	require.Equal(t, 1, gen.calls)

	v2, err := svc.Embed(context.Background(), "hello world", InputDocument)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, gen.calls, "second call should be served from cache")
}

func TestServiceEmbedFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &fakeGenerator{err: errors.New("provider down")}
	fallback := &fakeGenerator{vec: constVec(2)}
	svc := NewService(primary, fallback, newTestCache(t), "test-model", nil)

	v, err := svc.Embed(context.Background(), "some content", InputDocument)
	require.NoError(t, err)
	require.Equal(t, float32(2), v[0])
}

func TestServiceEmbedPropagatesErrorWithNoFallback(t *testing.T) {
	primary := &fakeGenerator{err: errors.New("provider down")}
	svc := NewService(primary, nil, newTestCache(t), "test-model", nil)

	_, err := svc.Embed(context.Background(), "some content", InputDocument)
	require.Error(t, err)
}

func TestServiceEmbedBatchMixesCacheHitsAndMisses(t *testing.T) {
	gen := &fakeGenerator{vec: constVec(3)}
	cache := newTestCache(t)
	svc := NewService(gen, nil, cache, "test-model", nil)

	_, err := svc.Embed(context.Background(), "already cached", InputDocument)
	require.NoError(t, err)
	gen.calls = 0

	vecs, err := svc.EmbedBatch(context.Background(), []string{"already cached", "brand new"}, InputDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, 1, gen.calls, "only the uncached text should hit the generator")
}

func TestLocalFallbackIsDeterministicAndUnitNorm(t *testing.T) {
	f := NewLocalFallback(64)
	v1, err := f.Generate(context.Background(), "func Add(a, b int) int", InputDocument)
	require.NoError(t, err)
	v2, err := f.Generate(context.Background(), "func Add(a, b int) int", InputDocument)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	var mag float64
	for _, x := range v1 {
		mag += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, mag, 1e-3)
}
