package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/memcore/memcore/internal/contenthash"
	"github.com/memcore/memcore/internal/embedcache"
	"github.com/memcore/memcore/internal/metrics"
	"github.com/memcore/memcore/internal/models"
)

// Service is the embedding component (C2): content-hash cache in front of a
// primary Generator, with an optional LocalFallback used when the primary
// is exhausted and fallback is enabled.
type Service struct {
	primary  Generator
	fallback Generator
	cache    *embedcache.Cache
	model    string
	log      *zap.Logger
}

// NewService wires a primary generator, an optional fallback (nil disables
// it), and the shared embedding cache.
func NewService(primary Generator, fallback Generator, cache *embedcache.Cache, model string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, cache: cache, model: model, log: log}
}

// Embed returns the embedding for content, normalizing it first so
// whitespace-only edits hit the cache, honoring kind (document vs query).
func (s *Service) Embed(ctx context.Context, content string, kind InputType) ([]float32, error) {
	normalized := contenthash.Normalize(content)
	key := embedcache.Key(s.model, normalized)

	if s.cache != nil {
		if vec, ok := s.cache.Get(key); ok {
			metrics.EmbeddingCacheHits.Inc()
			return vec, nil
		}
	}
	metrics.EmbeddingCacheMisses.Inc()

	start := time.Now()
	vec, err := s.primary.Generate(ctx, normalized, kind)
	metrics.EmbeddingRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if s.fallback == nil {
			return nil, err
		}
		s.log.Warn("embedding_primary_failed_using_fallback", zap.Error(err))
		vec, err = s.fallback.Generate(ctx, normalized, kind)
		if err != nil {
			return nil, fmt.Errorf("embedding: fallback also failed: %w", err)
		}
	}

	if len(vec) != models.EmbeddingDimensions {
		return nil, fmt.Errorf("embedding: got %d dimensions, want %d", len(vec), models.EmbeddingDimensions)
	}

	if s.cache != nil {
		if err := s.cache.Put(key, vec); err != nil {
			s.log.Warn("embedding_cache_put_failed", zap.Error(err))
		}
	}

	return vec, nil
}

// EmbedBatch embeds multiple content strings, fetching uncached entries from
// the primary generator in a single batch call and back-filling the cache.
// Ordering of the returned slice matches contents.
func (s *Service) EmbedBatch(ctx context.Context, contents []string, kind InputType) ([][]float32, error) {
	out := make([][]float32, len(contents))
	var missIdx []int
	var missTexts []string

	normalized := make([]string, len(contents))
	for i, c := range contents {
		normalized[i] = contenthash.Normalize(c)
		key := embedcache.Key(s.model, normalized[i])
		if s.cache != nil {
			if vec, ok := s.cache.Get(key); ok {
				metrics.EmbeddingCacheHits.Inc()
				out[i] = vec
				continue
			}
		}
		metrics.EmbeddingCacheMisses.Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, normalized[i])
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	start := time.Now()
	vecs, err := s.primary.GenerateBatch(ctx, missTexts, kind)
	metrics.EmbeddingRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if s.fallback == nil {
			return nil, err
		}
		s.log.Warn("embedding_batch_primary_failed_using_fallback", zap.Error(err))
		vecs, err = s.fallback.GenerateBatch(ctx, missTexts, kind)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch fallback also failed: %w", err)
		}
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}

	for j, idx := range missIdx {
		vec := vecs[j]
		if len(vec) != models.EmbeddingDimensions {
			return nil, fmt.Errorf("embedding: got %d dimensions, want %d", len(vec), models.EmbeddingDimensions)
		}
		out[idx] = vec
		if s.cache != nil {
			key := embedcache.Key(s.model, normalized[idx])
			if err := s.cache.Put(key, vec); err != nil {
				s.log.Warn("embedding_cache_put_failed", zap.Error(err))
			}
		}
	}

	return out, nil
}

// Dimensions returns the embedding dimensionality of the primary generator.
func (s *Service) Dimensions() int {
	return s.primary.Dimensions()
}
