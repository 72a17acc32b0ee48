package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/memcore/memcore/internal/audit"
	"github.com/memcore/memcore/internal/config"
	"github.com/memcore/memcore/internal/embedcache"
	"github.com/memcore/memcore/internal/embedding"
	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/logging"
	"github.com/memcore/memcore/internal/memmanager"
	"github.com/memcore/memcore/internal/metrics"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/normalizer"
	"github.com/memcore/memcore/internal/parser"
	"github.com/memcore/memcore/internal/query"
	syncmgr "github.com/memcore/memcore/internal/sync"
	"github.com/memcore/memcore/internal/vectorstore"
)

// app is the wired composition of every component, built once per process
// invocation and torn down in reverse construction order on shutdown.
type app struct {
	cfg *config.Config
	log *zap.Logger

	cache   *embedcache.Cache
	vectors vectorstore.Store
	graph   graphstore.Store
	sync    *syncmgr.Manager
	audit   *audit.Log

	embedder *embedding.Service
	manager  *memmanager.Manager
	query    *query.Engine
	norm     *normalizer.Normalizer
	parser   *parser.Orchestrator
}

// buildApp wires config through stores, embedding, sync, and the three
// higher-level components, in the dependency order SPEC_FULL.md's system
// overview describes. On any failure, everything already opened is closed
// before the error is returned.
func buildApp(ctx context.Context, debug bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(debug)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics.Register()

	a := &app{cfg: cfg, log: log}

	a.cache, err = embedcache.Open(cfg.EmbeddingCachePath, cfg.EmbeddingCacheSize, cfg.EmbeddingCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	a.vectors, err = vectorstore.NewRedisStore(ctx, fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort), cfg.RedisPassword, cfg.RedisDB, models.EmbeddingDimensions, cfg.ProjectID)
	if err != nil {
		a.cache.Close()
		return nil, fmt.Errorf("connect vector store: %w", err)
	}
	for _, v := range models.Variants {
		if err := a.vectors.EnsureCollection(ctx, v); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure collection %s: %w", v, err)
		}
	}

	a.graph, err = graphstore.NewDgraphStore(ctx, cfg.Neo4jURI, cfg.ProjectID)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect graph store: %w", err)
	}

	a.sync, err = syncmgr.NewManager(a.vectors, a.graph, cfg.EmbeddingCachePath+".sync", time.Duration(cfg.SyncIntervalSeconds)*time.Second, cfg.SyncMaxRetries, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build sync manager: %w", err)
	}

	primary := embedding.NewVoyageClient(cfg.VoyageAPIKey, cfg.VoyageModel, models.EmbeddingDimensions, float64(cfg.VoyageBatchSize)/10)
	var fallback embedding.Generator
	if cfg.FallbackEmbeddingEnabled {
		fallback = embedding.NewLocalFallback(models.EmbeddingDimensions)
	}
	a.embedder = embedding.NewService(primary, fallback, a.cache, cfg.VoyageModel, log)

	a.audit, err = audit.Open(cfg.AuditLogPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a.manager = memmanager.New(a.embedder, a.sync, a.vectors, a.graph, cfg.DuplicateThreshold, cfg.ConflictThreshold, log, a.audit)
	a.query = query.New(a.vectors, a.graph, a.embedder, cfg.SearchDefaultLimit, cfg.SearchMaxLimit, cfg.GraphMaxDepth, cfg.CodeSearchAlpha, cfg.HybridBeta)
	a.norm = normalizer.New(a.vectors, a.graph, cfg.NormalizationBatchSize, cfg.SoftDeleteRetentionDays, cfg.DuplicateThreshold, log)

	a.parser = parser.NewOrchestrator(log)
	a.parser.RegisterExtractor(parser.NewGoExtractor())

	return a, nil
}

// Close releases every opened resource in reverse construction order. It
// collects rather than stops at the first error so a partially-built app
// still releases everything it holds.
func (a *app) Close() error {
	var errs []error
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sync != nil {
		if err := a.sync.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.graph != nil {
		if err := a.graph.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("shutdown errors: %v", errs)
}
