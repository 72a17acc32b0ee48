// Package config loads the immutable configuration consumed by every
// component. A Config value is built once (Load or Default) and
// injected into constructors; there is no ambient global access and no
// hot-reload.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors every recognised option from the service's configuration
// surface: vector store, graph store, embedding provider, cache, thresholds,
// search limits, sync, normalization, and project isolation.
type Config struct {
	// Vector store (Redis stands in for Qdrant; see SPEC_FULL.md §4.3).
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Graph store (Dgraph stands in for Neo4j; see SPEC_FULL.md §4.4).
	Neo4jURI               string
	Neo4jUser              string
	Neo4jPassword          string
	Neo4jDatabase          string
	Neo4jMaxConnectionPool int

	// Embedding provider.
	VoyageAPIKey   string
	VoyageModel    string
	VoyageBatchSize int

	// Embedding cache.
	EmbeddingCachePath string
	EmbeddingCacheSize int
	EmbeddingCacheTTL  time.Duration

	// Duplicate / conflict detection.
	DuplicateThreshold float64
	ConflictThreshold  float64

	// Search limits.
	SearchDefaultLimit int
	SearchMaxLimit     int
	GraphMaxDepth      int

	// Sync.
	SyncIntervalSeconds int
	SyncMaxRetries      int
	SyncRetryDelay      time.Duration

	// Normalization.
	NormalizationBatchSize  int
	SoftDeleteRetentionDays int

	// Ranking constants (Open Question iii: exposed, not hardcoded).
	CodeSearchAlpha float64
	HybridBeta      float64

	// Project isolation.
	ProjectID string

	// Fallback embedding.
	FallbackEmbeddingEnabled bool

	// Audit trail.
	AuditLogPath string
}

// Default returns the default value of every option.
func Default() *Config {
	return &Config{
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		Neo4jURI:               "bolt://localhost:7687",
		Neo4jUser:              "neo4j",
		Neo4jPassword:          "",
		Neo4jDatabase:          "neo4j",
		Neo4jMaxConnectionPool: 50,

		VoyageAPIKey:    "",
		VoyageModel:     "voyage-code-3",
		VoyageBatchSize: 128,

		EmbeddingCachePath: ".cache/embeddings.db",
		EmbeddingCacheSize: 10000,
		EmbeddingCacheTTL:  30 * 24 * time.Hour,

		DuplicateThreshold: 0.85,
		ConflictThreshold:  0.95,

		SearchDefaultLimit: 10,
		SearchMaxLimit:     100,
		GraphMaxDepth:      5,

		SyncIntervalSeconds: 300,
		SyncMaxRetries:      3,
		SyncRetryDelay:      60 * time.Second,

		NormalizationBatchSize:  1000,
		SoftDeleteRetentionDays: 30,

		CodeSearchAlpha: 0.7,
		HybridBeta:      0.6,

		ProjectID: "default",

		FallbackEmbeddingEnabled: false,

		AuditLogPath: ".cache/audit.db",
	}
}

// Load reads configuration from the environment (MEMCORE_-prefixed
// variables) and an optional config file, falling back to Default for any
// option left unset, then clamps thresholds to their documented bounds.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("memcore")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigName("memcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	cfg := Default()

	v.SetDefault("redis_host", cfg.RedisHost)
	v.SetDefault("redis_port", cfg.RedisPort)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("neo4j_uri", cfg.Neo4jURI)
	v.SetDefault("neo4j_user", cfg.Neo4jUser)
	v.SetDefault("neo4j_database", cfg.Neo4jDatabase)
	v.SetDefault("neo4j_max_connection_pool_size", cfg.Neo4jMaxConnectionPool)
	v.SetDefault("voyage_model", cfg.VoyageModel)
	v.SetDefault("voyage_batch_size", cfg.VoyageBatchSize)
	v.SetDefault("embedding_cache_path", cfg.EmbeddingCachePath)
	v.SetDefault("embedding_cache_size", cfg.EmbeddingCacheSize)
	v.SetDefault("duplicate_threshold", cfg.DuplicateThreshold)
	v.SetDefault("conflict_threshold", cfg.ConflictThreshold)
	v.SetDefault("search_default_limit", cfg.SearchDefaultLimit)
	v.SetDefault("search_max_limit", cfg.SearchMaxLimit)
	v.SetDefault("graph_max_depth", cfg.GraphMaxDepth)
	v.SetDefault("sync_interval_seconds", cfg.SyncIntervalSeconds)
	v.SetDefault("sync_max_retries", cfg.SyncMaxRetries)
	v.SetDefault("normalization_batch_size", cfg.NormalizationBatchSize)
	v.SetDefault("soft_delete_retention_days", cfg.SoftDeleteRetentionDays)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("embedding_cache_ttl_days", int(cfg.EmbeddingCacheTTL.Hours()/24))
	v.SetDefault("sync_retry_delay_seconds", int(cfg.SyncRetryDelay.Seconds()))
	v.SetDefault("code_search_alpha", cfg.CodeSearchAlpha)
	v.SetDefault("hybrid_beta", cfg.HybridBeta)
	v.SetDefault("fallback_embedding_enabled", cfg.FallbackEmbeddingEnabled)
	v.SetDefault("audit_log_path", cfg.AuditLogPath)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	cfg.RedisHost = v.GetString("redis_host")
	cfg.RedisPort = v.GetInt("redis_port")
	cfg.RedisPassword = v.GetString("redis_password")
	cfg.RedisDB = v.GetInt("redis_db")

	cfg.Neo4jURI = v.GetString("neo4j_uri")
	cfg.Neo4jUser = v.GetString("neo4j_user")
	cfg.Neo4jPassword = v.GetString("neo4j_password")
	cfg.Neo4jDatabase = v.GetString("neo4j_database")
	cfg.Neo4jMaxConnectionPool = v.GetInt("neo4j_max_connection_pool_size")

	cfg.VoyageAPIKey = v.GetString("voyage_api_key")
	cfg.VoyageModel = v.GetString("voyage_model")
	cfg.VoyageBatchSize = v.GetInt("voyage_batch_size")

	cfg.EmbeddingCachePath = v.GetString("embedding_cache_path")
	cfg.EmbeddingCacheSize = v.GetInt("embedding_cache_size")

	cfg.DuplicateThreshold = clamp(v.GetFloat64("duplicate_threshold"), 0.70, 0.95)
	cfg.ConflictThreshold = clamp(v.GetFloat64("conflict_threshold"), 0.90, 1.0)

	cfg.SearchDefaultLimit = v.GetInt("search_default_limit")
	cfg.SearchMaxLimit = v.GetInt("search_max_limit")
	cfg.GraphMaxDepth = v.GetInt("graph_max_depth")

	cfg.SyncIntervalSeconds = v.GetInt("sync_interval_seconds")
	cfg.SyncMaxRetries = v.GetInt("sync_max_retries")

	cfg.NormalizationBatchSize = v.GetInt("normalization_batch_size")
	cfg.SoftDeleteRetentionDays = v.GetInt("soft_delete_retention_days")

	cfg.ProjectID = v.GetString("project_id")

	cfg.EmbeddingCacheTTL = time.Duration(v.GetInt("embedding_cache_ttl_days")) * 24 * time.Hour
	cfg.SyncRetryDelay = time.Duration(v.GetInt("sync_retry_delay_seconds")) * time.Second
	cfg.CodeSearchAlpha = v.GetFloat64("code_search_alpha")
	cfg.HybridBeta = v.GetFloat64("hybrid_beta")
	cfg.FallbackEmbeddingEnabled = v.GetBool("fallback_embedding_enabled")
	cfg.AuditLogPath = v.GetString("audit_log_path")

	return cfg, nil
}

func clamp(v, lo, hi float64) float64 {
	if v == 0 {
		return lo // unset float defaults to 0 from viper; callers set real defaults above
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
