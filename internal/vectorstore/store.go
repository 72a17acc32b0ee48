// Package vectorstore adapts a RediSearch-capable Redis deployment into the
// vector store component (C3): per-variant collections of content + vector +
// filterable payload, queried by cosine-similarity KNN. The interface is
// shaped so a real Qdrant client could satisfy it without touching any
// caller; Redis is this repository's stand-in.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-redis/redis/v8"

	"github.com/memcore/memcore/internal/errs"
	"github.com/memcore/memcore/internal/models"
)

// Filter constrains a Search call to payload fields. Supported operators:
// equality (single value), set membership (multiple values), and numeric
// range via Min/Max. Exactly one of Values or {Min,Max} should be set.
type Filter struct {
	Field  string
	Values []string
	Min    *float64
	Max    *float64
}

// SearchOptions configures a similarity search.
type SearchOptions struct {
	Variant     models.Variant
	Vector      []float32
	Limit       int
	MinScore    float64 // similarity floor, not distance
	Filters     []Filter
	ExcludeID   string // self-exclusion, used by conflict checks on update
}

// ScoredMemory pairs a stored memory with its similarity score against the
// query vector in a Search call.
type ScoredMemory struct {
	Memory *models.Memory
	Score  float64
}

// Store is the vector store adapter contract.
type Store interface {
	EnsureCollection(ctx context.Context, variant models.Variant) error
	Upsert(ctx context.Context, m *models.Memory) error
	Get(ctx context.Context, variant models.Variant, id string) (*models.Memory, error)
	Search(ctx context.Context, opts SearchOptions) ([]ScoredMemory, error)
	UpdatePayload(ctx context.Context, variant models.Variant, id string, fn func(*models.Memory)) error
	Delete(ctx context.Context, variant models.Variant, id string) error
	Count(ctx context.Context, variant models.Variant) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// RedisStore is the Redis/RediSearch-backed Store implementation.
type RedisStore struct {
	client     *redis.Client
	dimensions int
	projectID  string
}

// NewRedisStore dials addr and verifies connectivity. projectID scopes every
// index name and key prefix this store touches, so multiple projects can
// share one Redis deployment without colliding.
func NewRedisStore(ctx context.Context, addr, password string, db, dimensions int, projectID string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", errs.ErrStoreUnavailable, err)
	}
	if projectID == "" {
		projectID = "default"
	}
	return &RedisStore{client: client, dimensions: dimensions, projectID: projectID}, nil
}

func (s *RedisStore) indexName(variant models.Variant) string {
	return fmt.Sprintf("memcore:%s:%s:idx", s.projectID, variant)
}

func (s *RedisStore) keyPrefix(variant models.Variant) string {
	return fmt.Sprintf("memcore:%s:%s:", s.projectID, variant)
}

func (s *RedisStore) memoryKey(variant models.Variant, id string) string {
	return s.keyPrefix(variant) + id
}

// EnsureCollection creates the RediSearch index for variant if absent.
func (s *RedisStore) EnsureCollection(ctx context.Context, variant models.Variant) error {
	_, err := s.client.Do(ctx, "FT.INFO", s.indexName(variant)).Result()
	if err == nil {
		return nil
	}

	args := []interface{}{
		"FT.CREATE", s.indexName(variant),
		"ON", "HASH",
		"PREFIX", "1", s.keyPrefix(variant),
		"SCHEMA",
		"content", "TEXT",
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", s.dimensions,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
		"created_at", "NUMERIC", "SORTABLE",
		"importance_score", "NUMERIC", "SORTABLE",
		"deleted", "TAG",
		"project_id", "TAG",
	}
	if err := s.client.Do(ctx, args...).Err(); err != nil {
		return fmt.Errorf("%w: create index: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// record is the flattened payload stored in the Redis hash alongside the
// raw vector bytes. The full Memory (including Attrs) round-trips through
// JSON so variant-specific fields survive without a schema migration.
type record struct {
	Memory json.RawMessage `json:"memory"`
}

// Upsert writes or overwrites the hash for m.
func (s *RedisStore) Upsert(ctx context.Context, m *models.Memory) error {
	if len(m.Embedding) != s.dimensions {
		return fmt.Errorf("%w: embedding has %d dims, want %d", errs.ErrValidation, len(m.Embedding), s.dimensions)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal memory: %w", err)
	}
	vecBytes := serializeVector(m.Embedding)

	deletedTag := "false"
	if m.Deleted {
		deletedTag = "true"
	}

	err = s.client.HSet(ctx, s.memoryKey(m.Variant, m.ID.String()), map[string]interface{}{
		"content":          m.Content,
		"embedding":        vecBytes,
		"created_at":       m.CreatedAt.Unix(),
		"importance_score": m.ImportanceScore,
		"deleted":          deletedTag,
		"project_id":       s.projectID,
		"payload":          string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: hset: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// Get fetches a single memory by id.
func (s *RedisStore) Get(ctx context.Context, variant models.Variant, id string) (*models.Memory, error) {
	raw, err := s.client.HGet(ctx, s.memoryKey(variant, id), "payload").Result()
	if err == redis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: hget: %v", errs.ErrStoreUnavailable, err)
	}
	var m models.Memory
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("vectorstore: unmarshal memory: %w", err)
	}
	return &m, nil
}

// Search runs a KNN query, applying payload filters and the similarity
// floor after scoring (RediSearch range pre-filters on tags/numerics are
// pushed into the query string; floating score threshold is enforced
// client-side since FT.SEARCH KNN does not support a post-score cutoff).
func (s *RedisStore) Search(ctx context.Context, opts SearchOptions) ([]ScoredMemory, error) {
	if len(opts.Vector) != s.dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dims, want %d", errs.ErrValidation, len(opts.Vector), s.dimensions)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	// Over-fetch since RediSearch KNN ranks by distance not our cosine
	// floor, and we may drop the excluded/self id or below-floor hits.
	k := limit * 3
	if k < 50 {
		k = 50
	}

	query := buildFilterQuery(opts.Filters)
	vecBytes := serializeVector(opts.Vector)

	args := []interface{}{
		"FT.SEARCH", s.indexName(opts.Variant),
		fmt.Sprintf("%s=>[KNN %d @embedding $query_vec]", query, k),
		"PARAMS", "2", "query_vec", vecBytes,
		"DIALECT", "2",
		"RETURN", "2", "payload", "__embedding_score",
		"LIMIT", "0", k,
	}

	res, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: ft.search: %v", errs.ErrStoreUnavailable, err)
	}

	rows, err := parseSearchRows(res)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredMemory, 0, len(rows))
	for _, row := range rows {
		var m models.Memory
		if err := json.Unmarshal([]byte(row.payload), &m); err != nil {
			continue
		}
		if m.Deleted {
			continue
		}
		if opts.ExcludeID != "" && m.ID.String() == opts.ExcludeID {
			continue
		}
		score := 1 - row.distance // RediSearch COSINE DISTANCE in [0,2] -> similarity in [-1,1]
		if score < opts.MinScore {
			continue
		}
		out = append(out, ScoredMemory{Memory: &m, Score: score})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// UpdatePayload reads, mutates, and rewrites a memory's stored payload.
func (s *RedisStore) UpdatePayload(ctx context.Context, variant models.Variant, id string, fn func(*models.Memory)) error {
	m, err := s.Get(ctx, variant, id)
	if err != nil {
		return err
	}
	fn(m)
	return s.Upsert(ctx, m)
}

// Delete removes the hash for id. Soft delete is modeled by UpdatePayload
// setting Deleted/DeletedAt; Delete performs the hard removal.
func (s *RedisStore) Delete(ctx context.Context, variant models.Variant, id string) error {
	if err := s.client.Del(ctx, s.memoryKey(variant, id)).Err(); err != nil {
		return fmt.Errorf("%w: del: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// Count scans key prefixes for variant. Used by the normalizer snapshot
// phase; not on any hot path.
func (s *RedisStore) Count(ctx context.Context, variant models.Variant) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, s.keyPrefix(variant)+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("%w: scan: %v", errs.ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func buildFilterQuery(filters []Filter) string {
	if len(filters) == 0 {
		return "*"
	}
	q := ""
	for _, f := range filters {
		switch {
		case f.Min != nil || f.Max != nil:
			lo, hi := "-inf", "+inf"
			if f.Min != nil {
				lo = fmt.Sprintf("%v", *f.Min)
			}
			if f.Max != nil {
				hi = fmt.Sprintf("%v", *f.Max)
			}
			q += fmt.Sprintf("@%s:[%s %s] ", f.Field, lo, hi)
		case len(f.Values) > 0:
			q += fmt.Sprintf("@%s:{%s} ", f.Field, joinTags(f.Values))
		}
	}
	if q == "" {
		return "*"
	}
	return q
}

func joinTags(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += "|"
		}
		out += v
	}
	return out
}

type searchRow struct {
	payload  string
	distance float64
}

func parseSearchRows(result interface{}) ([]searchRow, error) {
	results, ok := result.([]interface{})
	if !ok || len(results) < 2 {
		return nil, nil
	}

	var rows []searchRow
	for i := 1; i < len(results); i++ {
		doc, ok := results[i].([]interface{})
		if !ok || len(doc) < 2 {
			continue
		}
		fields, ok := doc[1].([]interface{})
		if !ok {
			continue
		}

		var row searchRow
		for j := 0; j+1 < len(fields); j += 2 {
			switch fmt.Sprint(fields[j]) {
			case "payload":
				row.payload = fmt.Sprint(fields[j+1])
			case "__embedding_score":
				fmt.Sscanf(fmt.Sprint(fields[j+1]), "%f", &row.distance)
			}
		}
		if row.payload != "" {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func serializeVector(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		bits := *(*uint32)(unsafe.Pointer(&v))
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, used by in-process fallbacks (e.g. the normalizer's
// deduplication pass, which recomputes similarity across a batch already
// held in memory instead of issuing per-pair KNN queries).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
